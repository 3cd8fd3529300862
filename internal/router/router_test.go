package router

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/murphys7017/mk2/internal/bus"
	"github.com/murphys7017/mk2/internal/observation"
)

func TestResolveSessionKey(t *testing.T) {
	r := New(bus.NewInputBus(10), 16, "system")

	withKey := observation.NewMessage("text_input", "room:42", "alice", "hi")
	if got := r.ResolveSessionKey(withKey); got != "room:42" {
		t.Errorf("explicit key: got %q", got)
	}

	userMsg := observation.NewMessage("text_input", "", "alice", "hi")
	if got := r.ResolveSessionKey(userMsg); got != "dm:alice" {
		t.Errorf("user message: got %q, want dm:alice", got)
	}

	alert := observation.New(observation.TypeAlert, "adapter:x", observation.SourceInternal)
	alert.Payload.Alert = &observation.AlertPayload{AlertType: "pain", Severity: observation.SeverityLow}
	if got := r.ResolveSessionKey(alert); got != "system" {
		t.Errorf("alert: got %q, want system", got)
	}

	world := observation.New(observation.TypeWorldData, "feed", observation.SourceExternal)
	world.Payload.WorldData = &observation.WorldDataPayload{SchemaID: "w1"}
	if got := r.ResolveSessionKey(world); got != UnknownSessionKey {
		t.Errorf("world data: got %q, want %q", got, UnknownSessionKey)
	}
}

func TestRunRoutesFIFOPerSession(t *testing.T) {
	b := bus.NewInputBus(100)
	r := New(b, 16, "system")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	for i := 0; i < 5; i++ {
		b.PublishNowait(observation.NewMessage("text_input", "", "alice", fmt.Sprintf("a%d", i)))
		b.PublishNowait(observation.NewMessage("text_input", "", "bob", fmt.Sprintf("b%d", i)))
	}

	inbox := r.GetInbox("dm:alice")
	deadline, cancelGet := context.WithTimeout(ctx, time.Second)
	defer cancelGet()
	for i := 0; i < 5; i++ {
		obs, err := inbox.Get(deadline)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if want := fmt.Sprintf("a%d", i); obs.Text() != want {
			t.Errorf("expected %q, got %q", want, obs.Text())
		}
	}
}

func TestInboxDropNewestWhenFull(t *testing.T) {
	b := bus.NewInputBus(10)
	r := New(b, 2, "system")
	inbox := r.GetInbox("dm:alice")

	for i := 0; i < 3; i++ {
		inbox.PutNowait(observation.NewMessage("text_input", "dm:alice", "alice", fmt.Sprintf("m%d", i)))
	}
	stats := inbox.Stats()
	if stats.Enqueued != 2 || stats.Dropped != 1 {
		t.Errorf("stats = %+v, want enqueued 2 dropped 1", stats)
	}
}

func TestListAndRemoveSessions(t *testing.T) {
	r := New(bus.NewInputBus(10), 16, "system")
	r.GetInbox("dm:bob")
	r.GetInbox("dm:alice")

	keys := r.ListActiveSessions()
	if len(keys) != 2 || keys[0] != "dm:alice" || keys[1] != "dm:bob" {
		t.Fatalf("unexpected session list: %v", keys)
	}

	r.RemoveSession("dm:alice")
	keys = r.ListActiveSessions()
	if len(keys) != 1 || keys[0] != "dm:bob" {
		t.Fatalf("after remove: %v", keys)
	}
}
