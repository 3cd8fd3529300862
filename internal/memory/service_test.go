package memory

import (
	"path/filepath"
	"testing"

	"github.com/murphys7017/mk2/internal/observation"
)

func testService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestAppendEventAndRecent(t *testing.T) {
	svc := testService(t)

	obs := observation.NewMessage("text_input", "dm:alice", "alice", "hello")
	eventID, err := svc.AppendEvent(obs)
	if err != nil {
		t.Fatal(err)
	}
	if eventID == "" {
		t.Fatal("expected event id")
	}

	events, err := svc.RecentEvents("dm:alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].ObsID != obs.ObsID || events[0].ObsType != "message" {
		t.Errorf("unexpected record: %+v", events[0])
	}
}

func TestTurnLifecycle(t *testing.T) {
	svc := testService(t)

	obs := observation.NewMessage("text_input", "dm:alice", "alice", "hello")
	eventID, err := svc.AppendEvent(obs)
	if err != nil {
		t.Fatal(err)
	}

	turnID, err := svc.StartTurn("dm:alice", eventID, "")
	if err != nil {
		t.Fatal(err)
	}
	if turnID == "" {
		t.Fatal("expected turn id")
	}
	if err := svc.FinishTurn(turnID, TurnOK, "", "obs-123"); err != nil {
		t.Fatal(err)
	}
}

func TestFinishTurnRejectsBadStatus(t *testing.T) {
	svc := testService(t)
	if err := svc.FinishTurn("t1", "done", "", ""); err == nil {
		t.Fatal("expected status validation error")
	}
}
