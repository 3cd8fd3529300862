package agent

import (
	"context"
	"testing"
	"time"

	"github.com/murphys7017/mk2/internal/gate"
	"github.com/murphys7017/mk2/internal/observation"
	"github.com/murphys7017/mk2/internal/provider"
	"github.com/murphys7017/mk2/internal/session"
)

func request(text string) *Request {
	obs := observation.NewMessage("text_input", "dm:alice", "alice", text)
	st := session.NewState("dm:alice")
	st.Record(obs)
	return &Request{
		Obs:          obs,
		Decision:     gate.Decision{Action: gate.ActionDeliver, Scene: gate.SceneDialogue},
		SessionState: st,
		Now:          time.Now().UTC(),
		Hint: gate.Hint{
			ModelTier: gate.TierLow,
			Budget:    gate.BudgetSpec{Level: "normal", TimeMs: 1500, MaxTokens: 128},
		},
	}
}

func TestEchoAgentRepliesAgentSourced(t *testing.T) {
	ag := NewEchoAgent()
	res, err := ag.Handle(context.Background(), request("hi there"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Emit) != 1 {
		t.Fatalf("emits = %d, want 1", len(res.Emit))
	}
	reply := res.Emit[0]
	if !reply.AgentSourced() {
		t.Errorf("reply source = %s, must carry agent prefix", reply.SourceName)
	}
	if reply.SessionKey != "dm:alice" {
		t.Errorf("reply session = %s", reply.SessionKey)
	}
	if reply.Text() != "hi there" {
		t.Errorf("reply text = %q", reply.Text())
	}
	if err := reply.Validate(); err != nil {
		t.Errorf("reply must validate: %v", err)
	}
}

type fakeProvider struct {
	reply    string
	lastReq  *provider.ChatRequest
	err      error
	deadline bool
}

func (f *fakeProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	f.lastReq = req
	if f.deadline {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &provider.ChatResponse{Content: f.reply}, nil
}

func (f *fakeProvider) DefaultModel() string { return "fake" }

func TestDialogueAgentBuildsContextAndReplies(t *testing.T) {
	fp := &fakeProvider{reply: "sure thing"}
	ag := NewDialogueAgent(fp)

	req := request("can you help?")
	res, err := ag.Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Emit) != 1 || res.Emit[0].Text() != "sure thing" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if fp.lastReq.MaxTokens != 128 {
		t.Errorf("max tokens = %d, want budget value", fp.lastReq.MaxTokens)
	}
	last := fp.lastReq.Messages[len(fp.lastReq.Messages)-1]
	if last.Role != "user" || last.Content != "can you help?" {
		t.Errorf("last message = %+v", last)
	}
}

func TestDialogueAgentHonorsTimeBudget(t *testing.T) {
	fp := &fakeProvider{deadline: true}
	ag := NewDialogueAgent(fp)

	req := request("slow question")
	req.Hint.Budget.TimeMs = 20

	start := time.Now()
	_, err := ag.Handle(context.Background(), req)
	if err == nil {
		t.Fatal("expected deadline error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("budget not enforced, took %v", elapsed)
	}
}

func TestDialogueAgentSkipsNonMessages(t *testing.T) {
	ag := NewDialogueAgent(&fakeProvider{reply: "x"})
	obs := observation.NewSchedule("timer_tick", "system", "tick", nil)
	res, err := ag.Handle(context.Background(), &Request{Obs: obs, Now: time.Now().UTC()})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Emit) != 0 {
		t.Errorf("emits = %d, want 0", len(res.Emit))
	}
}
