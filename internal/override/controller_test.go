package override

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestController(t *testing.T, p Prompter) (*Controller, *Gate, *Queue, *bytes.Buffer) {
	t.Helper()
	g := NewGate()
	q := NewQueue()
	var out bytes.Buffer
	c, err := NewController(ControllerOpts{Gate: g, Queue: q, Prompter: p, Out: &out})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c, g, q, &out
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("input loop did not exit")
	}
}

func drainTexts(q *Queue) []string {
	var texts []string
	for {
		d, ok := q.TryDequeue()
		if !ok {
			return texts
		}
		texts = append(texts, d.Text)
	}
}

func TestNewController_Validation(t *testing.T) {
	if _, err := NewController(ControllerOpts{Queue: NewQueue()}); err == nil {
		t.Error("expected error without gate")
	}
	if _, err := NewController(ControllerOpts{Gate: NewGate()}); err == nil {
		t.Error("expected error without queue")
	}
}

func TestController_Unavailable(t *testing.T) {
	c, g, _, _ := newTestController(t, nil)
	if c.Available() {
		t.Error("controller without prompter should be unavailable")
	}
	if err := c.Activate("C1"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Activate = %v, want ErrUnavailable", err)
	}
	if g.IsActive() {
		t.Error("gate must stay inactive")
	}

	p := NewScriptedPrompter()
	p.SetAvailable(false)
	c, _, _, _ = newTestController(t, p)
	if err := c.Activate("C1"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Activate = %v, want ErrUnavailable", err)
	}
}

func TestController_QueuesUntilStop(t *testing.T) {
	p := NewScriptedPrompter("hello team", "", "  STOP  ", "never sent")
	c, g, q, out := newTestController(t, p)

	if err := c.Activate("C1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if c.State() != StateActivating {
		t.Errorf("State = %s, want activating", c.State())
	}
	waitDone(t, c.Start(context.Background(), "C1"))

	if got := drainTexts(q); len(got) != 1 || got[0] != "hello team" {
		t.Errorf("queued = %q, want [hello team]", got)
	}
	if p.Prompts() != 3 {
		t.Errorf("prompts = %d, want 3", p.Prompts())
	}
	if g.IsActive() {
		t.Error("stop should release the gate")
	}
	if c.State() != StateDeactivated {
		t.Errorf("State = %s, want deactivated", c.State())
	}
	if !strings.Contains(out.String(), "Manual mode ended for channel C1") {
		t.Errorf("out = %q", out.String())
	}
}

func TestController_CancelExits(t *testing.T) {
	p := NewScriptedPrompter("one")
	p.Add(Response{Cancel: true})
	c, g, q, _ := newTestController(t, p)

	c.Activate("C1")
	waitDone(t, c.Start(context.Background(), "C1"))

	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
	if g.IsActive() {
		t.Error("cancel should release the gate")
	}
}

func TestController_PromptErrorExits(t *testing.T) {
	p := NewScriptedPrompter()
	p.Add(Response{Err: errors.New("tty gone")})
	c, g, _, _ := newTestController(t, p)

	c.Activate("C1")
	waitDone(t, c.Start(context.Background(), "C1"))
	if g.IsActive() {
		t.Error("prompt error should release the gate")
	}
}

func TestController_AlreadyActive(t *testing.T) {
	p := NewScriptedPrompter()
	c, _, _, _ := newTestController(t, p)

	if err := c.Activate("C1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	err := c.Activate("C2")
	var active *AlreadyActiveError
	if !errors.As(err, &active) {
		t.Fatalf("Activate = %v, want *AlreadyActiveError", err)
	}
	if active.Channel != "C1" {
		t.Errorf("Channel = %q, want C1", active.Channel)
	}
}

func TestController_ExternalDeactivation(t *testing.T) {
	p := NewScriptedPrompter("first", "typed during shutdown", "unreachable")
	c, g, q, _ := newTestController(t, p)

	// While the operator types the second line, the session is cleared
	// externally and another channel claims the gate.
	p.BeforeAnswer = func(n int) {
		if n == 1 {
			g.Deactivate()
			g.TryActivate("C2")
		}
	}

	c.Activate("C1")
	waitDone(t, c.Start(context.Background(), "C1"))

	if p.Prompts() != 2 {
		t.Errorf("prompts = %d, want 2", p.Prompts())
	}
	if got := drainTexts(q); len(got) != 2 {
		t.Errorf("queued = %q, want both typed lines", got)
	}
	if !g.IsActiveFor("C2") {
		t.Error("exiting loop must not clear another channel's session")
	}
}

func TestController_ContextCancelUnblocksPrompt(t *testing.T) {
	p := NewScriptedPrompter()
	c, g, _, _ := newTestController(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	c.Activate("C1")
	done := c.Start(ctx, "C1")
	cancel()
	waitDone(t, done)

	if g.IsActive() {
		t.Error("gate should be released after cancel")
	}
}

func TestController_ReactivateAfterStop(t *testing.T) {
	p := NewScriptedPrompter("stop")
	c, g, _, _ := newTestController(t, p)

	c.Activate("C1")
	waitDone(t, c.Start(context.Background(), "C1"))

	p.Add(Response{Text: "stop"})
	if err := c.Activate("C2"); err != nil {
		t.Fatalf("Activate after stop: %v", err)
	}
	if !g.IsActiveFor("C2") {
		t.Error("C2 should own the gate")
	}
	waitDone(t, c.Start(context.Background(), "C2"))
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:        "idle",
		StateActivating:  "activating",
		StateLooping:     "looping",
		StateDeactivated: "deactivated",
		State(9):         "state(9)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("String() = %q, want %q", s.String(), want)
		}
	}
}
