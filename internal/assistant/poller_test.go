package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClock advances instantly whenever After is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// listOverride wraps MockBackend and replaces ListMessages output. The
// function receives the ID of the run created through this backend.
type listOverride struct {
	*MockBackend
	mu    sync.Mutex
	runID string
	list  func(runID string) []Message
}

func (l *listOverride) CreateRun(ctx context.Context, conversationID string) (Run, error) {
	run, err := l.MockBackend.CreateRun(ctx, conversationID)
	l.mu.Lock()
	l.runID = run.ID
	l.mu.Unlock()
	return run, err
}

func (l *listOverride) ListMessages(ctx context.Context, conversationID string, order Order) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list(l.runID), nil
}

func newTestPoller(t *testing.T, b Backend, clock Clock) *Poller {
	t.Helper()
	p, err := NewPoller(PollerOpts{
		Backend:      b,
		Clock:        clock,
		Cadence:      time.Second,
		RetryBackoff: 3 * time.Second,
		Timeout:      10 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	return p
}

func newConversation(t *testing.T, b Backend) string {
	t.Helper()
	id, err := b.CreateConversation(context.Background())
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return id
}

func TestNewPoller_RequiresBackend(t *testing.T) {
	_, err := NewPoller(PollerOpts{})
	if err == nil {
		t.Fatal("expected error for nil backend")
	}
	if !strings.Contains(err.Error(), "backend is required") {
		t.Errorf("error = %q, want backend is required", err.Error())
	}
}

func TestNewPoller_Defaults(t *testing.T) {
	p, err := NewPoller(PollerOpts{Backend: NewMockBackend()})
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	if p.cadence != DefaultCadence || p.retryBackoff != DefaultRetryBackoff || p.timeout != DefaultTimeout {
		t.Errorf("defaults = %v/%v/%v", p.cadence, p.retryBackoff, p.timeout)
	}
	if p.clock != SystemClock {
		t.Error("expected SystemClock default")
	}
}

func TestExecute_QueuedInProgressCompleted(t *testing.T) {
	b := NewMockBackend()
	b.SetRunScript(StatusQueued, StatusInProgress, StatusCompleted)
	b.QueueReply("2 + 2 = 4")
	clock := newFakeClock()
	p := newTestPoller(t, b, clock)
	conv := newConversation(t, b)

	res, err := p.Execute(context.Background(), conv, "what is 2+2", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != OutcomeText {
		t.Fatalf("Outcome = %v, want text", res.Outcome)
	}
	if !res.Found {
		t.Error("Found = false, want true")
	}
	if res.Text != "2 + 2 = 4" {
		t.Errorf("Text = %q, want %q", res.Text, "2 + 2 = 4")
	}
	if got := b.Calls(OpGetRun); got != 2 {
		t.Errorf("GetRun calls = %d, want 2", got)
	}
	if got := b.Calls(OpCancelRun); got != 0 {
		t.Errorf("CancelRun calls = %d, want 0", got)
	}

	msgs := b.Messages(conv)
	if len(msgs) != 2 || msgs[0].Role != RoleUser || msgs[0].Content[0].Text != "what is 2+2" {
		t.Errorf("conversation = %+v, want user prompt then reply", msgs)
	}

	for _, d := range clock.slept() {
		if d != time.Second {
			t.Errorf("slept %v, want cadence 1s", d)
		}
	}
}

func TestExecute_CompletedImmediately(t *testing.T) {
	b := NewMockBackend()
	clock := newFakeClock()
	p := newTestPoller(t, b, clock)
	conv := newConversation(t, b)

	res, err := p.Execute(context.Background(), conv, "hi", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != OutcomeText || res.Text != "ok" {
		t.Errorf("result = %+v, want text ok", res)
	}
	if len(clock.slept()) != 0 {
		t.Errorf("slept %v, want no polling", clock.slept())
	}
}

func TestExecute_TimesOutAndCancelsOnce(t *testing.T) {
	b := NewMockBackend()
	b.SetRunScript(StatusQueued)
	clock := newFakeClock()
	p := newTestPoller(t, b, clock)
	conv := newConversation(t, b)

	res, err := p.Execute(context.Background(), conv, "slow question", 5*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("Outcome = %v, want timed_out", res.Outcome)
	}
	if got := b.Calls(OpCancelRun); got != 1 {
		t.Errorf("CancelRun calls = %d, want exactly 1", got)
	}
	if res.RunID == "" {
		t.Error("RunID should be set on timeout")
	}
}

func TestExecute_TimeoutCancelFailureIsNotFatal(t *testing.T) {
	b := NewMockBackend()
	b.SetRunScript(StatusInProgress)
	b.FailNext(OpCancelRun, NewError(OpCancelRun, KindTransient, errors.New("connection reset")))
	p := newTestPoller(t, b, newFakeClock())
	conv := newConversation(t, b)

	res, err := p.Execute(context.Background(), conv, "q", 2*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != OutcomeTimedOut {
		t.Errorf("Outcome = %v, want timed_out", res.Outcome)
	}
	if got := b.Calls(OpCancelRun); got != 1 {
		t.Errorf("CancelRun calls = %d, want 1", got)
	}
}

func TestExecute_OnlyTextFromMatchingRun(t *testing.T) {
	inner := NewMockBackend()
	b := &listOverride{MockBackend: inner, list: func(runID string) []Message {
		return []Message{
			{ID: "m4", RunID: "run_other", Role: RoleAssistant, Content: []ContentBlock{{Type: "text", Text: "from another run"}}},
			{ID: "m3", RunID: runID, Role: RoleAssistant, Content: []ContentBlock{
				{Type: "text", Text: "first "},
				{Type: "image_file"},
				{Type: "text", Text: "second"},
			}},
			{ID: "m2", RunID: runID, Role: RoleAssistant, Content: []ContentBlock{{Type: "text", Text: "older reply"}}},
			{ID: "m1", Role: RoleUser, Content: []ContentBlock{{Type: "text", Text: "question"}}},
		}
	}}
	p := newTestPoller(t, b, newFakeClock())
	conv := newConversation(t, b)

	res, err := p.Execute(context.Background(), conv, "question", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Text != "first second" {
		t.Errorf("Text = %q, want %q", res.Text, "first second")
	}
}

func TestExecute_NoAssistantMessage(t *testing.T) {
	b := &listOverride{MockBackend: NewMockBackend(), list: func(runID string) []Message {
		return []Message{{ID: "m1", Role: RoleUser, RunID: runID}}
	}}
	p := newTestPoller(t, b, newFakeClock())
	conv := newConversation(t, b)

	res, err := p.Execute(context.Background(), conv, "q", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != OutcomeText {
		t.Fatalf("Outcome = %v, want text", res.Outcome)
	}
	if res.Found {
		t.Error("Found = true, want false")
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty", res.Text)
	}
}

func TestExecute_EmptyReply(t *testing.T) {
	b := NewMockBackend()
	b.QueueReply("")
	p := newTestPoller(t, b, newFakeClock())
	conv := newConversation(t, b)

	res, err := p.Execute(context.Background(), conv, "q", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Found || res.Text != "" {
		t.Errorf("result = %+v, want found with empty text", res)
	}
}

func TestExecute_FailedStatuses(t *testing.T) {
	for _, status := range []RunStatus{StatusFailed, StatusCancelled, StatusExpired, StatusRequiresAction} {
		t.Run(string(status), func(t *testing.T) {
			b := NewMockBackend()
			b.SetRunScript(StatusQueued, status)
			b.SetLastError("server_error", "something broke")
			p := newTestPoller(t, b, newFakeClock())
			conv := newConversation(t, b)

			res, err := p.Execute(context.Background(), conv, "q", 0)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.Outcome != OutcomeBackendError {
				t.Fatalf("Outcome = %v, want backend_error", res.Outcome)
			}
			if res.Status != status {
				t.Errorf("Status = %q, want %q", res.Status, status)
			}
			if res.Code != "server_error" || res.Message != "something broke" {
				t.Errorf("Code/Message = %q/%q", res.Code, res.Message)
			}
		})
	}
}

func TestExecute_UnknownStatus(t *testing.T) {
	b := NewMockBackend()
	b.SetRunScript(StatusQueued, RunStatus("incomplete"))
	p := newTestPoller(t, b, newFakeClock())
	conv := newConversation(t, b)

	res, err := p.Execute(context.Background(), conv, "q", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != OutcomeBackendError || res.Status != StatusUnknown {
		t.Fatalf("result = %+v, want backend_error/unknown", res)
	}
	if res.RawStatus != "incomplete" {
		t.Errorf("RawStatus = %q, want incomplete", res.RawStatus)
	}
}

func TestExecute_TransientPollErrorRetried(t *testing.T) {
	b := NewMockBackend()
	b.SetRunScript(StatusQueued, StatusCompleted)
	b.QueueReply("done")
	b.FailNext(OpGetRun, NewError(OpGetRun, KindTransient, errors.New("connection reset")))
	clock := newFakeClock()
	p := newTestPoller(t, b, clock)
	conv := newConversation(t, b)

	res, err := p.Execute(context.Background(), conv, "q", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != OutcomeText || res.Text != "done" {
		t.Fatalf("result = %+v, want text done", res)
	}
	if got := b.Calls(OpGetRun); got != 2 {
		t.Errorf("GetRun calls = %d, want 2", got)
	}

	var sawBackoff bool
	for _, d := range clock.slept() {
		if d == 3*time.Second {
			sawBackoff = true
		}
	}
	if !sawBackoff {
		t.Errorf("slept %v, want a 3s retry backoff", clock.slept())
	}
}

func TestExecute_RateLimitNotRetried(t *testing.T) {
	b := NewMockBackend()
	b.SetRunScript(StatusQueued, StatusCompleted)
	b.FailNext(OpGetRun, NewError(OpGetRun, KindRateLimited, errors.New("slow down")))
	p := newTestPoller(t, b, newFakeClock())
	conv := newConversation(t, b)

	res, err := p.Execute(context.Background(), conv, "q", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != OutcomeBackendError || res.Kind != KindRateLimited {
		t.Fatalf("result = %+v, want backend_error/rate_limited", res)
	}
	if got := b.Calls(OpGetRun); got != 1 {
		t.Errorf("GetRun calls = %d, want 1", got)
	}
}

func TestExecute_PollNotFound(t *testing.T) {
	b := NewMockBackend()
	b.SetRunScript(StatusQueued)
	b.FailNext(OpGetRun, NewError(OpGetRun, KindNotFound, errors.New("no such run")))
	p := newTestPoller(t, b, newFakeClock())
	conv := newConversation(t, b)

	res, err := p.Execute(context.Background(), conv, "q", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != OutcomeConversationMissing {
		t.Errorf("Outcome = %v, want conversation_missing", res.Outcome)
	}
}

func TestExecute_PostMessageToMissingConversation(t *testing.T) {
	b := NewMockBackend()
	p := newTestPoller(t, b, newFakeClock())
	conv := newConversation(t, b)
	b.Forget(conv)

	res, err := p.Execute(context.Background(), conv, "q", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != OutcomeConversationMissing {
		t.Errorf("Outcome = %v, want conversation_missing", res.Outcome)
	}
	if got := b.Calls(OpCreateRun); got != 0 {
		t.Errorf("CreateRun calls = %d, want 0", got)
	}
}

func TestExecute_AuthErrorOnCreateRun(t *testing.T) {
	b := NewMockBackend()
	b.FailNext(OpCreateRun, &Error{Op: OpCreateRun, Kind: KindAuth, StatusCode: 401, Err: errors.New("bad key")})
	p := newTestPoller(t, b, newFakeClock())
	conv := newConversation(t, b)

	res, err := p.Execute(context.Background(), conv, "q", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != OutcomeBackendError || res.Kind != KindAuth {
		t.Errorf("result = %+v, want backend_error/auth", res)
	}
}

func TestExecute_StatusRegressionIgnored(t *testing.T) {
	b := NewMockBackend()
	b.SetRunScript(StatusInProgress, StatusQueued, StatusCompleted)
	b.QueueReply("fine")
	p := newTestPoller(t, b, newFakeClock())
	conv := newConversation(t, b)

	res, err := p.Execute(context.Background(), conv, "q", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != OutcomeText || res.Text != "fine" {
		t.Errorf("result = %+v, want text fine", res)
	}
}

func TestExecute_ContextCancelled(t *testing.T) {
	b := NewMockBackend()
	b.SetRunScript(StatusQueued)
	p, err := NewPoller(PollerOpts{Backend: b, Cadence: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	conv := newConversation(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = p.Execute(ctx, conv, "q", 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestOutcome_String(t *testing.T) {
	tests := map[Outcome]string{
		OutcomeText:                "text",
		OutcomeBackendError:        "backend_error",
		OutcomeTimedOut:            "timed_out",
		OutcomeConversationMissing: "conversation_missing",
		Outcome(42):                "outcome(42)",
	}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(o), got, want)
		}
	}
}
