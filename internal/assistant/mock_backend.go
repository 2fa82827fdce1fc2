package assistant

import (
	"context"
	"fmt"
	"sync"
)

// MockBackend implements Backend in memory for testing. Runs follow a
// status script; when a run reaches completed the mock appends an
// assistant message carrying the next scripted reply.
type MockBackend struct {
	mu            sync.Mutex
	seq           int
	conversations map[string][]Message // oldest first
	runs          map[string]*mockRun
	script        []RunStatus
	replies       []string
	lastError     *RunError
	failures      map[string][]error
	calls         map[string]int
}

type mockRun struct {
	conversationID string
	statuses       []RunStatus // remaining statuses for GetRun
	current        RunStatus
	replied        bool
}

// NewMockBackend creates a MockBackend whose runs complete immediately
// with the reply "ok".
func NewMockBackend() *MockBackend {
	return &MockBackend{
		conversations: make(map[string][]Message),
		runs:          make(map[string]*mockRun),
		failures:      make(map[string][]error),
		calls:         make(map[string]int),
	}
}

// SetRunScript sets the statuses new runs move through: the first is
// returned by CreateRun, each later one by a GetRun call. The last status
// repeats.
func (m *MockBackend) SetRunScript(statuses ...RunStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append([]RunStatus(nil), statuses...)
}

// QueueReply adds reply text for the next completed run. With no queued
// replies runs answer "ok".
func (m *MockBackend) QueueReply(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, text)
}

// SetLastError sets the error reported on failed runs.
func (m *MockBackend) SetLastError(code, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastError = &RunError{Code: code, Message: message}
}

// FailNext makes the next call of op return err.
func (m *MockBackend) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// AddMessage appends a message to a conversation directly.
func (m *MockBackend) AddMessage(conversationID string, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conversationID] = append(m.conversations[conversationID], msg)
}

// Forget deletes a conversation, as if it expired on the backend.
func (m *MockBackend) Forget(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, conversationID)
}

// Calls returns how many times op was invoked.
func (m *MockBackend) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Messages returns a copy of a conversation's messages, oldest first.
func (m *MockBackend) Messages(conversationID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.conversations[conversationID]...)
}

// CreateConversation implements Backend.
func (m *MockBackend) CreateConversation(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCreateConversation); err != nil {
		return "", err
	}
	m.seq++
	id := fmt.Sprintf("thread_%d", m.seq)
	m.conversations[id] = nil
	return id, nil
}

// PostMessage implements Backend.
func (m *MockBackend) PostMessage(ctx context.Context, conversationID string, role Role, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpPostMessage); err != nil {
		return err
	}
	msgs, ok := m.conversations[conversationID]
	if !ok {
		return m.notFound(OpPostMessage, conversationID)
	}
	m.seq++
	m.conversations[conversationID] = append(msgs, Message{
		ID:      fmt.Sprintf("msg_%d", m.seq),
		Role:    role,
		Content: []ContentBlock{{Type: "text", Text: text}},
	})
	return nil
}

// CreateRun implements Backend.
func (m *MockBackend) CreateRun(ctx context.Context, conversationID string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCreateRun); err != nil {
		return Run{}, err
	}
	if _, ok := m.conversations[conversationID]; !ok {
		return Run{}, m.notFound(OpCreateRun, conversationID)
	}
	script := m.script
	if len(script) == 0 {
		script = []RunStatus{StatusCompleted}
	}
	m.seq++
	id := fmt.Sprintf("run_%d", m.seq)
	r := &mockRun{
		conversationID: conversationID,
		current:        script[0],
		statuses:       append([]RunStatus(nil), script[1:]...),
	}
	m.runs[id] = r
	m.settle(id, r)
	return m.snapshot(id, r), nil
}

// GetRun implements Backend.
func (m *MockBackend) GetRun(ctx context.Context, conversationID, runID string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetRun); err != nil {
		return Run{}, err
	}
	r, ok := m.runs[runID]
	if !ok || r.conversationID != conversationID {
		return Run{}, m.notFound(OpGetRun, runID)
	}
	if len(r.statuses) > 0 {
		r.current = r.statuses[0]
		r.statuses = r.statuses[1:]
	}
	m.settle(runID, r)
	return m.snapshot(runID, r), nil
}

// CancelRun implements Backend.
func (m *MockBackend) CancelRun(ctx context.Context, conversationID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCancelRun); err != nil {
		return err
	}
	r, ok := m.runs[runID]
	if !ok {
		return m.notFound(OpCancelRun, runID)
	}
	r.current = StatusCancelled
	r.statuses = nil
	return nil
}

// ListMessages implements Backend.
func (m *MockBackend) ListMessages(ctx context.Context, conversationID string, order Order) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpListMessages); err != nil {
		return nil, err
	}
	msgs, ok := m.conversations[conversationID]
	if !ok {
		return nil, m.notFound(OpListMessages, conversationID)
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	if order == OrderDesc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// enter records a call and pops any injected failure. Caller holds mu.
func (m *MockBackend) enter(op string) error {
	m.calls[op]++
	if errs := m.failures[op]; len(errs) > 0 {
		m.failures[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (m *MockBackend) notFound(op, id string) error {
	return &Error{Op: op, Kind: KindNotFound, StatusCode: 404, Err: fmt.Errorf("no such object: %s", id)}
}

// settle appends the assistant reply once a run completes. Caller holds mu.
func (m *MockBackend) settle(runID string, r *mockRun) {
	if r.current != StatusCompleted || r.replied {
		return
	}
	r.replied = true
	reply := "ok"
	if len(m.replies) > 0 {
		reply = m.replies[0]
		m.replies = m.replies[1:]
	}
	m.seq++
	m.conversations[r.conversationID] = append(m.conversations[r.conversationID], Message{
		ID:      fmt.Sprintf("msg_%d", m.seq),
		RunID:   runID,
		Role:    RoleAssistant,
		Content: []ContentBlock{{Type: "text", Text: reply}},
	})
}

func (m *MockBackend) snapshot(id string, r *mockRun) Run {
	run := Run{ID: id, Status: r.current, RawStatus: string(r.current)}
	if r.current.Failed() && m.lastError != nil {
		le := *m.lastError
		run.LastError = &le
	}
	return run
}
