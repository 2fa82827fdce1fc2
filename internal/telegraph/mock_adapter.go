package telegraph

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockAdapter implements Adapter, BotUserIDer and Typer for testing. It
// records sent and deleted messages and allows simulating inbound messages
// via SimulateInbound.
type MockAdapter struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan InboundMessage
	sent      []OutboundMessage
	deleted   []string // "channelID/messageID"
	typing    map[string]int
	missing   map[string]bool // channels ResolveChannel reports as not found
	sendErrs  []error
	botUserID string
	notify    chan struct{}
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound: make(chan InboundMessage, 100),
		typing:  make(map[string]int),
		missing: make(map[string]bool),
		notify:  make(chan struct{}, 1),
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound message channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Send records the outbound message, or returns the next error queued by
// FailSend.
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		return err
	}
	m.sent = append(m.sent, msg)
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// DeleteMessage records the deletion.
func (m *MockAdapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, channelID+"/"+messageID)
	return nil
}

// ResolveChannel reports channels marked with SetMissing as not found.
func (m *MockAdapter) ResolveChannel(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing[channelID] {
		return fmt.Errorf("mock adapter: channel %s: %w", channelID, ErrChannelNotFound)
	}
	return nil
}

// Typing counts typing indicators per channel (implements Typer).
func (m *MockAdapter) Typing(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing[channelID]++
	return nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends a message into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.inbound <- msg
}

// SetMissing marks a channel as not found for ResolveChannel.
func (m *MockAdapter) SetMissing(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missing[channelID] = true
}

// FailSend makes the next len(errs) Send calls fail in order.
func (m *MockAdapter) FailSend(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErrs = append(m.sendErrs, errs...)
}

// LastSent returns the most recently sent outbound message.
// Returns zero value and false if no messages have been sent.
func (m *MockAdapter) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of outbound messages sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent outbound messages.
func (m *MockAdapter) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// Deleted returns the recorded deletions as "channelID/messageID".
func (m *MockAdapter) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// TypingCount returns how many typing indicators were sent to a channel.
func (m *MockAdapter) TypingCount(channelID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing[channelID]
}

// WaitSent blocks until at least n messages were sent or timeout elapses.
// It reports whether n was reached.
func (m *MockAdapter) WaitSent(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if m.SentCount() >= n {
			return true
		}
		select {
		case <-m.notify:
		case <-deadline:
			return m.SentCount() >= n
		}
	}
}
