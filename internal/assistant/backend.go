// Package assistant drives conversations against a hosted assistant backend:
// one persistent conversation per chat channel, one run per user turn.
package assistant

import "context"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Order selects the sort order of ListMessages.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// RunStatus is the lifecycle state of a single assistant run.
type RunStatus string

const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusCompleted      RunStatus = "completed"
	StatusFailed         RunStatus = "failed"
	StatusCancelled      RunStatus = "cancelled"
	StatusExpired        RunStatus = "expired"
	StatusRequiresAction RunStatus = "requires_action"
	StatusUnknown        RunStatus = "unknown"
)

// Pending reports whether the run is still waiting on the backend.
func (s RunStatus) Pending() bool {
	return s == StatusQueued || s == StatusInProgress
}

// Failed reports whether the run ended without producing a reply.
func (s RunStatus) Failed() bool {
	switch s {
	case StatusFailed, StatusCancelled, StatusExpired, StatusRequiresAction:
		return true
	}
	return false
}

// rank orders statuses so a run handle only ever moves forward.
func (s RunStatus) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusInProgress:
		return 1
	default:
		return 2
	}
}

// RunError is the backend-supplied reason a run failed.
type RunError struct {
	Code    string
	Message string
}

// Run is a handle on one in-flight assistant invocation.
type Run struct {
	ID        string
	Status    RunStatus
	RawStatus string // backend status string, kept when Status is StatusUnknown
	LastError *RunError
}

// ContentBlock is one typed piece of message content.
type ContentBlock struct {
	Type string // "text", "image_file", ...
	Text string
}

// Message is a conversation message as reported by the backend.
type Message struct {
	ID      string
	RunID   string
	Role    Role
	Content []ContentBlock
}

// Backend is the set of hosted-assistant operations a turn needs. Every
// method may fail with an *Error carrying an ErrorKind.
type Backend interface {
	// CreateConversation creates a new, empty conversation context.
	CreateConversation(ctx context.Context) (string, error)

	// PostMessage appends a message to a conversation.
	PostMessage(ctx context.Context, conversationID string, role Role, text string) error

	// CreateRun starts the assistant over a conversation.
	CreateRun(ctx context.Context, conversationID string) (Run, error)

	// GetRun returns the current state of a run.
	GetRun(ctx context.Context, conversationID, runID string) (Run, error)

	// CancelRun asks the backend to stop a run.
	CancelRun(ctx context.Context, conversationID, runID string) error

	// ListMessages returns the conversation's messages in the given order.
	ListMessages(ctx context.Context, conversationID string, order Order) ([]Message, error)
}

// Verifier is an optional interface a Backend can implement to confirm the
// configured assistant exists. It returns the assistant's display name.
type Verifier interface {
	Verify(ctx context.Context) (string, error)
}

// Backend operation names, used as Error.Op.
const (
	OpCreateConversation = "create conversation"
	OpPostMessage        = "post message"
	OpCreateRun          = "create run"
	OpGetRun             = "get run"
	OpCancelRun          = "cancel run"
	OpListMessages       = "list messages"
)
