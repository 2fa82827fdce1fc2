package assistant

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// Default polling parameters.
const (
	DefaultCadence      = 1500 * time.Millisecond
	DefaultRetryBackoff = 3 * time.Second
	DefaultTimeout      = 300 * time.Second
	// cancelTimeout bounds the best-effort cancel issued after a timeout.
	cancelTimeout = 10 * time.Second
)

// Outcome is the terminal classification of one turn.
type Outcome int

const (
	OutcomeText Outcome = iota
	OutcomeBackendError
	OutcomeTimedOut
	OutcomeConversationMissing
)

func (o Outcome) String() string {
	switch o {
	case OutcomeText:
		return "text"
	case OutcomeBackendError:
		return "backend_error"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeConversationMissing:
		return "conversation_missing"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// TurnResult is what one Execute call produced.
type TurnResult struct {
	Outcome Outcome
	RunID   string

	// OutcomeText.
	Text  string
	Found bool // an assistant message for the run existed

	// OutcomeBackendError.
	Kind      ErrorKind // set when a backend call failed
	Status    RunStatus // set when the run itself ended badly
	RawStatus string
	Code      string
	Message   string
	Err       error
}

// Poller drives a single assistant run from submission to a terminal
// state, polling on a fixed cadence.
type Poller struct {
	backend      Backend
	clock        Clock
	cadence      time.Duration
	retryBackoff time.Duration
	timeout      time.Duration
}

// PollerOpts holds parameters for creating a Poller.
type PollerOpts struct {
	Backend      Backend
	Clock        Clock         // defaults to SystemClock
	Cadence      time.Duration // defaults to DefaultCadence
	RetryBackoff time.Duration // defaults to DefaultRetryBackoff
	Timeout      time.Duration // defaults to DefaultTimeout
}

// NewPoller creates a Poller.
func NewPoller(opts PollerOpts) (*Poller, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("assistant: poller: backend is required")
	}
	p := &Poller{
		backend:      opts.Backend,
		clock:        opts.Clock,
		cadence:      opts.Cadence,
		retryBackoff: opts.RetryBackoff,
		timeout:      opts.Timeout,
	}
	if p.clock == nil {
		p.clock = SystemClock
	}
	if p.cadence <= 0 {
		p.cadence = DefaultCadence
	}
	if p.retryBackoff <= 0 {
		p.retryBackoff = DefaultRetryBackoff
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	return p, nil
}

// Execute posts prompt to the conversation, starts a run, and waits for it
// to finish. A zero timeout uses the poller's default. The returned error
// is non-nil only when ctx ends; every backend failure is folded into the
// TurnResult.
func (p *Poller) Execute(ctx context.Context, conversationID, prompt string, timeout time.Duration) (TurnResult, error) {
	if timeout <= 0 {
		timeout = p.timeout
	}

	if err := p.backend.PostMessage(ctx, conversationID, RoleUser, prompt); err != nil {
		return p.callFailed(ctx, "", err)
	}

	run, err := p.backend.CreateRun(ctx, conversationID)
	if err != nil {
		return p.callFailed(ctx, "", err)
	}
	log.Printf("assistant: conversation %s: run %s %s", conversationID, run.ID, run.Status)

	start := p.clock.Now()
	for run.Status.Pending() {
		if p.clock.Now().Sub(start) > timeout {
			p.cancel(ctx, conversationID, run.ID)
			return TurnResult{Outcome: OutcomeTimedOut, RunID: run.ID, Status: run.Status}, nil
		}

		if err := p.sleep(ctx, p.cadence); err != nil {
			return TurnResult{RunID: run.ID}, err
		}

		next, err := p.backend.GetRun(ctx, conversationID, run.ID)
		if err != nil {
			if ctx.Err() != nil {
				return TurnResult{RunID: run.ID}, ctx.Err()
			}
			if KindOf(err) == KindTransient {
				log.Printf("assistant: poll run %s: %v (retrying in %v)", run.ID, err, p.retryBackoff)
				if err := p.sleep(ctx, p.retryBackoff); err != nil {
					return TurnResult{RunID: run.ID}, err
				}
				continue
			}
			return p.callFailed(ctx, run.ID, err)
		}

		if next.Status.rank() < run.Status.rank() {
			log.Printf("assistant: run %s reported %s after %s; ignoring", run.ID, next.Status, run.Status)
			continue
		}
		if next.Status != run.Status {
			log.Printf("assistant: run %s %s -> %s", run.ID, run.Status, next.Status)
		}
		run = next
	}

	switch {
	case run.Status == StatusCompleted:
		return p.collectReply(ctx, conversationID, run.ID)
	case run.Status.Failed():
		res := TurnResult{Outcome: OutcomeBackendError, RunID: run.ID, Status: run.Status, RawStatus: string(run.Status)}
		if run.LastError != nil {
			res.Code = run.LastError.Code
			res.Message = run.LastError.Message
		}
		return res, nil
	default:
		raw := run.RawStatus
		if raw == "" {
			raw = string(run.Status)
		}
		return TurnResult{Outcome: OutcomeBackendError, RunID: run.ID, Status: StatusUnknown, RawStatus: raw}, nil
	}
}

// collectReply fetches the newest assistant message produced by runID and
// concatenates its text blocks. Messages from other runs are never used.
func (p *Poller) collectReply(ctx context.Context, conversationID, runID string) (TurnResult, error) {
	msgs, err := p.backend.ListMessages(ctx, conversationID, OrderDesc)
	if err != nil {
		return p.callFailed(ctx, runID, err)
	}

	res := TurnResult{Outcome: OutcomeText, RunID: runID, Status: StatusCompleted}
	for _, m := range msgs {
		if m.RunID != runID || m.Role != RoleAssistant {
			continue
		}
		var sb strings.Builder
		for _, block := range m.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		res.Found = true
		res.Text = sb.String()
		break
	}
	return res, nil
}

// callFailed converts a backend call error into a TurnResult.
func (p *Poller) callFailed(ctx context.Context, runID string, err error) (TurnResult, error) {
	if ctx.Err() != nil {
		return TurnResult{RunID: runID}, ctx.Err()
	}
	kind := KindOf(err)
	if kind == KindNotFound {
		return TurnResult{Outcome: OutcomeConversationMissing, RunID: runID, Kind: kind, Err: err}, nil
	}
	return TurnResult{Outcome: OutcomeBackendError, RunID: runID, Kind: kind, Err: err}, nil
}

// cancel issues a single best-effort cancellation. Failure is logged.
func (p *Poller) cancel(ctx context.Context, conversationID, runID string) {
	cctx, done := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer done()
	log.Printf("assistant: run %s timed out; cancelling", runID)
	if err := p.backend.CancelRun(cctx, conversationID, runID); err != nil {
		log.Printf("assistant: cancel run %s: %v", runID, err)
	}
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(d):
		return nil
	}
}
