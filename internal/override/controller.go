package override

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
)

// Default prompt dialog text.
const (
	DefaultTitle    = "Manual Bot Input"
	DefaultQuestion = "Enter message (or 'stop' to exit):"
)

// StopWord ends a manual session when typed on its own (any case).
const StopWord = "stop"

// ErrUnavailable is returned by Activate when no interactive prompt exists.
var ErrUnavailable = errors.New("override: no interactive prompt available")

// AlreadyActiveError is returned by Activate when another session holds the gate.
type AlreadyActiveError struct {
	Channel string
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("override: already active for channel %s", e.Channel)
}

// Prompter collects one line of operator input. PromptLine blocks until
// the operator submits (ok true) or cancels (ok false).
type Prompter interface {
	PromptLine(ctx context.Context, title, question string) (text string, ok bool, err error)
	Available() bool
}

// State is the controller lifecycle.
type State int

const (
	StateIdle State = iota
	StateActivating
	StateLooping
	StateDeactivated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActivating:
		return "activating"
	case StateLooping:
		return "looping"
	case StateDeactivated:
		return "deactivated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Controller runs the operator input loop for the channel holding the gate.
type Controller struct {
	gate     *Gate
	queue    *Queue
	prompter Prompter
	title    string
	question string
	out      io.Writer

	mu      sync.Mutex
	state   State
	channel string
}

// ControllerOpts holds parameters for creating a Controller.
type ControllerOpts struct {
	Gate     *Gate
	Queue    *Queue
	Prompter Prompter  // nil means override mode is unavailable
	Title    string    // defaults to DefaultTitle
	Question string    // defaults to DefaultQuestion
	Out      io.Writer // operator-facing lines; defaults to io.Discard
}

// NewController creates a Controller.
func NewController(opts ControllerOpts) (*Controller, error) {
	if opts.Gate == nil {
		return nil, fmt.Errorf("override: gate is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("override: queue is required")
	}
	c := &Controller{
		gate:     opts.Gate,
		queue:    opts.Queue,
		prompter: opts.Prompter,
		title:    opts.Title,
		question: opts.Question,
		out:      opts.Out,
	}
	if c.title == "" {
		c.title = DefaultTitle
	}
	if c.question == "" {
		c.question = DefaultQuestion
	}
	if c.out == nil {
		c.out = io.Discard
	}
	return c, nil
}

// Available reports whether operator input can be collected.
func (c *Controller) Available() bool {
	return c.prompter != nil && c.prompter.Available()
}

// State returns the lifecycle state of the most recent session.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Activate claims the gate for channelID.
func (c *Controller) Activate(channelID string) error {
	if !c.Available() {
		return ErrUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.gate.TryActivate(channelID) {
		return &AlreadyActiveError{Channel: c.gate.Snapshot().Target}
	}
	c.state = StateActivating
	c.channel = channelID
	log.Printf("override: manual mode activated for channel %s", channelID)
	fmt.Fprintf(c.out, "Manual mode active for channel %s. Type '%s' to return control to the assistant.\n", channelID, StopWord)
	return nil
}

// Start runs the input loop for an activated channel on its own goroutine.
// The returned channel is closed when the loop exits.
func (c *Controller) Start(ctx context.Context, channelID string) <-chan struct{} {
	c.mu.Lock()
	c.state = StateLooping
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.loop(ctx, channelID)
	}()
	return done
}

func (c *Controller) loop(ctx context.Context, channelID string) {
	defer c.finish(channelID)

	for {
		if ctx.Err() != nil {
			return
		}
		if !c.gate.IsActiveFor(channelID) {
			log.Printf("override: channel %s no longer holds manual mode; exiting input loop", channelID)
			return
		}

		text, ok, err := c.prompter.PromptLine(ctx, c.title, c.question)
		if err != nil {
			log.Printf("override: prompt: %v", err)
			return
		}
		if !ok {
			log.Printf("override: prompt cancelled for channel %s", channelID)
			return
		}

		trimmed := strings.TrimSpace(text)
		if strings.EqualFold(trimmed, StopWord) {
			return
		}
		if trimmed == "" {
			continue
		}

		c.queue.Enqueue(channelID, text)
		fmt.Fprintf(c.out, "Queued for channel %s.\n", channelID)
	}
}

func (c *Controller) finish(channelID string) {
	c.mu.Lock()
	owner := c.gate.DeactivateIfOwner(channelID)
	if c.channel == channelID {
		c.state = StateDeactivated
	}
	c.mu.Unlock()

	if !owner {
		log.Printf("override: input loop for channel %s ended without owning manual mode", channelID)
	}
	log.Printf("override: manual mode deactivated for channel %s", channelID)
	fmt.Fprintf(c.out, "Manual mode ended for channel %s.\n", channelID)
}
