package telegraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/keith/internal/assistant"
	"github.com/zulandar/keith/internal/config"
	"github.com/zulandar/keith/internal/models"
	"github.com/zulandar/keith/internal/override"
)

// Delivery drain defaults.
const (
	DefaultDeliveryInterval    = 200 * time.Millisecond
	DefaultMaxDeliveryAttempts = 3
	overrideExitGrace          = 2 * time.Second
)

// Pruner is an optional Journal extension for removing old turns.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Daemon is the main keith process. It connects to a chat platform via an
// Adapter, pumps inbound messages to the Dispatcher, and drains operator
// deliveries to their channels.
type Daemon struct {
	cfg        *config.Config
	adapter    Adapter
	backend    assistant.Backend
	journal    Journal
	out        io.Writer
	gate       *override.Gate
	queue      *override.Queue
	registry   *assistant.Registry
	controller *override.Controller
	dispatcher *Dispatcher

	deliveryInterval time.Duration
	maxAttempts      int

	mu        sync.Mutex
	connected bool
	startedAt time.Time
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Config   *config.Config
	Adapter  Adapter
	Backend  assistant.Backend
	Prompter override.Prompter // optional; nil disables manual mode
	Journal  Journal           // optional
	Clock    assistant.Clock   // optional; defaults to the system clock
	Out      io.Writer         // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("telegraph: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("telegraph: backend is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	cfg := opts.Config

	registry, err := assistant.NewRegistry(opts.Backend)
	if err != nil {
		return nil, fmt.Errorf("telegraph: %w", err)
	}
	poller, err := assistant.NewPoller(assistant.PollerOpts{
		Backend:      opts.Backend,
		Clock:        opts.Clock,
		Cadence:      time.Duration(cfg.Run.PollIntervalMs) * time.Millisecond,
		RetryBackoff: time.Duration(cfg.Run.RetryBackoffMs) * time.Millisecond,
		Timeout:      time.Duration(cfg.Run.TimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("telegraph: %w", err)
	}

	prompter := opts.Prompter
	if !cfg.OverrideEnabled() {
		prompter = nil
	}
	gate := override.NewGate()
	queue := override.NewQueue()
	controller, err := override.NewController(override.ControllerOpts{
		Gate:     gate,
		Queue:    queue,
		Prompter: prompter,
		Title:    cfg.Override.Title,
		Question: cfg.Override.Question,
		Out:      out,
	})
	if err != nil {
		return nil, fmt.Errorf("telegraph: %w", err)
	}

	dispatcher, err := NewDispatcher(DispatcherOpts{
		Adapter:          opts.Adapter,
		Registry:         registry,
		Poller:           poller,
		Controller:       controller,
		Gate:             gate,
		Journal:          opts.Journal,
		AITrigger:        cfg.Triggers.AI,
		OverrideTrigger:  cfg.Triggers.Override,
		OperatorID:       cfg.OperatorID,
		MessageLimit:     cfg.Run.MessageLimit,
		ErrorNoticeLimit: cfg.Run.ErrorNoticeLimit,
		Out:              out,
	})
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:              cfg,
		adapter:          opts.Adapter,
		backend:          opts.Backend,
		journal:          opts.Journal,
		out:              out,
		gate:             gate,
		queue:            queue,
		registry:         registry,
		controller:       controller,
		dispatcher:       dispatcher,
		deliveryInterval: time.Duration(cfg.Delivery.IntervalMs) * time.Millisecond,
		maxAttempts:      cfg.Delivery.MaxAttempts,
	}
	if d.deliveryInterval <= 0 {
		d.deliveryInterval = DefaultDeliveryInterval
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = DefaultMaxDeliveryAttempts
	}
	return d, nil
}

// Dispatcher returns the daemon's message dispatcher.
func (d *Daemon) Dispatcher() *Dispatcher { return d.dispatcher }

// Queue returns the operator delivery queue.
func (d *Daemon) Queue() *override.Queue { return d.queue }

// Gate returns the manual-mode gate.
func (d *Daemon) Gate() *override.Gate { return d.gate }

// Run starts the daemon. It connects the adapter, verifies the assistant,
// starts the delivery drain and journal pruning, and blocks until the
// context is cancelled. On shutdown it ends manual mode, waits for turns in
// flight, and closes the adapter.
func (d *Daemon) Run(ctx context.Context) error {
	// Every exit path cancels ctx so the drain, the prune scheduler, turns
	// in flight and an open operator prompt all stop with the loop.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Fprintf(d.out, "keith connecting to %s...\n", d.cfg.Platform)
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}

	if bui, ok := d.adapter.(BotUserIDer); ok {
		d.dispatcher.SetBotUserID(bui.BotUserID())
	}

	d.verifyAssistant(ctx)

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}

	d.mu.Lock()
	d.connected = true
	d.startedAt = time.Now()
	d.mu.Unlock()

	var bg sync.WaitGroup
	bg.Add(2)
	go func() {
		defer bg.Done()
		d.drainDeliveries(ctx)
	}()
	go func() {
		defer bg.Done()
		d.runPruneScheduler(ctx)
	}()

	fmt.Fprintf(d.out, "keith online: listening for %q\n", d.cfg.Triggers.AI)
	if d.controller.Available() {
		fmt.Fprintf(d.out, "Listening for %q from user %s to start manual mode.\n", d.cfg.Triggers.Override, d.cfg.OperatorID)
	} else {
		fmt.Fprintf(d.out, "%s command disabled (no interactive terminal).\n", d.cfg.Triggers.Override)
	}

	defer func() {
		cancel()
		d.shutdown()
		bg.Wait()
		fmt.Fprintf(d.out, "keith stopped\n")
	}()

	// Main event loop: pump inbound messages until context is cancelled.
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "keith shutting down...\n")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "keith inbound channel closed\n")
				return nil
			}
			d.dispatcher.Handle(ctx, msg)
		}
	}
}

func (d *Daemon) verifyAssistant(ctx context.Context) {
	v, ok := d.backend.(assistant.Verifier)
	if !ok {
		return
	}
	name, err := v.Verify(ctx)
	switch assistant.KindOf(err) {
	case "":
		fmt.Fprintf(d.out, "Connected to assistant %s (%s)\n", name, d.cfg.OpenAI.AssistantID)
	case assistant.KindNotFound:
		log.Printf("telegraph: assistant %q not found; check the assistant id", d.cfg.OpenAI.AssistantID)
	case assistant.KindAuth:
		log.Printf("telegraph: assistant authentication failed; check the api key")
	default:
		log.Printf("telegraph: verify assistant %s: %v", d.cfg.OpenAI.AssistantID, err)
	}
}

func (d *Daemon) shutdown() {
	if s := d.gate.Snapshot(); s.Active {
		fmt.Fprintf(d.out, "Signalling manual mode for channel %s to stop...\n", s.Target)
	}
	d.gate.Deactivate()
	if done := d.dispatcher.OverrideDone(); done != nil {
		select {
		case <-done:
		case <-time.After(overrideExitGrace):
			log.Printf("telegraph: manual mode prompt still open at shutdown")
		}
	}
	d.dispatcher.Wait()

	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	if err := d.adapter.Close(); err != nil {
		log.Printf("telegraph: close adapter: %v", err)
	}
}

// drainDeliveries sends queued operator messages, at most one per
// interval. While the queue is empty it sleeps until the next enqueue.
func (d *Daemon) drainDeliveries(ctx context.Context) {
	t := time.NewTicker(d.deliveryInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if d.deliverOne(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-d.queue.Ready():
		}
	}
}

// deliverOne sends the oldest pending delivery. It reports false when the
// queue was empty.
func (d *Daemon) deliverOne(ctx context.Context) bool {
	dl, ok := d.queue.TryDequeue()
	if !ok {
		return false
	}
	if strings.TrimSpace(dl.Text) == "" {
		return true
	}

	err := d.adapter.ResolveChannel(ctx, dl.ChannelID)
	if err == nil {
		err = d.adapter.Send(ctx, OutboundMessage{ChannelID: dl.ChannelID, Text: dl.Text})
	}
	switch {
	case err == nil:
		fmt.Fprintf(d.out, "override: delivered message to channel %s\n", dl.ChannelID)
		d.recordDelivery(ctx, dl, "delivered", nil)
	case errors.Is(err, ErrChannelNotFound):
		log.Printf("telegraph: could not find channel %s; discarding operator message", dl.ChannelID)
		d.recordDelivery(ctx, dl, "discarded", err)
	case errors.Is(err, ErrPermanent):
		log.Printf("telegraph: deliver to %s: %v; dropping operator message", dl.ChannelID, err)
		d.recordDelivery(ctx, dl, "dropped", err)
	case ctx.Err() != nil:
		d.queue.Requeue(dl)
	default:
		dl.Attempts++
		if dl.Attempts >= d.maxAttempts {
			log.Printf("telegraph: deliver to %s failed %d times: %v; dropping operator message", dl.ChannelID, dl.Attempts, err)
			d.recordDelivery(ctx, dl, "dropped", err)
			return true
		}
		log.Printf("telegraph: deliver to %s (attempt %d): %v; will retry", dl.ChannelID, dl.Attempts, err)
		d.queue.Requeue(dl)
	}
	return true
}

func (d *Daemon) recordDelivery(ctx context.Context, dl override.Delivery, outcome string, err error) {
	if d.journal == nil {
		return
	}
	t := &models.Turn{
		Kind:      models.TurnOverride,
		Platform:  d.cfg.Platform,
		ChannelID: dl.ChannelID,
		UserID:    d.cfg.OperatorID,
		Reply:     dl.Text,
		Outcome:   outcome,
	}
	if outcome == "delivered" {
		t.Segments = 1
	}
	if err != nil {
		t.Error = err.Error()
	}
	if jerr := d.journal.Record(context.WithoutCancel(ctx), t); jerr != nil {
		log.Printf("telegraph: journal: %v", jerr)
	}
}

// runPruneScheduler removes journal entries older than the retention
// window on the configured cron schedule. It returns immediately when the
// journal cannot prune or pruning is not configured.
func (d *Daemon) runPruneScheduler(ctx context.Context) {
	p, ok := d.journal.(Pruner)
	if !ok || d.cfg.Journal.RetentionDays <= 0 || d.cfg.Journal.PruneCron == "" {
		return
	}
	next := nextCronDuration(d.cfg.Journal.PruneCron)
	if next <= 0 {
		log.Printf("telegraph: journal prune schedule %q is invalid; pruning disabled", d.cfg.Journal.PruneCron)
		return
	}
	timer := time.NewTimer(next)
	defer timer.Stop()

	retention := time.Duration(d.cfg.Journal.RetentionDays) * 24 * time.Hour
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			n, err := p.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Printf("telegraph: journal prune: %v", err)
			} else if n > 0 {
				log.Printf("telegraph: journal prune removed %d turn(s)", n)
			}
			if next := nextCronDuration(d.cfg.Journal.PruneCron); next > 0 {
				timer.Reset(next)
			}
		}
	}
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Platform          string           `json:"platform"`
	Connected         bool             `json:"connected"`
	StartedAt         time.Time        `json:"started_at,omitempty"`
	Override          override.Session `json:"override"`
	OverrideState     string           `json:"override_state"`
	OverrideAvailable bool             `json:"override_available"`
	Conversations     int              `json:"conversations"`
	PendingDeliveries int              `json:"pending_deliveries"`
	TurnsInFlight     int              `json:"turns_in_flight"`
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	connected, started := d.connected, d.startedAt
	d.mu.Unlock()
	return Status{
		Platform:          d.cfg.Platform,
		Connected:         connected,
		StartedAt:         started,
		Override:          d.gate.Snapshot(),
		OverrideState:     d.controller.State().String(),
		OverrideAvailable: d.controller.Available(),
		Conversations:     d.registry.Len(),
		PendingDeliveries: d.queue.Len(),
		TurnsInFlight:     d.dispatcher.InFlight(),
	}
}
