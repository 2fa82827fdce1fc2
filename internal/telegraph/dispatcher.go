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
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/zulandar/keith/internal/assistant"
	"github.com/zulandar/keith/internal/models"
	"github.com/zulandar/keith/internal/override"
)

// Channel notices.
const (
	NoticeResolveFailed   = "Sorry, I couldn't start a new conversation thread."
	NoticeHistoryLost     = "It seems our previous conversation history was lost. Please try sending your message again to start a new one."
	NoticeTrackingLost    = "There was an issue tracking the AI's progress (run/thread not found)."
	NoticeContextLost     = "Sorry, it seems the conversation context was lost or expired before the AI could finish. Please try again."
	NoticeTimedOut        = "Sorry, the request took too long to process."
	NoticeNoResponse      = "Sorry, I couldn't retrieve a response for this interaction."
	NoticeNotProcessed    = "Sorry, I couldn't process your message."
	NoticeRateLimited     = "Sorry, I'm getting too many requests right now (Rate Limit). Please try again in a moment."
	NoticeAuth            = "Sorry, there's an issue with my connection to the AI (Authentication Error). Please tell the bot owner."
	NoticeUnexpected      = "Sorry, an unexpected error occurred while getting the response."
	NoticeOverrideMissing = "Sorry, the local input feature requires an interactive terminal, which was not found."
)

// Notice lifetimes for transient messages.
const (
	unavailableNoticeTTL   = 10 * time.Second
	alreadyActiveNoticeTTL = 15 * time.Second
	typingInterval         = 8 * time.Second
	noticeSendTimeout      = 10 * time.Second
)

// DefaultErrorNoticeLimit bounds run-failure notices.
const DefaultErrorNoticeLimit = 1950

// Journal records completed turns. Implementations must be safe for
// concurrent use.
type Journal interface {
	Record(ctx context.Context, t *models.Turn) error
}

// Dispatcher classifies inbound chat messages and routes them: the
// override trigger to the manual-mode controller, the assistant trigger
// to a per-channel turn, everything else nowhere.
type Dispatcher struct {
	adapter    Adapter
	registry   *assistant.Registry
	poller     *assistant.Poller
	controller *override.Controller
	gate       *override.Gate
	journal    Journal
	out        io.Writer

	aiTrigger       string
	overrideTrigger string
	operatorID      string
	botUserID       string
	timeout         time.Duration
	messageLimit    int
	errorLimit      int

	lanes    *laneSet
	wg       sync.WaitGroup
	inFlight atomic.Int32

	mu           sync.Mutex
	overrideDone <-chan struct{}
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Adapter          Adapter
	Registry         *assistant.Registry
	Poller           *assistant.Poller
	Controller       *override.Controller
	Gate             *override.Gate
	Journal          Journal // optional
	AITrigger        string  // e.g. "keith"
	OverrideTrigger  string  // e.g. "HalcM"
	OperatorID       string  // only this user may trigger manual mode
	BotUserID        string  // bot's user ID for self-message filtering
	Timeout          time.Duration
	MessageLimit     int       // defaults to the adapter's limit or DefaultMessageLimit
	ErrorNoticeLimit int       // defaults to DefaultErrorNoticeLimit
	Out              io.Writer // defaults to os.Stdout
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: dispatcher: adapter is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("telegraph: dispatcher: registry is required")
	}
	if opts.Poller == nil {
		return nil, fmt.Errorf("telegraph: dispatcher: poller is required")
	}
	if opts.Controller == nil || opts.Gate == nil {
		return nil, fmt.Errorf("telegraph: dispatcher: override controller and gate are required")
	}
	if strings.TrimSpace(opts.AITrigger) == "" {
		return nil, fmt.Errorf("telegraph: dispatcher: ai trigger is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	limit := opts.MessageLimit
	if limit <= 0 {
		limit = DefaultMessageLimit
		if ml, ok := opts.Adapter.(MessageLimiter); ok && ml.MessageLimit() > 0 {
			limit = ml.MessageLimit()
		}
	}
	errLimit := opts.ErrorNoticeLimit
	if errLimit <= 0 {
		errLimit = DefaultErrorNoticeLimit
	}
	return &Dispatcher{
		adapter:         opts.Adapter,
		registry:        opts.Registry,
		poller:          opts.Poller,
		controller:      opts.Controller,
		gate:            opts.Gate,
		journal:         opts.Journal,
		out:             out,
		aiTrigger:       opts.AITrigger,
		overrideTrigger: opts.OverrideTrigger,
		operatorID:      opts.OperatorID,
		botUserID:       opts.BotUserID,
		timeout:         opts.Timeout,
		messageLimit:    limit,
		errorLimit:      errLimit,
		lanes:           newLaneSet(),
	}, nil
}

// SetBotUserID sets the bot's own user ID once the adapter knows it.
func (d *Dispatcher) SetBotUserID(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.botUserID = id
}

// Handle classifies and routes a single inbound message. Routing paths:
//  1. Bot self-message → ignore
//  2. Override trigger from the operator → manual mode
//  3. Channel under manual control → ignore
//  4. Assistant trigger with a prompt → assistant turn on the channel's lane
//  5. Everything else → ignore
//
// Handle never blocks on the backend; assistant turns run on their own
// goroutines, serialized per channel.
func (d *Dispatcher) Handle(ctx context.Context, msg InboundMessage) {
	if d.isSelfMessage(msg) {
		return
	}

	// Triggers match the raw content; only the prompt remainder is trimmed.
	text := msg.Text
	if d.overrideTrigger != "" && strings.EqualFold(text, d.overrideTrigger) && d.isOperator(msg) {
		fmt.Fprintf(d.out, "telegraph: dispatcher: recv [ch=%s user=%s] → override\n", msg.ChannelID, msg.UserName)
		d.handleOverride(ctx, msg)
		return
	}

	if d.gate.IsActiveFor(msg.ChannelID) {
		log.Printf("telegraph: dispatcher: ignoring message from %s in channel %s (manual mode active)", msg.UserName, msg.ChannelID)
		return
	}

	prompt, ok := extractPrompt(text, d.aiTrigger)
	if !ok || prompt == "" {
		return
	}

	fmt.Fprintf(d.out, "telegraph: dispatcher: recv [ch=%s user=%s] %q\n", msg.ChannelID, msg.UserName, truncate(prompt, 80))
	d.wg.Add(1)
	d.lanes.submit(msg.ChannelID, func() {
		defer d.wg.Done()
		d.runTurn(ctx, msg, prompt)
	})
}

// Wait blocks until every submitted turn has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// InFlight returns the number of turns currently talking to the backend.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// OverrideDone returns the done channel of the most recent manual-mode
// loop, or nil if none was started.
func (d *Dispatcher) OverrideDone() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overrideDone
}

func (d *Dispatcher) isSelfMessage(msg InboundMessage) bool {
	d.mu.Lock()
	id := d.botUserID
	d.mu.Unlock()
	return id != "" && msg.UserID == id
}

func (d *Dispatcher) isOperator(msg InboundMessage) bool {
	return d.operatorID != "" && msg.UserID == d.operatorID
}

// extractPrompt reports whether text starts with trigger (any case) and
// returns the trimmed remainder with its original casing.
func extractPrompt(text, trigger string) (string, bool) {
	if len(text) < len(trigger) || !strings.EqualFold(text[:len(trigger)], trigger) {
		return "", false
	}
	return strings.TrimSpace(text[len(trigger):]), true
}

func (d *Dispatcher) handleOverride(ctx context.Context, msg InboundMessage) {
	if !d.controller.Available() {
		d.notify(ctx, msg.ChannelID, NoticeOverrideMissing, unavailableNoticeTTL)
		d.deleteTrigger(ctx, msg)
		return
	}

	if err := d.controller.Activate(msg.ChannelID); err != nil {
		var active *override.AlreadyActiveError
		if errors.As(err, &active) {
			log.Printf("telegraph: dispatcher: user %s tried manual mode, but it is active for channel %s", msg.UserID, active.Channel)
			text := fmt.Sprintf("Manual mode is already active (controlling channel <#%s>). Type `%s` in the local prompt to exit.", active.Channel, override.StopWord)
			d.notify(ctx, msg.ChannelID, text, alreadyActiveNoticeTTL)
		} else {
			log.Printf("telegraph: dispatcher: activate manual mode: %v", err)
			d.notify(ctx, msg.ChannelID, NoticeOverrideMissing, unavailableNoticeTTL)
		}
		d.deleteTrigger(ctx, msg)
		return
	}

	d.deleteTrigger(ctx, msg)
	done := d.controller.Start(ctx, msg.ChannelID)
	d.mu.Lock()
	d.overrideDone = done
	d.mu.Unlock()
}

func (d *Dispatcher) deleteTrigger(ctx context.Context, msg InboundMessage) {
	if msg.MessageID == "" {
		return
	}
	if err := d.adapter.DeleteMessage(ctx, msg.ChannelID, msg.MessageID); err != nil {
		log.Printf("telegraph: dispatcher: delete trigger message %s: %v", msg.MessageID, err)
	}
}

func (d *Dispatcher) notify(ctx context.Context, channelID, text string, ttl time.Duration) {
	if err := d.adapter.Send(ctx, OutboundMessage{ChannelID: channelID, Text: text, DeleteAfter: ttl}); err != nil {
		log.Printf("telegraph: dispatcher: send notice to %s: %v", channelID, err)
	}
}

// runTurn resolves the channel's conversation, executes one assistant
// run, and delivers the reply or a notice.
func (d *Dispatcher) runTurn(ctx context.Context, msg InboundMessage, prompt string) {
	start := time.Now()
	d.inFlight.Add(1)
	defer d.inFlight.Add(-1)

	turn := &models.Turn{
		Kind:      models.TurnAssistant,
		Platform:  msg.Platform,
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		Prompt:    prompt,
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("telegraph: dispatcher: turn in channel %s panicked: %v", msg.ChannelID, r)
			turn.Outcome = "panic"
			turn.Error = fmt.Sprint(r)
			d.sendSegments(ctx, msg.ChannelID, []string{NoticeUnexpected})
		}
		turn.DurationMs = time.Since(start).Milliseconds()
		d.record(ctx, turn)
	}()

	stopTyping := d.startTyping(ctx, msg.ChannelID)
	defer stopTyping()

	conv, created, err := d.registry.Resolve(ctx, msg.ChannelID)
	if err != nil {
		log.Printf("telegraph: dispatcher: %v", err)
		turn.Outcome = "resolve_failed"
		turn.Error = err.Error()
		d.sendSegments(ctx, msg.ChannelID, []string{NoticeResolveFailed})
		return
	}
	turn.ConversationID = conv
	if created {
		log.Printf("telegraph: dispatcher: channel %s bound to conversation %s", msg.ChannelID, conv)
	}

	res, err := d.poller.Execute(ctx, conv, prompt, d.timeout)
	turn.RunID = res.RunID
	if err != nil {
		log.Printf("telegraph: dispatcher: turn in channel %s: %v", msg.ChannelID, err)
		turn.Outcome = "cancelled"
		turn.Error = err.Error()
		d.sendSegments(ctx, msg.ChannelID, []string{NoticeUnexpected})
		return
	}

	segs, outcome := d.reply(msg.ChannelID, res)
	turn.Outcome = outcome
	if res.Err != nil {
		turn.Error = res.Err.Error()
	}
	if res.Outcome == assistant.OutcomeText {
		turn.Reply = res.Text
	}
	turn.Segments = d.sendSegments(ctx, msg.ChannelID, segs)
	fmt.Fprintf(d.out, "telegraph: dispatcher: [ch=%s] %s in %v (%d segment(s))\n",
		msg.ChannelID, outcome, time.Since(start).Round(time.Millisecond), turn.Segments)
}

// reply maps a turn result to the segments to send and a journal outcome.
func (d *Dispatcher) reply(channelID string, res assistant.TurnResult) ([]string, string) {
	switch res.Outcome {
	case assistant.OutcomeText:
		if !res.Found {
			log.Printf("telegraph: dispatcher: no assistant message for run %s", res.RunID)
			return []string{NoticeNoResponse}, "no_reply"
		}
		if strings.TrimFunc(res.Text, unicode.IsSpace) == "" {
			return []string{EmptyResponse}, "empty"
		}
		return Chunk(res.Text, d.messageLimit), "text"

	case assistant.OutcomeTimedOut:
		return []string{NoticeTimedOut}, "timed_out"

	case assistant.OutcomeConversationMissing:
		d.registry.Evict(channelID)
		log.Printf("telegraph: dispatcher: conversation for channel %s is gone; evicted", channelID)
		switch opOf(res.Err) {
		case assistant.OpPostMessage:
			return []string{NoticeHistoryLost}, "conversation_missing"
		case assistant.OpGetRun:
			return []string{NoticeTrackingLost}, "conversation_missing"
		default:
			return []string{NoticeContextLost}, "conversation_missing"
		}

	case assistant.OutcomeBackendError:
		return []string{d.backendNotice(res)}, "backend_error"
	}
	return []string{NoticeUnexpected}, "unknown"
}

func (d *Dispatcher) backendNotice(res assistant.TurnResult) string {
	if res.Kind != "" {
		switch res.Kind {
		case assistant.KindAuth:
			return NoticeAuth
		case assistant.KindRateLimited:
			return NoticeRateLimited
		}
		if opOf(res.Err) == assistant.OpPostMessage {
			return NoticeNotProcessed
		}
		return NoticeUnexpected
	}
	if res.Status == assistant.StatusUnknown {
		return fmt.Sprintf("Sorry, something went wrong (%s).", res.RawStatus)
	}
	text := fmt.Sprintf("Sorry, the process ended with status: %s.", res.Status)
	if res.Code != "" || res.Message != "" {
		text += fmt.Sprintf(" Error Code: %s. Message: %s", res.Code, res.Message)
	}
	return truncateRunes(text, d.errorLimit)
}

// sendSegments sends each non-blank segment in order and returns how many
// were delivered. Sends outlive ctx so a reply in progress at shutdown
// still goes out.
func (d *Dispatcher) sendSegments(ctx context.Context, channelID string, segs []string) int {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noticeSendTimeout*time.Duration(max(1, len(segs))))
	defer cancel()
	sent := 0
	for _, s := range segs {
		if strings.TrimFunc(s, unicode.IsSpace) == "" {
			continue
		}
		if err := d.adapter.Send(sctx, OutboundMessage{ChannelID: channelID, Text: s}); err != nil {
			log.Printf("telegraph: dispatcher: send reply to %s: %v", channelID, err)
			continue
		}
		sent++
	}
	return sent
}

// startTyping shows a typing indicator until the returned func is called.
func (d *Dispatcher) startTyping(ctx context.Context, channelID string) func() {
	typer, ok := d.adapter.(Typer)
	if !ok {
		return func() {}
	}
	typing := func() {
		if err := typer.Typing(ctx, channelID); err != nil {
			log.Printf("telegraph: dispatcher: typing in %s: %v", channelID, err)
		}
	}
	typing()

	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(typingInterval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				typing()
			}
		}
	}()
	return func() { close(stop) }
}

func (d *Dispatcher) record(ctx context.Context, t *models.Turn) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Record(context.WithoutCancel(ctx), t); err != nil {
		log.Printf("telegraph: dispatcher: journal: %v", err)
	}
}

func opOf(err error) string {
	var be *assistant.Error
	if errors.As(err, &be) {
		return be.Op
	}
	return ""
}

// truncate returns s truncated to maxLen runes with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
