// Package slack implements the telegraph Adapter for Slack using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/keith/internal/telegraph"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
	// MessageLimit is the longest text keith posts in one Slack message.
	MessageLimit = 4000
	// inboundBuffer is the capacity of the inbound message channel.
	inboundBuffer = 100
)

// Slack API error strings that retrying cannot fix.
var permanentErrors = []string{
	"not_in_channel",
	"is_archived",
	"msg_too_long",
	"restricted_action",
	"cant_delete_message",
	"message_not_found",
}

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	DeleteMessage(channelID, messageTimestamp string) (string, string, error)
	GetConversationInfo(input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) EventsChan() chan socketmode.Event    { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements telegraph.Adapter for Slack Socket Mode.
type Adapter struct {
	client       slackClient
	socket       socketClient
	botUserID    string
	appToken     string
	botToken     string
	mu           sync.Mutex
	connected    bool
	closed       bool
	inbound      chan telegraph.InboundMessage
	cancelFunc   context.CancelFunc
	names        map[string]string // user ID -> display name
	pending      map[*time.Timer]struct{}
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}

	return &Adapter{
		client:       opts.Client,
		socket:       opts.Socket,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		inbound:      make(chan telegraph.InboundMessage, inboundBuffer),
		names:        make(map[string]string),
		pending:      make(map[*time.Timer]struct{}),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect authenticates the bot and prepares the Socket Mode client.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	log.Printf("slack: authenticated as %s (ID: %s) in %s", auth.User, auth.UserID, auth.Team)

	a.connected = true
	return nil
}

// Listen returns a channel of inbound messages. Starts the Socket Mode
// event pump in a background goroutine. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: not connected")
	}

	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)

	return a.inbound, nil
}

// MessageLimit reports Slack's per-message text limit (implements
// telegraph.MessageLimiter).
func (a *Adapter) MessageLimit() int { return MessageLimit }

// Send posts a message to a Slack channel. A non-zero DeleteAfter schedules
// the message's removal.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	if msg.ChannelID == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	var ts string
	err := retryOnRateLimit(ctx, func() error {
		var postErr error
		_, ts, postErr = a.client.PostMessage(msg.ChannelID, slackapi.MsgOptionText(msg.Text, false))
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", classify(err))
	}

	if msg.DeleteAfter > 0 && ts != "" {
		a.scheduleDelete(msg.ChannelID, ts, msg.DeleteAfter)
	}
	return nil
}

func (a *Adapter) scheduleDelete(channelID, ts string, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		a.mu.Lock()
		delete(a.pending, t)
		a.mu.Unlock()
		if err := a.DeleteMessage(context.Background(), channelID, ts); err != nil {
			log.Printf("slack: delete notice %s: %v", ts, err)
		}
	})
	a.pending[t] = struct{}{}
}

// DeleteMessage removes a message, identified by its timestamp.
func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, delErr := a.client.DeleteMessage(channelID, messageID)
		return delErr
	})
	if err != nil {
		return fmt.Errorf("slack: delete message: %w", classify(err))
	}
	return nil
}

// ResolveChannel looks the channel up with conversations.info.
func (a *Adapter) ResolveChannel(ctx context.Context, channelID string) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		_, infoErr := a.client.GetConversationInfo(&slackapi.GetConversationInfoInput{ChannelID: channelID})
		return infoErr
	})
	if err != nil {
		return fmt.Errorf("slack: resolve channel %s: %w", channelID, classify(err))
	}
	return nil
}

// Close shuts down the adapter and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	for t := range a.pending {
		t.Stop()
	}
	a.pending = nil
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) checkConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("slack: not connected")
	}
	return nil
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when it returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.RunContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		log.Printf("slack: socket mode disconnected (attempt %d/%d): %v, reconnecting in %v",
			attempt+1, a.maxReconnect, err, wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	log.Printf("slack: socket mode exhausted %d reconnection attempts, giving up", a.maxReconnect)
}

// pumpEvents reads Socket Mode events and converts them to InboundMessages.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		if eventsAPIEvent.Type != slackevents.CallbackEvent {
			return
		}
		if ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			a.handleMessage(ev)
		}

	case socketmode.EventTypeConnecting:
		log.Printf("slack: connecting to Socket Mode...")

	case socketmode.EventTypeConnected:
		log.Printf("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		log.Printf("slack: connection error: %v", evt.Data)

	case socketmode.EventTypeDisconnect:
		log.Printf("slack: server requested disconnect, will reconnect")
	}
}

// handleMessage converts a Slack message event to an InboundMessage.
// Bot messages and subtypes (edits, deletes, joins) are ignored.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	if ev.BotID != "" || ev.SubType != "" || ev.User == "" {
		return
	}
	if ev.User == a.BotUserID() {
		return
	}

	msg := telegraph.InboundMessage{
		Platform:  "slack",
		ChannelID: ev.Channel,
		MessageID: ev.TimeStamp,
		UserID:    ev.User,
		UserName:  a.resolveUserName(ev.User),
		Text:      ev.Text,
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- msg:
	default:
		log.Printf("slack: inbound buffer full, dropping message %s from %s", ev.TimeStamp, ev.User)
	}
}

// resolveUserName looks up and caches a user's display name. Falls back
// to the user ID.
func (a *Adapter) resolveUserName(userID string) string {
	a.mu.Lock()
	name, ok := a.names[userID]
	a.mu.Unlock()
	if ok {
		return name
	}

	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	name = user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = userID
	}
	a.mu.Lock()
	a.names[userID] = name
	a.mu.Unlock()
	return name
}

// classify maps Slack API error strings onto the telegraph sentinels.
func classify(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "channel_not_found") {
		return fmt.Errorf("%w: %w", telegraph.ErrChannelNotFound, err)
	}
	for _, p := range permanentErrors {
		if strings.Contains(msg, p) {
			return fmt.Errorf("%w: %w", telegraph.ErrPermanent, err)
		}
	}
	return err
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var ns int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		ns, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, ns)
}
