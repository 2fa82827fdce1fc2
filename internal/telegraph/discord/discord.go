// Package discord implements the telegraph Adapter for Discord using the Gateway WebSocket.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/keith/internal/telegraph"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// inboundBuffer is the capacity of the inbound message channel.
	inboundBuffer = 100
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	FetchChannel(channelID string) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }

// Channel looks the channel up in the gateway state cache.
func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	return r.s.State.Channel(channelID)
}

// FetchChannel asks the REST API for the channel.
func (r *realSession) FetchChannel(channelID string) (*discordgo.Channel, error) {
	return r.s.Channel(channelID)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelMessageDelete(channelID, messageID, options...)
}
func (r *realSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelTyping(channelID, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Adapter implements telegraph.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess          session
	botToken      string
	botUserID     string
	mu            sync.Mutex
	connected     bool
	closed        bool
	inbound       chan telegraph.InboundMessage
	removeHandler func()
	pending       map[*time.Timer]struct{} // scheduled DeleteAfter removals
	baseBackoff   time.Duration
	maxBackoff    time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string // Discord bot token
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}

	a := &Adapter{
		botToken:    opts.BotToken,
		inbound:     make(chan telegraph.InboundMessage, inboundBuffer),
		pending:     make(map[*time.Timer]struct{}),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}

	if opts.Session != nil {
		a.sess = opts.Session
	}

	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	// Ready fires on connect and on every full reconnect.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})

	// discordgo reconnects on its own; these are for the log only.
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) {
		log.Printf("discord: gateway session resumed")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen returns a channel of inbound messages from Discord. Registers a
// message handler on the Gateway session. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}

	a.removeHandler = a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	return a.inbound, nil
}

// Send posts a message to a Discord channel. Mass mentions are suppressed;
// a non-zero DeleteAfter schedules the message's removal.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	if msg.ChannelID == "" {
		return fmt.Errorf("discord: no channel specified")
	}

	data := &discordgo.MessageSend{
		Content: msg.Text,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
		},
	}

	var sent *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var sendErr error
		sent, sendErr = a.sess.ChannelMessageSendComplex(msg.ChannelID, data)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", classify(err))
	}

	if msg.DeleteAfter > 0 && sent != nil {
		a.scheduleDelete(msg.ChannelID, sent.ID, msg.DeleteAfter)
	}
	return nil
}

// scheduleDelete removes a sent message after d. Pending removals are
// abandoned when the adapter closes.
func (a *Adapter) scheduleDelete(channelID, messageID string, d time.Duration) {
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
		if err := a.DeleteMessage(context.Background(), channelID, messageID); err != nil {
			log.Printf("discord: delete notice %s: %v", messageID, err)
		}
	})
	a.pending[t] = struct{}{}
}

// DeleteMessage removes a message from a channel.
func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.ChannelMessageDelete(channelID, messageID)
	})
	if err != nil {
		return fmt.Errorf("discord: delete message: %w", classify(err))
	}
	return nil
}

// ResolveChannel checks the gateway cache first and falls back to the
// REST API.
func (a *Adapter) ResolveChannel(ctx context.Context, channelID string) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	if ch, err := a.sess.Channel(channelID); err == nil && ch != nil {
		return nil
	}
	err := a.retryOnRateLimit(ctx, func() error {
		_, fetchErr := a.sess.FetchChannel(channelID)
		return fetchErr
	})
	if err != nil {
		return fmt.Errorf("discord: resolve channel %s: %w", channelID, classify(err))
	}
	return nil
}

// Typing shows the typing indicator in a channel for a few seconds.
func (a *Adapter) Typing(ctx context.Context, channelID string) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	if err := a.sess.ChannelTyping(channelID); err != nil {
		return fmt.Errorf("discord: typing: %w", err)
	}
	return nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.removeHandler != nil {
		a.removeHandler()
	}
	for t := range a.pending {
		t.Stop()
	}
	a.pending = nil
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after the Ready event).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) checkConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

// handleMessage converts a Discord message event to an InboundMessage.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if m.Author.ID == a.botUserID || m.Author.Bot {
		return
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)
	msg := telegraph.InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Text:      m.Content,
		Timestamp: ts,
	}
	select {
	case a.inbound <- msg:
	default:
		log.Printf("discord: inbound buffer full, dropping message %s from %s", m.ID, m.Author.ID)
	}
}

// classify marks REST failures the caller should not retry.
func classify(err error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return err
	}
	switch restErr.Response.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", telegraph.ErrChannelNotFound, err)
	case http.StatusForbidden, http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %w", telegraph.ErrPermanent, err)
	}
	return err
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
