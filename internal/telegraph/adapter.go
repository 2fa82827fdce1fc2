// Package telegraph bridges chat platforms (Discord, Slack) to the
// assistant backend and the operator override.
package telegraph

import (
	"context"
	"errors"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management, message sending/receiving, and
// channel lookups for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform. A non-zero
	// DeleteAfter removes the sent message once it elapses.
	Send(ctx context.Context, msg OutboundMessage) error

	// DeleteMessage removes a message from a channel.
	DeleteMessage(ctx context.Context, channelID, messageID string) error

	// ResolveChannel checks that a channel exists and is reachable.
	// It returns an error wrapping ErrChannelNotFound when it is not.
	ResolveChannel(ctx context.Context, channelID string) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

var (
	// ErrChannelNotFound reports a channel that no longer exists or is not visible.
	ErrChannelNotFound = errors.New("telegraph: channel not found")

	// ErrPermanent marks send failures that will not succeed on retry
	// (missing permissions, oversized payload).
	ErrPermanent = errors.New("telegraph: permanent failure")
)

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string    // e.g. "slack", "discord"
	ChannelID string    // platform-specific channel identifier
	MessageID string    // platform-specific message identifier
	UserID    string    // platform-specific user identifier
	UserName  string    // human-readable username
	Text      string    // raw message text
	Timestamp time.Time // when the message was sent
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID   string        // target channel
	Text        string        // message text (platform-native formatting)
	DeleteAfter time.Duration // zero keeps the message
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// Typer is an optional interface for adapters that can show a typing
// indicator while a reply is being prepared.
type Typer interface {
	Typing(ctx context.Context, channelID string) error
}

// MessageLimiter is an optional interface for adapters whose per-message
// length limit differs from DefaultMessageLimit.
type MessageLimiter interface {
	MessageLimit() int
}
