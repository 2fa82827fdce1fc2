package assistant

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Registry maps chat channels to their assistant conversation for the
// lifetime of the process. Conversations are created lazily on first use
// and are reused until evicted.
//
// The lock is not held across CreateConversation, so channels never wait on
// each other. Two concurrent Resolve calls for the same channel may both
// create a conversation; callers serialize turns per channel.
type Registry struct {
	backend Backend

	mu            sync.Mutex
	conversations map[string]string // channelID -> conversationID
}

// NewRegistry creates an empty Registry backed by b.
func NewRegistry(b Backend) (*Registry, error) {
	if b == nil {
		return nil, fmt.Errorf("assistant: registry: backend is required")
	}
	return &Registry{
		backend:       b,
		conversations: make(map[string]string),
	}, nil
}

// Resolve returns the conversation bound to channelID, creating and storing
// a new one if none exists. created reports whether a conversation was
// created by this call.
func (r *Registry) Resolve(ctx context.Context, channelID string) (conversationID string, created bool, err error) {
	if id, ok := r.Lookup(channelID); ok {
		return id, false, nil
	}

	id, err := r.backend.CreateConversation(ctx)
	if err != nil {
		return "", false, fmt.Errorf("assistant: create conversation for channel %s: %w", channelID, err)
	}

	r.mu.Lock()
	r.conversations[channelID] = id
	r.mu.Unlock()

	log.Printf("assistant: channel %s bound to conversation %s", channelID, id)
	return id, true, nil
}

// Lookup returns the conversation bound to channelID without creating one.
func (r *Registry) Lookup(channelID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.conversations[channelID]
	return id, ok
}

// Evict removes any conversation bound to channelID. The next Resolve
// creates a fresh conversation.
func (r *Registry) Evict(channelID string) {
	r.mu.Lock()
	id, ok := r.conversations[channelID]
	delete(r.conversations, channelID)
	r.mu.Unlock()
	if ok {
		log.Printf("assistant: channel %s released conversation %s", channelID, id)
	}
}

// Len returns the number of bound channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conversations)
}
