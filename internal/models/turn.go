package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Turn kinds.
const (
	TurnAssistant = "assistant" // trigger word answered by the assistant
	TurnOverride  = "override"  // operator message delivered in manual mode
)

// Turn is one journaled exchange: a prompt answered by the assistant, or a
// manual-mode message delivered by the operator. The journal is an audit
// log; channel-to-conversation bindings are never restored from it.
type Turn struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Kind           string    `gorm:"size:16;not null;index" json:"kind"`
	Platform       string    `gorm:"size:16;not null" json:"platform"`
	ChannelID      string    `gorm:"size:128;not null;index" json:"channel_id"`
	UserID         string    `gorm:"size:128" json:"user_id,omitempty"`
	UserName       string    `gorm:"size:64" json:"user_name,omitempty"`
	ConversationID string    `gorm:"size:128" json:"conversation_id,omitempty"`
	RunID          string    `gorm:"size:128" json:"run_id,omitempty"`
	Prompt         string    `gorm:"type:text" json:"prompt,omitempty"`
	Reply          string    `gorm:"type:text" json:"reply,omitempty"`
	Outcome        string    `gorm:"size:32;not null;index" json:"outcome"`
	Error          string    `gorm:"type:text" json:"error,omitempty"`
	Segments       int       `gorm:"not null;default:0" json:"segments"`
	DurationMs     int64     `gorm:"not null;default:0" json:"duration_ms"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns a random ID when none is set.
func (t *Turn) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
