// Package journal stores an audit trail of answered turns and delivered
// operator messages.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/keith/internal/models"
	"gorm.io/gorm"
)

// DefaultRecentLimit caps Recent when the caller passes a non-positive limit.
const DefaultRecentLimit = 20

// Journal records turns with GORM.
type Journal struct {
	db *gorm.DB
}

// New returns a Journal writing to db. The turns table must already exist
// (see db.AutoMigrate).
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: db is required")
	}
	return &Journal{db: db}, nil
}

// Record inserts a turn. CreatedAt defaults to now.
func (j *Journal) Record(ctx context.Context, t *models.Turn) error {
	if t == nil {
		return fmt.Errorf("journal: turn is required")
	}
	if err := j.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("journal: record turn: %w", err)
	}
	return nil
}

// Filter narrows Recent.
type Filter struct {
	ChannelID string
	Kind      string
	Limit     int
}

// Recent returns the newest turns first.
func (j *Journal) Recent(ctx context.Context, f Filter) ([]models.Turn, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	q := j.db.WithContext(ctx).Model(&models.Turn{})
	if f.ChannelID != "" {
		q = q.Where("channel_id = ?", f.ChannelID)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	var turns []models.Turn
	if err := q.Order("created_at DESC").Limit(limit).Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("journal: recent turns: %w", err)
	}
	return turns, nil
}

// Count returns how many turns of each outcome were recorded since t.
func (j *Journal) Count(ctx context.Context, since time.Time) (map[string]int64, error) {
	var rows []struct {
		Outcome string
		N       int64
	}
	err := j.db.WithContext(ctx).Model(&models.Turn{}).
		Select("outcome, COUNT(*) AS n").
		Where("created_at >= ?", since).
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("journal: count turns: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Outcome] = r.N
	}
	return out, nil
}

// Prune deletes turns created before the cutoff and returns how many were
// removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := j.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.Turn{})
	if res.Error != nil {
		return 0, fmt.Errorf("journal: prune: %w", res.Error)
	}
	return res.RowsAffected, nil
}
