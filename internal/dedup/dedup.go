// Package dedup suppresses rule evaluation for bursts of identical alerts.
package dedup

import (
	"context"
	"fmt"
	"time"

	"alerthub/internal/models"

	"gorm.io/gorm"
)

// DefaultWindow is the span within which a repeat of a fingerprint is a duplicate.
const DefaultWindow = 60 * time.Second

// Deduplicator looks for recent events sharing a fingerprint. It runs after
// the event is persisted and never modifies storage.
type Deduplicator struct {
	db    *gorm.DB
	clock func() time.Time
}

// New returns a Deduplicator reading from db. A nil clock means time.Now.
func New(db *gorm.DB, clock func() time.Time) *Deduplicator {
	if clock == nil {
		clock = time.Now
	}
	return &Deduplicator{db: db, clock: clock}
}

// IsDuplicate returns the most recent event persisted before event with the
// same fingerprint and created within window of now, or nil when there is none.
func (d *Deduplicator) IsDuplicate(ctx context.Context, event *models.AlertEvent, window time.Duration) (*models.AlertEvent, error) {
	if window <= 0 {
		return nil, nil
	}
	since := d.clock().Add(-window).UTC()

	var prior []models.AlertEvent
	err := d.db.WithContext(ctx).
		Where("fingerprint = ? AND created_at >= ? AND id < ?", event.Fingerprint, since, event.ID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&prior).Error
	if err != nil {
		return nil, fmt.Errorf("dedup lookup for %s: %w", event.Fingerprint, err)
	}
	if len(prior) == 0 {
		return nil, nil
	}
	return &prior[0], nil
}
