// Package ingest persists canonical alerts as events and groups, then hands
// non-duplicate events to rule evaluation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alerthub/internal/database"
	"alerthub/internal/dedup"
	"alerthub/internal/fingerprint"
	"alerthub/internal/logger"
	"alerthub/internal/metrics"
	"alerthub/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrIngest wraps every storage failure of an ingestion call. Nothing is
// persisted when it is returned.
var ErrIngest = errors.New("ingest failed")

// Evaluator runs rules against a newly ingested event.
type Evaluator interface {
	Evaluate(ctx context.Context, event *models.AlertEvent)
}

// Indexer mirrors persisted events into a search backend.
type Indexer interface {
	IndexEvent(ctx context.Context, event *models.AlertEvent) error
}

// Publisher fans events out to subscribers, duplicates included.
type Publisher interface {
	PublishEvent(ctx context.Context, event *models.AlertEvent, duplicate bool) error
}

// Result is the outcome of Process.
type Result struct {
	Event *models.AlertEvent
	// Duplicate is the earlier event that suppressed evaluation, if any.
	Duplicate *models.AlertEvent
}

// Deduplicated reports whether rule evaluation was skipped.
func (r *Result) Deduplicated() bool {
	return r.Duplicate != nil
}

type Pipeline struct {
	db        *gorm.DB
	dedup     *dedup.Deduplicator
	evaluator Evaluator
	indexer   Indexer
	publisher Publisher
	metrics   *metrics.Metrics
	window    time.Duration
	clock     func() time.Time
	locks     *keyedMutex
	log       *zap.Logger
}

type Option func(*Pipeline)

func WithEvaluator(e Evaluator) Option { return func(p *Pipeline) { p.evaluator = e } }

func WithIndexer(i Indexer) Option { return func(p *Pipeline) { p.indexer = i } }

func WithPublisher(pub Publisher) Option { return func(p *Pipeline) { p.publisher = pub } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithDedupWindow sets the dedup window; zero disables deduplication.
func WithDedupWindow(d time.Duration) Option { return func(p *Pipeline) { p.window = d } }

func WithClock(clock func() time.Time) Option { return func(p *Pipeline) { p.clock = clock } }

// WithLocalLocks forces or disables the in-process per-fingerprint mutex.
// By default it is used only on stores without row locks.
func WithLocalLocks(enabled bool) Option {
	return func(p *Pipeline) {
		if enabled {
			p.locks = newKeyedMutex()
		} else {
			p.locks = nil
		}
	}
}

func NewPipeline(db *gorm.DB, opts ...Option) *Pipeline {
	p := &Pipeline{
		db:     db,
		window: dedup.DefaultWindow,
		clock:  time.Now,
		log:    logger.Named("ingest"),
	}
	if !database.SupportsRowLocks(db) {
		p.locks = newKeyedMutex()
	}
	for _, opt := range opts {
		opt(p)
	}
	p.dedup = dedup.New(db, p.clock)
	return p
}

func (p *Pipeline) now() time.Time {
	return p.clock().UTC()
}

// Ingest fingerprints the alert and, in one transaction, upserts its group
// under an exclusive lock and appends the immutable event.
func (p *Pipeline) Ingest(ctx context.Context, alert models.Alert) (*models.AlertEvent, error) {
	start := time.Now()
	alert = withDefaults(alert)
	fp := fingerprint.Compute(alert.Source, alert.Labels, alert.Metric, alert.Title)

	if p.locks != nil {
		unlock := p.locks.Lock(fp)
		defer unlock()
	}

	now := p.now()
	event := newEvent(alert, fp, now)
	var group *models.AlertGroup

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		group, err = upsertGroup(tx, fp, alert.Status, now)
		if err != nil {
			return err
		}
		event.GroupID = group.ID
		return tx.Create(event).Error
	})
	if err != nil {
		p.metrics.IngestFailed(alert.Source)
		p.log.Error("ingestion rolled back",
			zap.String("source", alert.Source),
			zap.String("fingerprint", fp),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s: %v", ErrIngest, fp[:8], err)
	}

	p.metrics.EventIngested(alert.Source, alert.Status, time.Since(start))
	p.log.Info("ingested event",
		zap.Uint64("event_id", event.ID),
		zap.String("group", fp[:8]),
		zap.Int64("count", group.Count),
		zap.String("group_status", group.Status),
	)
	return event, nil
}

// Process ingests the alert, checks the dedup window and evaluates rules for
// non-duplicates. Only ingestion errors are returned; everything after the
// commit is best-effort.
func (p *Pipeline) Process(ctx context.Context, alert models.Alert) (*Result, error) {
	event, err := p.Ingest(ctx, alert)
	if err != nil {
		return nil, err
	}
	res := &Result{Event: event}

	prior, err := p.dedup.IsDuplicate(ctx, event, p.window)
	if err != nil {
		// fall through to evaluation: a lost notification is worse than a repeated one
		p.log.Warn("dedup check failed", zap.Uint64("event_id", event.ID), zap.Error(err))
	}
	if prior != nil {
		res.Duplicate = prior
		p.metrics.EventDeduplicated(event.Source)
		p.log.Debug("duplicate event, skipping rules",
			zap.Uint64("event_id", event.ID),
			zap.Uint64("prior_event_id", prior.ID),
		)
	} else if p.evaluator != nil {
		p.evaluator.Evaluate(ctx, event)
	}

	if p.indexer != nil {
		if err := p.indexer.IndexEvent(ctx, event); err != nil {
			p.log.Warn("failed to index event", zap.Uint64("event_id", event.ID), zap.Error(err))
		}
	}
	if p.publisher != nil {
		if err := p.publisher.PublishEvent(ctx, event, res.Deduplicated()); err != nil {
			p.log.Warn("failed to publish event", zap.Uint64("event_id", event.ID), zap.Error(err))
		}
	}
	return res, nil
}

// upsertGroup fetches the group with FOR UPDATE, creating it when missing.
// A create that loses a race to a concurrent ingestion re-reads the winner.
func upsertGroup(tx *gorm.DB, fp string, status models.AlertStatus, now time.Time) (*models.AlertGroup, error) {
	group, err := lockGroup(tx, fp)
	if err != nil {
		return nil, err
	}
	if group != nil {
		return group, advanceGroup(tx, group, status, now)
	}

	group = &models.AlertGroup{
		Fingerprint: fp,
		Status:      status,
		Count:       1,
		FirstSeen:   now,
		LastSeen:    now,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fingerprint"}},
		DoNothing: true,
	}).Create(group)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return group, nil
	}

	group, err = lockGroup(tx, fp)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, fmt.Errorf("group %s vanished after conflicting insert", fp[:8])
	}
	return group, advanceGroup(tx, group, status, now)
}

func lockGroup(tx *gorm.DB, fp string) (*models.AlertGroup, error) {
	var groups []models.AlertGroup
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("fingerprint = ?", fp).
		Limit(1).
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}
	return &groups[0], nil
}

// advanceGroup applies one more occurrence to a locked group. Arrival order
// decides the status: a resolution always resolves, a firing event reopens a
// resolved group but leaves an acknowledged one alone.
func advanceGroup(tx *gorm.DB, group *models.AlertGroup, status models.AlertStatus, now time.Time) error {
	group.Count++
	group.LastSeen = now
	switch {
	case status == models.StatusResolved:
		group.Status = models.StatusResolved
	case group.Status != models.StatusAcknowledged:
		group.Status = models.StatusFiring
	}

	return tx.Model(group).Updates(map[string]any{
		"count":     group.Count,
		"last_seen": group.LastSeen,
		"status":    group.Status,
	}).Error
}

func withDefaults(a models.Alert) models.Alert {
	if a.Source == "" {
		a.Source = "custom"
	}
	if a.Status != models.StatusResolved {
		a.Status = models.StatusFiring
	}
	if a.Severity == "" {
		a.Severity = models.SeverityWarning
	}
	if a.Labels == nil {
		a.Labels = map[string]string{}
	}
	if a.Annotations == nil {
		a.Annotations = map[string]any{}
	}
	return a
}

func newEvent(a models.Alert, fp string, now time.Time) *models.AlertEvent {
	return &models.AlertEvent{
		Source:       a.Source,
		ExternalID:   a.ExternalID,
		Status:       a.Status,
		Severity:     a.Severity,
		Title:        a.Title,
		Description:  a.Description,
		Labels:       a.Labels,
		Annotations:  a.Annotations,
		Fingerprint:  fp,
		StartsAt:     a.StartsAt,
		EndsAt:       a.EndsAt,
		Resource:     a.Resource,
		Service:      a.Service,
		Metric:       a.Metric,
		Namespace:    a.Namespace,
		GeneratorURL: a.GeneratorURL,
		CreatedAt:    now,
	}
}
