// Package store is the gorm-backed repository behind the management API,
// the rule engine and the knowledge base suggester.
package store

import (
	"context"
	"errors"
	"fmt"

	"alerthub/internal/models"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not found")

const (
	defaultLimit = 100
	maxLimit     = 1000
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

func notFound(err error, what string, id uint64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return err
}

// EnabledRules returns the enabled rules in evaluation order.
func (s *Store) EnabledRules(ctx context.Context) ([]models.Rule, error) {
	var rules []models.Rule
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("sort_order ASC").Order("id ASC").
		Find(&rules).Error
	return rules, err
}

func (s *Store) ListRules(ctx context.Context) ([]models.Rule, error) {
	var rules []models.Rule
	err := s.db.WithContext(ctx).Order("sort_order ASC").Order("id ASC").Find(&rules).Error
	return rules, err
}

func (s *Store) GetRule(ctx context.Context, id uint64) (*models.Rule, error) {
	var rule models.Rule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		return nil, notFound(err, "rule", id)
	}
	return &rule, nil
}

func (s *Store) CreateRule(ctx context.Context, rule *models.Rule) error {
	return s.db.WithContext(ctx).Create(rule).Error
}

// UpdateRule overwrites every mutable field of an existing rule.
func (s *Store) UpdateRule(ctx context.Context, rule *models.Rule) error {
	res := s.db.WithContext(ctx).Model(&models.Rule{ID: rule.ID}).
		Select("name", "enabled", "conditions", "actions", "sort_order", "updated_at").
		Updates(rule)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("rule %d: %w", rule.ID, ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).Delete(&models.Rule{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return nil
}

// EnabledArticles returns enabled articles, highest priority first.
func (s *Store) EnabledArticles(ctx context.Context) ([]models.KBArticle, error) {
	var articles []models.KBArticle
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("priority DESC").Order("id ASC").
		Find(&articles).Error
	return articles, err
}

func (s *Store) ListArticles(ctx context.Context) ([]models.KBArticle, error) {
	var articles []models.KBArticle
	err := s.db.WithContext(ctx).Order("priority DESC").Order("id ASC").Find(&articles).Error
	return articles, err
}

func (s *Store) CreateArticle(ctx context.Context, a *models.KBArticle) error {
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *Store) DeleteArticle(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).Delete(&models.KBArticle{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("article %d: %w", id, ErrNotFound)
	}
	return nil
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Fingerprint string
	Source      string
	GroupID     uint64
	Limit       int
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]models.AlertEvent, error) {
	q := s.db.WithContext(ctx).Model(&models.AlertEvent{})
	if f.Fingerprint != "" {
		q = q.Where("fingerprint = ?", f.Fingerprint)
	}
	if f.Source != "" {
		q = q.Where("source = ?", f.Source)
	}
	if f.GroupID != 0 {
		q = q.Where("group_id = ?", f.GroupID)
	}
	var events []models.AlertEvent
	err := q.Order("created_at DESC").Order("id DESC").Limit(clampLimit(f.Limit)).Find(&events).Error
	return events, err
}

// GroupFilter narrows ListGroups.
type GroupFilter struct {
	Status string
	Limit  int
}

// ListGroups returns groups by most recent activity.
func (s *Store) ListGroups(ctx context.Context, f GroupFilter) ([]models.AlertGroup, error) {
	q := s.db.WithContext(ctx).Model(&models.AlertGroup{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var groups []models.AlertGroup
	err := q.Order("last_seen DESC").Order("id DESC").Limit(clampLimit(f.Limit)).Find(&groups).Error
	return groups, err
}

func (s *Store) GetGroup(ctx context.Context, id uint64) (*models.AlertGroup, error) {
	var group models.AlertGroup
	if err := s.db.WithContext(ctx).First(&group, id).Error; err != nil {
		return nil, notFound(err, "group", id)
	}
	return &group, nil
}

// AckGroup marks a group acknowledged. Later firing events keep the
// acknowledgement; a resolution clears it.
func (s *Store) AckGroup(ctx context.Context, id uint64) (*models.AlertGroup, error) {
	var group models.AlertGroup
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&group, id).Error; err != nil {
			return notFound(err, "group", id)
		}
		group.Status = models.StatusAcknowledged
		return tx.Model(&group).Update("status", models.StatusAcknowledged).Error
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}
