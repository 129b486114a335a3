package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"alerthub/internal/alert"
	"alerthub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRules struct {
	rules []models.Rule
	err   error
}

func (s *staticRules) EnabledRules(context.Context) ([]models.Rule, error) {
	return s.rules, s.err
}

type staticKB []models.KBArticle

func (k staticKB) Suggest(context.Context, *models.AlertEvent) ([]models.KBArticle, error) {
	return k, nil
}

type dispatched struct {
	action   models.Action
	ruleName string
}

type captureDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
}

func (c *captureDispatcher) Dispatch(ctx context.Context, action models.Action, _ *models.AlertEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, name, _ := alert.RuleFromContext(ctx)
	c.calls = append(c.calls, dispatched{action: action, ruleName: name})
}

func TestEvaluateDispatchesEveryMatchInOrder(t *testing.T) {
	store := &staticRules{rules: []models.Rule{
		{
			ID: 1, Name: "critical-email", Enabled: true,
			Conditions: []models.Condition{{Path: "severity", Op: "eq", Value: "critical"}},
			Actions: []models.Action{
				{"type": "email", "to": []any{"ops@example.com"}, "subject": "[{{ severity }}] {{ title }}"},
				{"type": "webhook", "url": "https://hook", "json": map[string]any{"text": "{{ title }}"}},
			},
		},
		{
			ID: 2, Name: "warning-only", Enabled: true,
			Conditions: []models.Condition{{Path: "severity", Op: "eq", Value: "warning"}},
			Actions:    []models.Action{{"type": "email", "to": []any{"x@example.com"}}},
		},
		{
			ID: 3, Name: "catch-all", Enabled: true,
			Actions: []models.Action{{"type": "webhook", "url": "https://all", "json": map[string]any{"kb": "{{ kb_articles }}"}}},
		},
	}}
	d := &captureDispatcher{}
	kb := staticKB{{Title: "Disk", Solution: "clean /var"}}
	e := NewEngine(store, d, WithSuggester(kb))

	e.Evaluate(context.Background(), sampleEvent())

	require.Len(t, d.calls, 3)
	assert.Equal(t, "[critical] disk_space_low", d.calls[0].action["subject"])
	assert.Equal(t, "critical-email", d.calls[0].ruleName)
	assert.Equal(t, map[string]any{"text": "disk_space_low"}, d.calls[1].action["json"])
	assert.Equal(t, "catch-all", d.calls[2].ruleName)
	assert.Equal(t, map[string]any{"kb": `[{"solution":"clean /var","title":"Disk"}]`}, d.calls[2].action["json"])
}

func TestEvaluateSkipsInvalidRules(t *testing.T) {
	store := &staticRules{rules: []models.Rule{
		{ID: 1, Name: "bad-op", Conditions: []models.Condition{{Path: "severity", Op: "gte", Value: "high"}},
			Actions: []models.Action{{"type": "email", "to": []any{"a@b"}}}},
		{ID: 2, Name: "empty-in", Conditions: []models.Condition{{Path: "severity", Op: "in", Value: []any{}}},
			Actions: []models.Action{{"type": "email", "to": []any{"a@b"}}}},
	}}
	d := &captureDispatcher{}
	NewEngine(store, d).Evaluate(context.Background(), sampleEvent())
	assert.Empty(t, d.calls)
}

func TestEvaluateStoreError(t *testing.T) {
	d := &captureDispatcher{}
	e := NewEngine(&staticRules{err: errors.New("db down")}, d)
	assert.NotPanics(t, func() { e.Evaluate(context.Background(), sampleEvent()) })
	assert.Empty(t, d.calls)
}

type panickingDispatcher struct{}

func (panickingDispatcher) Dispatch(context.Context, models.Action, *models.AlertEvent) {
	panic("boom")
}

func TestEvaluateRecoversPanics(t *testing.T) {
	store := &staticRules{rules: []models.Rule{{ID: 1, Name: "all", Actions: []models.Action{{"type": "webhook"}}}}}
	e := NewEngine(store, panickingDispatcher{})
	assert.NotPanics(t, func() { e.Evaluate(context.Background(), sampleEvent()) })
}

func TestEvaluateForgetsRemovedRules(t *testing.T) {
	version := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	store := &staticRules{rules: []models.Rule{
		{ID: 1, Name: "a", Enabled: true, UpdatedAt: version},
		{ID: 2, Name: "b", Enabled: true, UpdatedAt: version},
	}}
	e := NewEngine(store, &captureDispatcher{})
	ev := &models.AlertEvent{ID: 1, Severity: "critical"}

	e.Evaluate(context.Background(), ev)
	assert.Len(t, e.cache, 2)

	store.rules = store.rules[:1]
	e.Evaluate(context.Background(), ev)
	assert.Len(t, e.cache, 1)
	assert.Contains(t, e.cache, uint64(1))
}
