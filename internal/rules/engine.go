package rules

import (
	"context"
	"sync"
	"time"

	"alerthub/internal/alert"
	"alerthub/internal/logger"
	"alerthub/internal/metrics"
	"alerthub/internal/models"

	"go.uber.org/zap"
)

// RuleStore yields the enabled rules ordered by (order, id).
type RuleStore interface {
	EnabledRules(ctx context.Context) ([]models.Rule, error)
}

// Suggester returns knowledge base articles relevant to an event.
type Suggester interface {
	Suggest(ctx context.Context, event *models.AlertEvent) ([]models.KBArticle, error)
}

// Dispatcher executes one rendered action. It must not fail outward.
type Dispatcher interface {
	Dispatch(ctx context.Context, action models.Action, event *models.AlertEvent)
}

type cacheEntry struct {
	updatedAt time.Time
	compiled  *Compiled
}

// Engine evaluates every enabled rule against an event. It holds no
// per-event state and may be called from many goroutines at once.
type Engine struct {
	store      RuleStore
	suggester  Suggester
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	log        *zap.Logger

	mu    sync.Mutex
	cache map[uint64]cacheEntry
}

type EngineOption func(*Engine)

func WithSuggester(s Suggester) EngineOption { return func(e *Engine) { e.suggester = s } }

func WithEngineMetrics(m *metrics.Metrics) EngineOption { return func(e *Engine) { e.metrics = m } }

func NewEngine(store RuleStore, dispatcher Dispatcher, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      store,
		dispatcher: dispatcher,
		log:        logger.Named("rules"),
		cache:      make(map[uint64]cacheEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// compiled returns the cached compilation of rule, recompiling when the rule
// was updated. Structural problems are logged once per rule version. Rules
// that were never persisted carry no version and are compiled every time.
func (e *Engine) compiled(rule models.Rule) *Compiled {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.cache[rule.ID]; ok && !rule.UpdatedAt.IsZero() && entry.updatedAt.Equal(rule.UpdatedAt) {
		return entry.compiled
	}
	c := Compile(rule)
	if c.Err() != nil {
		e.log.Warn("rule disabled by invalid condition",
			zap.Uint64("rule_id", rule.ID),
			zap.String("rule", rule.Name),
			zap.Error(c.Err()),
		)
	}
	e.cache[rule.ID] = cacheEntry{updatedAt: rule.UpdatedAt, compiled: c}
	return c
}

// prune drops compilations of rules that are no longer enabled.
func (e *Engine) prune(enabled []models.Rule) {
	live := make(map[uint64]struct{}, len(enabled))
	for _, r := range enabled {
		live[r.ID] = struct{}{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.cache {
		if _, ok := live[id]; !ok {
			delete(e.cache, id)
		}
	}
}

// Evaluate matches the event against all enabled rules, in order, and
// dispatches the rendered actions of each match. Every matching rule fires.
func (e *Engine) Evaluate(ctx context.Context, event *models.AlertEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("rule evaluation panicked", zap.Uint64("event_id", event.ID), zap.Any("panic", r))
		}
	}()

	ruleList, err := e.store.EnabledRules(ctx)
	if err != nil {
		e.log.Error("failed to load rules", zap.Uint64("event_id", event.ID), zap.Error(err))
		return
	}

	e.prune(ruleList)

	attrs := Attributes(event)
	var data map[string]any
	for _, rule := range ruleList {
		c := e.compiled(rule)
		if !c.Match(attrs) {
			continue
		}
		e.metrics.RuleMatched(rule.Name)
		e.log.Info("rule matched",
			zap.Uint64("event_id", event.ID),
			zap.Uint64("rule_id", rule.ID),
			zap.String("rule", rule.Name),
			zap.Int("actions", len(rule.Actions)),
		)
		if data == nil {
			data = e.renderContext(ctx, event, attrs)
		}

		rctx := alert.WithRule(ctx, rule.ID, rule.Name)
		for _, action := range rule.Actions {
			e.dispatcher.Dispatch(rctx, RenderAction(action, data), event)
		}
	}
}

// renderContext extends the attribute view with knowledge base suggestions
// and a root cause hint.
func (e *Engine) renderContext(ctx context.Context, event *models.AlertEvent, attrs map[string]any) map[string]any {
	data := make(map[string]any, len(attrs)+2)
	for k, v := range attrs {
		data[k] = v
	}

	kb := []any{}
	if e.suggester != nil {
		articles, err := e.suggester.Suggest(ctx, event)
		if err != nil {
			e.log.Warn("knowledge base lookup failed", zap.Uint64("event_id", event.ID), zap.Error(err))
		}
		for _, a := range articles {
			kb = append(kb, map[string]any{"title": a.Title, "solution": a.Solution})
		}
	}
	data["kb_articles"] = kb
	data["root_cause"] = RootCause(event)
	return data
}
