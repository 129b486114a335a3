// Package knowledge suggests knowledge base articles for alert events.
package knowledge

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"

	"alerthub/internal/logger"
	"alerthub/internal/models"

	"go.uber.org/zap"
)

// ArticleStore yields enabled articles ordered by priority desc, then id.
type ArticleStore interface {
	EnabledArticles(ctx context.Context) ([]models.KBArticle, error)
}

type Suggester struct {
	store ArticleStore
	log   *zap.Logger

	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp // nil value marks a pattern that does not compile
}

func NewSuggester(store ArticleStore) *Suggester {
	return &Suggester{
		store:    store,
		log:      logger.Named("knowledge"),
		patterns: make(map[string]*regexp.Regexp),
	}
}

// Suggest returns the articles whose pattern occurs anywhere in the event
// title or its labels, in store order. Articles with a broken pattern are
// skipped.
func (s *Suggester) Suggest(ctx context.Context, event *models.AlertEvent) ([]models.KBArticle, error) {
	articles, err := s.store.EnabledArticles(ctx)
	if err != nil {
		return nil, err
	}
	s.prune(articles)
	subject := Subject(event)

	var matched []models.KBArticle
	for _, a := range articles {
		re := s.compile(a.Pattern)
		if re == nil {
			continue
		}
		if re.MatchString(subject) {
			matched = append(matched, a)
		}
	}
	return matched, nil
}

// Subject is the text article patterns are searched in: the title, a newline
// and the labels as a JSON object with sorted keys.
func Subject(event *models.AlertEvent) string {
	labels := event.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	b, _ := json.Marshal(labels)
	return event.Title + "\n" + string(b)
}

// prune forgets patterns no enabled article uses any more.
func (s *Suggester) prune(articles []models.KBArticle) {
	live := make(map[string]struct{}, len(articles))
	for _, a := range articles {
		live[a.Pattern] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.patterns {
		if _, ok := live[p]; !ok {
			delete(s.patterns, p)
		}
	}
}

func (s *Suggester) compile(pattern string) *regexp.Regexp {
	s.mu.RLock()
	re, ok := s.patterns[pattern]
	s.mu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		s.log.Warn("skipping article with invalid pattern", zap.String("pattern", pattern), zap.Error(err))
		re = nil
	}
	s.mu.Lock()
	s.patterns[pattern] = re
	s.mu.Unlock()
	return re
}
