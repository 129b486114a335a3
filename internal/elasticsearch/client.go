package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"alerthub/internal/config"
	"alerthub/internal/logger"
	"alerthub/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

// EventDocument is the indexed form of an alert event.
type EventDocument struct {
	EventID      uint64            `json:"event_id"`
	GroupID      uint64            `json:"group_id"`
	Fingerprint  string            `json:"fingerprint"`
	Source       string            `json:"source"`
	ExternalID   string            `json:"external_id,omitempty"`
	Status       string            `json:"status"`
	Severity     string            `json:"severity"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	Resource     string            `json:"resource,omitempty"`
	Service      string            `json:"service,omitempty"`
	Metric       string            `json:"metric,omitempty"`
	Namespace    string            `json:"namespace,omitempty"`
	GeneratorURL string            `json:"generator_url,omitempty"`
	Timestamp    time.Time         `json:"@timestamp"`
}

// NewEventDocument flattens an event for indexing. Annotations stay in the
// database; they are free-form and would blow up the mapping.
func NewEventDocument(e *models.AlertEvent) EventDocument {
	return EventDocument{
		EventID:      e.ID,
		GroupID:      e.GroupID,
		Fingerprint:  e.Fingerprint,
		Source:       e.Source,
		ExternalID:   e.ExternalID,
		Status:       e.Status,
		Severity:     e.Severity,
		Title:        e.Title,
		Description:  e.Description,
		Labels:       e.Labels,
		Resource:     e.Resource,
		Service:      e.Service,
		Metric:       e.Metric,
		Namespace:    e.Namespace,
		GeneratorURL: e.GeneratorURL,
		Timestamp:    e.CreatedAt.UTC(),
	}
}

type Client struct {
	es     *elasticsearch.Client
	prefix string
	log    *zap.Logger
}

// NewClient connects to the cluster. It returns a nil client when indexing
// is disabled; every method of a nil *Client is a no-op.
func NewClient(cfg config.ElasticsearchConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	// 测试连接
	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned error: %s", res.String())
	}

	c := &Client{es: es, prefix: cfg.IndexPrefix, log: logger.Named("elasticsearch")}
	c.log.Info("Elasticsearch client initialized", zap.Strings("addresses", cfg.Addresses))
	return c, nil
}

// IndexName is the daily index an event created at t lands in.
func (c *Client) IndexName(t time.Time) string {
	return fmt.Sprintf("%s-%s", c.prefix, t.UTC().Format("2006.01.02"))
}

// IndexEvent stores the event under its id, so re-indexing is idempotent.
func (c *Client) IndexEvent(ctx context.Context, event *models.AlertEvent) error {
	if c == nil || c.es == nil {
		return nil
	}

	body, err := json.Marshal(NewEventDocument(event))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.IndexName(event.CreatedAt),
		DocumentID: strconv.FormatUint(event.ID, 10),
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("failed to index event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch indexing error: %s", res.String())
	}
	c.log.Debug("event indexed", zap.Uint64("event_id", event.ID), zap.String("index", req.Index))
	return nil
}

// SearchQuery 事件搜索条件
type SearchQuery struct {
	Fingerprint string     `json:"fingerprint,omitempty"`
	Source      string     `json:"source,omitempty"`
	Status      string     `json:"status,omitempty"`
	Severity    string     `json:"severity,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	QueryText   string     `json:"query_text,omitempty"`
	Size        int        `json:"size,omitempty"`
	From        int        `json:"from,omitempty"`
}

type SearchResult struct {
	Total int64           `json:"total"`
	Hits  []EventDocument `json:"hits"`
}

// SearchBody builds the query DSL for q.
func SearchBody(q *SearchQuery) map[string]any {
	must := []map[string]any{}
	for field, value := range map[string]string{
		"fingerprint": q.Fingerprint,
		"source":      q.Source,
		"status":      q.Status,
		"severity":    q.Severity,
	} {
		if value != "" {
			must = append(must, map[string]any{"term": map[string]any{field: value}})
		}
	}

	if q.StartTime != nil || q.EndTime != nil {
		r := map[string]any{}
		if q.StartTime != nil {
			r["gte"] = q.StartTime.UTC().Format(time.RFC3339)
		}
		if q.EndTime != nil {
			r["lte"] = q.EndTime.UTC().Format(time.RFC3339)
		}
		must = append(must, map[string]any{"range": map[string]any{"@timestamp": r}})
	}

	if q.QueryText != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  q.QueryText,
				"fields": []string{"title", "description", "resource", "service"},
			},
		})
	}

	size := q.Size
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}

	return map[string]any{
		"query": map[string]any{"bool": map[string]any{"must": must}},
		"size":  size,
		"from":  max(q.From, 0),
		"sort":  []map[string]any{{"@timestamp": map[string]any{"order": "desc"}}},
	}
}

// SearchEvents runs q across all daily indices.
func (c *Client) SearchEvents(ctx context.Context, q *SearchQuery) (*SearchResult, error) {
	if c == nil || c.es == nil {
		return &SearchResult{Hits: []EventDocument{}}, nil
	}

	body, err := json.Marshal(SearchBody(q))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{c.prefix + "-*"},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search error: %s", res.String())
	}

	var response struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source EventDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	result := &SearchResult{
		Total: response.Hits.Total.Value,
		Hits:  make([]EventDocument, 0, len(response.Hits.Hits)),
	}
	for _, hit := range response.Hits.Hits {
		result.Hits = append(result.Hits, hit.Source)
	}
	return result, nil
}

// CreateIndexTemplate installs the mapping for the daily event indices.
func (c *Client) CreateIndexTemplate(ctx context.Context) error {
	if c == nil || c.es == nil {
		return nil
	}

	name := c.prefix + "-template"
	template := map[string]any{
		"index_patterns": []string{c.prefix + "-*"},
		"template": map[string]any{
			"settings": map[string]any{
				"number_of_shards":   1,
				"number_of_replicas": 1,
				"refresh_interval":   "5s",
			},
			"mappings": map[string]any{
				"properties": map[string]any{
					"event_id":      map[string]string{"type": "long"},
					"group_id":      map[string]string{"type": "long"},
					"fingerprint":   map[string]string{"type": "keyword"},
					"source":        map[string]string{"type": "keyword"},
					"external_id":   map[string]string{"type": "keyword"},
					"status":        map[string]string{"type": "keyword"},
					"severity":      map[string]string{"type": "keyword"},
					"title":         map[string]string{"type": "text"},
					"description":   map[string]string{"type": "text"},
					"labels":        map[string]string{"type": "flattened"},
					"resource":      map[string]string{"type": "keyword"},
					"service":       map[string]string{"type": "keyword"},
					"metric":        map[string]string{"type": "keyword"},
					"namespace":     map[string]string{"type": "keyword"},
					"generator_url": map[string]string{"type": "keyword"},
					"@timestamp":    map[string]string{"type": "date"},
				},
			},
		},
	}

	body, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to marshal index template: %w", err)
	}

	req := esapi.IndicesPutIndexTemplateRequest{
		Name: name,
		Body: bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		c.log.Warn("failed to create index template", zap.String("response", res.String()))
	} else {
		c.log.Info("index template created", zap.String("name", name))
	}
	return nil
}
