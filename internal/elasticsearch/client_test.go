package elasticsearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"alerthub/internal/config"
	"alerthub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct {
	mu       sync.Mutex
	requests map[string][]byte
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests[r.Method+" "+r.URL.Path] = body
	f.mu.Unlock()

	switch {
	case r.URL.Path == "/":
		_, _ = w.Write([]byte(`{"version":{"number":"8.11.0"},"tagline":"You Know, for Search"}`))
	case r.Method == http.MethodPost && r.URL.Path == "/alert-events-*/_search":
		_, _ = w.Write([]byte(`{"hits":{"total":{"value":1},"hits":[{"_source":{"event_id":5,"title":"Disk Full","@timestamp":"2026-04-01T00:00:00Z"}}]}}`))
	default:
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}
}

func newTestClient(t *testing.T) (*Client, *fakeCluster) {
	t.Helper()
	cluster := &fakeCluster{requests: map[string][]byte{}}
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	c, err := NewClient(config.ElasticsearchConfig{
		Enabled:     true,
		Addresses:   []string{srv.URL},
		IndexPrefix: "alert-events",
	})
	require.NoError(t, err)
	require.NotNil(t, c)
	return c, cluster
}

func TestDisabledClientIsNoop(t *testing.T) {
	c, err := NewClient(config.ElasticsearchConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, c)

	assert.NoError(t, c.IndexEvent(context.Background(), &models.AlertEvent{}))
	res, err := c.SearchEvents(context.Background(), &SearchQuery{})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestIndexEvent(t *testing.T) {
	c, cluster := newTestClient(t)

	ev := &models.AlertEvent{
		ID:          5,
		GroupID:     2,
		Fingerprint: "abc",
		Source:      "grafana",
		Status:      models.StatusFiring,
		Severity:    models.SeverityHigh,
		Title:       "Disk Full",
		Annotations: map[string]any{"raw": map[string]any{"big": true}},
		CreatedAt:   time.Date(2026, 4, 1, 23, 59, 0, 0, time.UTC),
	}
	require.NoError(t, c.IndexEvent(context.Background(), ev))

	body, ok := cluster.requests["PUT /alert-events-2026.04.01/_doc/5"]
	require.True(t, ok, "requests: %v", cluster.requests)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "Disk Full", doc["title"])
	assert.Equal(t, "abc", doc["fingerprint"])
	assert.NotContains(t, doc, "annotations")
}

func TestSearchEvents(t *testing.T) {
	c, _ := newTestClient(t)

	res, err := c.SearchEvents(context.Background(), &SearchQuery{Source: "grafana"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Total)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, uint64(5), res.Hits[0].EventID)
}

func TestSearchBody(t *testing.T) {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	body := SearchBody(&SearchQuery{Severity: "critical", StartTime: &start, Size: 500, From: -3})

	assert.Equal(t, 100, body["size"])
	assert.Equal(t, 0, body["from"])
	must := body["query"].(map[string]any)["bool"].(map[string]any)["must"].([]map[string]any)
	require.Len(t, must, 2)
	assert.Equal(t, map[string]any{"term": map[string]any{"severity": "critical"}}, must[0])
	assert.Equal(t, map[string]any{"range": map[string]any{"@timestamp": map[string]any{"gte": "2026-04-01T00:00:00Z"}}}, must[1])
}
