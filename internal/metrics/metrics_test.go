package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.EventIngested("zabbix", "firing", 5*time.Millisecond)
	m.EventIngested("zabbix", "firing", time.Millisecond)
	m.EventDeduplicated("zabbix")
	m.RuleMatched("critical")
	m.ActionDispatched("webhook", "failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingested.WithLabelValues("zabbix", "firing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deduplicated.WithLabelValues("zabbix")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ruleMatches.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("webhook", "failed")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventIngested("x", "firing", time.Second)
		m.IngestFailed("x")
		m.EventDeduplicated("x")
		m.RuleMatched("r")
		m.ActionDispatched("email", "sent")
	})
}
