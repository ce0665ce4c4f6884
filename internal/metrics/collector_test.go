package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollectorWithRegisterer("ragchat_test", reg, nil), reg
}

func TestRecordHTTPRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordHTTPRequest("POST", "/api/chat", 200, 50*time.Millisecond)
	c.RecordHTTPRequest("POST", "/api/chat", 200, 80*time.Millisecond)
	c.RecordHTTPRequest("GET", "/healthz", 500, time.Millisecond)

	assert.Equal(t, float64(2),
		testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/chat", "2xx")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/healthz", "5xx")))
}

func TestRecordTurn(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordTurn("ok", true, time.Second)
	c.RecordTurn("ok", false, time.Second)
	c.RecordTurn("error", false, time.Second)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.turnsTotal.WithLabelValues("ok", "true")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.turnsTotal.WithLabelValues("ok", "false")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.turnsTotal.WithLabelValues("error", "false")))
}

func TestRecordCacheCounters(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordCacheHit("retrieval")
	c.RecordCacheHit("retrieval")
	c.RecordCacheMiss("retrieval")

	assert.Equal(t, float64(2),
		testutil.ToFloat64(c.cacheHits.WithLabelValues("retrieval")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.cacheMisses.WithLabelValues("retrieval")))
}

func TestRecordToolExecution(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordToolExecution("retrieveDocument", "ok", 20*time.Millisecond)
	c.RecordToolExecution("transferToSupport", "ok", time.Millisecond)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.toolExecutionsTotal.WithLabelValues("retrieveDocument", "ok")))
}

func TestRecordLLMRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordLLMRequest("gpt-4o-mini", "ok", 100, 40)

	assert.Equal(t, float64(100),
		testutil.ToFloat64(c.llmTokensUsed.WithLabelValues("gpt-4o-mini", "prompt")))
	assert.Equal(t, float64(40),
		testutil.ToFloat64(c.llmTokensUsed.WithLabelValues("gpt-4o-mini", "completion")))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "3xx", statusClass(301))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "unknown", statusClass(42))
}
