package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecordOperation(t *testing.T) {
	m := NewMetrics()
	m.RecordOperation("create_topic", nil, time.Millisecond)
	m.RecordOperation("create_topic", nil, time.Millisecond)
	m.RecordOperation("create_topic", errors.New("boom"), time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `topicgraph_operations_total{operation="create_topic",status="success"} 2`)
	assert.Contains(t, body, `topicgraph_operations_total{operation="create_topic",status="error"} 1`)
	assert.Contains(t, body, `topicgraph_operation_duration_seconds_count{operation="create_topic"} 3`)
}

func TestIndependentRegistries(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.RecordSearch(3)
	assert.Contains(t, scrape(t, a), "topicgraph_search_results_total 3")
	assert.Contains(t, scrape(t, b), "topicgraph_search_results_total 0")
}

func TestHandlerExposesTypeCache(t *testing.T) {
	m := NewMetrics()
	m.WatchTypeCache(func() int { return 4 })
	m.RecordHTTPRequest("/api/topics/{id}", "GET", "200", time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, "topicgraph_type_cache_entries 4")
	assert.Contains(t, body, `topicgraph_http_requests_total{code="200",method="GET",route="/api/topics/{id}"} 1`)
}
