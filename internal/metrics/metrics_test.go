package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.AICall("laws", OutcomeError)
	m.LawsFallback()
	m.PartialTurn()
	m.ObserveRequest("/api/chat/query", http.MethodPost, 200, 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.aiCalls.WithLabelValues("laws", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lawsFallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.partialTurns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/api/chat/query", "POST", "200")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "laws_fallbacks_total 1")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.AICall("general", OutcomeOK)
	m.LawsFallback()
	m.PartialTurn()
	m.ObserveRequest("/", http.MethodGet, 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
