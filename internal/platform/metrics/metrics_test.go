package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditCounters(t *testing.T) {
	reg := NewRegistry()
	m := NewAudit(reg)

	m.IncAuditPublished("primary")
	m.IncAuditPublished("primary")
	m.IncAuditFailed("primary")
	m.IncAuditBreakerOpened()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Published.WithLabelValues("primary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failed.WithLabelValues("primary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerOpened))
}

func TestNilAuditIsSafe(t *testing.T) {
	var m *Audit
	assert.NotPanics(t, func() {
		m.IncAuditPublished("primary")
		m.IncAuditFailed("fallback")
		m.IncAuditBreakerOpened()
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := NewRegistry()
	NewAudit(reg).IncAuditPublished("fallback")

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `trainflow_audit_events_published_total{sink="fallback"} 1`)
}
