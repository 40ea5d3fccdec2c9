package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordClaim()
	m.RecordClaim()
	m.RecordFinished("done", 42)
	m.RecordFinished("failed", 3)
	m.RecordFinished("failed", 5)
	m.RecordStepFailure("wait for otp")
	m.RecordEscalation()
	m.RecordSlots(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsClaimed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("done")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepFailures.WithLabelValues("wait for otp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalations))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.slotsFound))
}

func TestMetrics_NilRegistry(t *testing.T) {
	// Two collectors must not collide on a shared default registry.
	assert.NotPanics(t, func() {
		NewMetrics(nil)
		NewMetrics(nil)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordRequest("/api/login/next", "200")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `otpboard_http_requests_total{code="200",route="/api/login/next"} 1`)
}
