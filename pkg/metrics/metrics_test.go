package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.ObserveRun("scheduled", "success", 20*time.Millisecond)
	m.ObserveRun("scheduled", "failure", time.Second)
	m.ObserveAction("send_email", true, time.Millisecond)
	m.ClaimRejected("conflict")
	m.DueResult("skipped", 2)
	m.DueResult("failed", 0)
	m.Dispatched("member_created")
	m.OnboardingStep("welcome", "completed")
	m.OnboardingDone("completed")

	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues("scheduled", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues("scheduled", "failure")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("send_email", "success")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.DueProcessed.WithLabelValues("skipped")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.OnboardingFinished.WithLabelValues("completed")), 0)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveRun("manual", "success", time.Second)
		m.ObserveAction("log", false, time.Second)
		m.ClaimRejected("in_progress")
		m.DueResult("processed", 1)
		m.Dispatched("member_created")
		m.OnboardingStep("welcome", "failed")
		m.OnboardingDone("failed")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Dispatched("donation_received")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kindred_dispatches_total{trigger_type="donation_received"} 1`)
}
