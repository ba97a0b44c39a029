package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privacyguard/internal/domain/models"
	"privacyguard/internal/metrics"
)

func TestObserveScan(t *testing.T) {
	m := metrics.New()
	start := time.Now()
	m.ObserveScan(&models.ScanSummary{
		StartedAt:   start,
		CompletedAt: start.Add(2 * time.Second),
		AppCount:    12,
		Device: models.DeviceSafetyResult{
			SafetyScore:     41,
			HighRiskCount:   2,
			MediumRiskCount: 3,
			UserAppThreats:  4,
		},
	})
	m.ObserveScan(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal))
	assert.Equal(t, 41.0, testutil.ToFloat64(m.SafetyScore))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.AppsScanned))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Threats.WithLabelValues("high")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Threats.WithLabelValues("medium")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.UserAppThreats))
}

func TestObserveFailuresAndLookups(t *testing.T) {
	m := metrics.New()
	m.ObserveScanFailure("persist")
	m.ObserveScanFailure("persist")
	m.ObserveScanFailure("cancelled")
	m.ObserveVerdictLookup("found")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ScanFailures.WithLabelValues("persist")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScanFailures.WithLabelValues("cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerdictLookups.WithLabelValues("found")))
}

func TestHandler(t *testing.T) {
	m := metrics.New()
	m.ObserveVerdictLookup("not_found")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `privacyguard_verdict_lookups_total{outcome="not_found"} 1`)
}
