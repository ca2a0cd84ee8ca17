package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsExportsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.now = func() time.Time { return time.Unix(1_772_000_000, 0) }

	job := "outbox-retention"
	m.ObserveDuration(job, 250*time.Millisecond)
	m.IncSuccess(job)
	m.IncSuccess(job)
	m.IncFailure(job)
	m.IncFailure("")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	runs := findMetricFamily(mfs, "payments_cron_job_runs_total")
	require.NotNil(t, runs)
	assert.Equal(t, 2.0, valueWith(runs, map[string]string{"job": job, "outcome": "success"}).GetCounter().GetValue())
	assert.Equal(t, 1.0, valueWith(runs, map[string]string{"job": job, "outcome": "failure"}).GetCounter().GetValue())
	assert.Equal(t, 1.0, valueWith(runs, map[string]string{"job": "unknown", "outcome": "failure"}).GetCounter().GetValue())

	last := findMetricFamily(mfs, "payments_cron_job_last_success_timestamp_seconds")
	require.NotNil(t, last)
	assert.Equal(t, 1_772_000_000.0, valueWith(last, map[string]string{"job": job}).GetGauge().GetValue())

	duration := findMetricFamily(mfs, "payments_cron_job_duration_seconds")
	require.NotNil(t, duration)
	assert.InDelta(t, 0.25, valueWith(duration, map[string]string{"job": job}).GetHistogram().GetSampleSum(), 1e-9)
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.IncSuccess("job")
	m.IncFailure("job")
	m.ObserveDuration("job", time.Second)

	NewCronJobMetrics(nil).IncSuccess("job")
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

// valueWith returns the series whose labels include every pair in want, or an
// empty metric so getters read as zero.
func valueWith(mf *dto.MetricFamily, want map[string]string) *dto.Metric {
	for _, metric := range mf.GetMetric() {
		matched := 0
		for _, label := range metric.GetLabel() {
			if v, ok := want[label.GetName()]; ok && v == label.GetValue() {
				matched++
			}
		}
		if matched == len(want) {
			return metric
		}
	}
	return &dto.Metric{}
}
