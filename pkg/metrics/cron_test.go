package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCronJobMetricsExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)

	metrics.ObserveDuration("reconcile-sweep", 1500*time.Millisecond)
	metrics.IncSuccess("reconcile-sweep")
	metrics.IncSuccess("reconcile-sweep")
	metrics.IncFailure("reconcile-sweep")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "job_success", "job", "reconcile-sweep"); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 2 {
		t.Fatalf("expected success=2, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "job_failure", "job", "reconcile-sweep"); err != nil {
		t.Fatalf("fetch failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}

	mf := findMetricFamily(mfs, "job_duration_seconds")
	if mf == nil {
		t.Fatal("job_duration_seconds not exported")
	}
	sum := mf.GetMetric()[0].GetHistogram().GetSampleSum()
	if sum < 1.4 || sum > 1.6 {
		t.Fatalf("unexpected histogram sum %f", sum)
	}
}

func TestCronJobMetricsEmptyJobLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)

	metrics.IncSuccess("")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "job_success", "job", "unknown"); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 1 {
		t.Fatalf("expected unknown=1, got %f", got)
	}
}
