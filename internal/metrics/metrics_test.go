package metrics

import (
	"testing"
)

func TestCounterIncrementsAreObservable(t *testing.T) {
	m := New()
	m.RequestsTotal.WithLabelValues("llama-gpu", "code", "success").Inc()

	metricFamilies, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := false
	for _, mf := range metricFamilies {
		if mf.GetName() != "requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if metric.GetCounter().GetValue() == 1 {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected requests_total to report a counter value of 1")
	}
}

func TestHistogramBucketsMatchContract(t *testing.T) {
	m := New()
	m.LatencySeconds.WithLabelValues("llama-gpu", "code").Observe(1.5)

	metricFamilies, _ := m.registry.Gather()
	for _, mf := range metricFamilies {
		if mf.GetName() != "latency_seconds" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			h := metric.GetHistogram()
			if h.GetSampleCount() != 1 {
				t.Errorf("sample count = %d, want 1", h.GetSampleCount())
			}
		}
	}
}

func TestMultipleRegistriesDoNotConflict(t *testing.T) {
	m1 := New()
	m2 := New()

	m1.RequestsTotal.WithLabelValues("a", "code", "success").Inc()
	m2.RequestsTotal.WithLabelValues("b", "code", "success").Inc()

	mf1, _ := m1.registry.Gather()
	mf2, _ := m2.registry.Gather()
	if len(mf1) == 0 || len(mf2) == 0 {
		t.Fatal("expected both independently-constructed registries to report metrics")
	}
}
