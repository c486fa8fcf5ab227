package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestNewMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	if m.RequestTotal == nil {
		t.Error("RequestTotal should not be nil")
	}
	if m.SessionRefreshTotal == nil {
		t.Error("SessionRefreshTotal should not be nil")
	}
	if m.ForwardDurationMs == nil {
		t.Error("ForwardDurationMs should not be nil")
	}
	if m.UpstreamErrorsTotal == nil {
		t.Error("UpstreamErrorsTotal should not be nil")
	}
	if m.RateLimitHitsTotal == nil {
		t.Error("RateLimitHitsTotal should not be nil")
	}
}

func TestRecordRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRequest("protected_api", "allow")
	m.RecordRequest("protected_api", "allow")
	m.RecordRequest("protected_page", "redirect_to_login")

	if v := counterValue(t, m.RequestTotal.WithLabelValues("protected_api", "allow")); v != 2 {
		t.Errorf("expected 2 allowed API requests, got %v", v)
	}
	if v := counterValue(t, m.RequestTotal.WithLabelValues("protected_page", "redirect_to_login")); v != 1 {
		t.Errorf("expected 1 login redirect, got %v", v)
	}
}

func TestRecordForward(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordForward("/api/v1/query", 200, 120)
	m.RecordForward("/api/v1/query", 502, 30)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var samples uint64
	for _, f := range families {
		if f.GetName() != "medgate_forward_duration_ms" {
			continue
		}
		for _, metric := range f.GetMetric() {
			samples += metric.GetHistogram().GetSampleCount()
		}
	}
	if samples != 2 {
		t.Errorf("expected 2 histogram samples, got %d", samples)
	}
}

func TestRecordCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRefresh("refreshed")
	m.RecordUpstreamError("inference_backend", "timeout")
	m.RecordRateLimitHit("/api/v1/ai/translate")

	if v := counterValue(t, m.SessionRefreshTotal.WithLabelValues("refreshed")); v != 1 {
		t.Errorf("expected 1 refresh, got %v", v)
	}
	if v := counterValue(t, m.UpstreamErrorsTotal.WithLabelValues("inference_backend", "timeout")); v != 1 {
		t.Errorf("expected 1 upstream error, got %v", v)
	}
	if v := counterValue(t, m.RateLimitHitsTotal.WithLabelValues("/api/v1/ai/translate")); v != 1 {
		t.Errorf("expected 1 rate limit hit, got %v", v)
	}
}
