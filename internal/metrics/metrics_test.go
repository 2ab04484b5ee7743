package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}
	if c.Registry() == nil {
		t.Fatal("expected non-nil Prometheus registry")
	}
}

func TestConnectionLifecycle(t *testing.T) {
	c := NewCollector()

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()

	if v := getCounterValue(t, c.connectionsTotal); v != 2 {
		t.Errorf("expected connections_total 2, got %f", v)
	}
	if v := getGaugeValue(t, c.connectionsActive); v != 1 {
		t.Errorf("expected connections_active 1, got %f", v)
	}
}

func TestAuthCounters(t *testing.T) {
	c := NewCollector()

	c.AuthSucceeded()
	c.AuthSucceeded()
	c.AuthFailed("invalid_signature")
	c.AuthFailed("invalid_signature")
	c.AuthFailed("timestamp_out_of_bounds")

	if v := getCounterValue(t, c.authSuccessTotal); v != 2 {
		t.Errorf("expected auth_success_total 2, got %f", v)
	}
	if v := getVecCounterValue(t, c.authFailuresTotal, "invalid_signature"); v != 2 {
		t.Errorf("expected invalid_signature failures 2, got %f", v)
	}
	if v := getVecCounterValue(t, c.authFailuresTotal, "timestamp_out_of_bounds"); v != 1 {
		t.Errorf("expected timestamp_out_of_bounds failures 1, got %f", v)
	}
}

func TestSetActiveSessions(t *testing.T) {
	c := NewCollector()

	c.SetActiveSessions(7)
	if v := getGaugeValue(t, c.sessionsActive); v != 7 {
		t.Errorf("expected sessions_active 7, got %f", v)
	}

	c.SetActiveSessions(0)
	if v := getGaugeValue(t, c.sessionsActive); v != 0 {
		t.Errorf("expected sessions_active 0 after reset, got %f", v)
	}
}

func TestCommandProcessed(t *testing.T) {
	c := NewCollector()

	c.CommandProcessed("PING", "ok", 10*time.Millisecond)
	c.CommandProcessed("PING", "ok", 50*time.Millisecond)
	c.CommandProcessed("ECHO", "error", 5*time.Millisecond)

	if v := getVecCounterValue(t, c.commandsTotal, "PING", "ok"); v != 2 {
		t.Errorf("expected PING/ok count 2, got %f", v)
	}
	if v := getVecCounterValue(t, c.commandsTotal, "ECHO", "error"); v != 1 {
		t.Errorf("expected ECHO/error count 1, got %f", v)
	}

	observer := c.commandDuration.WithLabelValues("PING")
	metric := &dto.Metric{}
	if err := observer.(prometheus.Metric).Write(metric); err != nil {
		t.Fatalf("failed to read prometheus metric: %v", err)
	}
	hist := metric.GetHistogram()
	if hist == nil {
		t.Fatal("expected histogram metric")
	}
	if hist.GetSampleCount() != 2 {
		t.Errorf("expected histogram sample count 2, got %d", hist.GetSampleCount())
	}
	// Sum should be approximately 0.060 seconds (10ms + 50ms)
	if hist.GetSampleSum() < 0.05 || hist.GetSampleSum() > 0.07 {
		t.Errorf("expected histogram sum ~0.060, got %f", hist.GetSampleSum())
	}
}

func TestProtocolErrorCounter(t *testing.T) {
	c := NewCollector()

	c.ProtocolError("replay_detected")
	c.ProtocolError("replay_detected")
	c.ProtocolError("frame_too_large")

	if v := getVecCounterValue(t, c.protocolErrorsTotal, "replay_detected"); v != 2 {
		t.Errorf("expected replay_detected errors 2, got %f", v)
	}
	if v := getVecCounterValue(t, c.protocolErrorsTotal, "frame_too_large"); v != 1 {
		t.Errorf("expected frame_too_large errors 1, got %f", v)
	}
}

func TestFrameCounters(t *testing.T) {
	c := NewCollector()

	c.FrameRead()
	c.FrameRead()
	c.FrameRead()
	c.FrameWritten()

	if v := getCounterValue(t, c.framesReadTotal); v != 3 {
		t.Errorf("expected frames_read_total 3, got %f", v)
	}
	if v := getCounterValue(t, c.framesWrittenTotal); v != 1 {
		t.Errorf("expected frames_written_total 1, got %f", v)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector()

	c.ConnectionOpened()
	c.AuthSucceeded()
	c.AuthFailed("invalid_signature")
	c.SetActiveSessions(1)
	c.CommandProcessed("PING", "ok", 25*time.Millisecond)
	c.ProtocolError("io")
	c.FrameRead()
	c.FrameWritten()

	handler := c.Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	body, err := io.ReadAll(rr.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	bodyStr := string(body)

	expectedMetrics := []string{
		"portcullis_connections_total",
		"portcullis_connections_active",
		"portcullis_auth_success_total",
		"portcullis_auth_failures_total",
		"portcullis_sessions_active",
		"portcullis_commands_total",
		"portcullis_command_duration_seconds",
		"portcullis_protocol_errors_total",
		"portcullis_frames_read_total",
		"portcullis_frames_written_total",
	}

	for _, name := range expectedMetrics {
		if !strings.Contains(bodyStr, name) {
			t.Errorf("expected metric %q in Prometheus output, not found", name)
		}
	}

	if !strings.Contains(bodyStr, `command="PING"`) {
		t.Error("expected command label 'PING' in Prometheus output")
	}
	if !strings.Contains(bodyStr, `reason="invalid_signature"`) {
		t.Error("expected reason label 'invalid_signature' in Prometheus output")
	}
}

func TestHandlerContentType(t *testing.T) {
	c := NewCollector()
	handler := c.Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	ct := rr.Header().Get("Content-Type")
	if !strings.Contains(ct, "text/plain") {
		t.Errorf("expected Content-Type containing text/plain, got %q", ct)
	}
}

func TestRegistryGather(t *testing.T) {
	c := NewCollector()

	c.ConnectionOpened()

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one metric family from registry")
	}

	var found bool
	for _, mf := range families {
		if mf.GetName() == "portcullis_connections_total" {
			found = true
			if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 1 {
				t.Errorf("expected gathered connections_total 1, got %f", v)
			}
		}
	}
	if !found {
		t.Error("portcullis_connections_total not found in gathered families")
	}
}

// getCounterValue extracts the current value from a plain Counter.
func getCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to read counter metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

// getVecCounterValue extracts the counter value for the given labels from a CounterVec.
func getVecCounterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	counter := cv.WithLabelValues(labels...)
	metric := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(metric); err != nil {
		t.Fatalf("failed to read counter metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

// getGaugeValue extracts the current value from a Prometheus Gauge.
func getGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("failed to read gauge metric: %v", err)
	}
	return metric.GetGauge().GetValue()
}
