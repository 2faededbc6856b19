package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewUsesPrivateRegistry(t *testing.T) {
	a := New("")
	b := New("")
	if a.Registry() == b.Registry() {
		t.Fatal("registries should be distinct")
	}
}

func TestRecordGeneration(t *testing.T) {
	m := New("test")
	m.RecordGeneration("success", 2, 3*time.Second)
	m.RecordGeneration("overloaded", 2, 0)

	if got := testutil.ToFloat64(m.generations.WithLabelValues("success")); got != 1 {
		t.Errorf("success generations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.generationRetries); got != 4 {
		t.Errorf("retries = %v, want 4", got)
	}
}

func TestRecordShareAndSessions(t *testing.T) {
	m := New("test")
	m.RecordShare("sent")
	m.RecordShare("failed")
	m.RecordShare("sent")
	m.RecordSessionStarted(true)
	m.RecordSessionStarted(false)
	m.RecordSessionCompleted("cancel")
	m.SetActiveSessions(3)
	m.RecordEvictions(2)

	if got := testutil.ToFloat64(m.shares.WithLabelValues("sent")); got != 2 {
		t.Errorf("sent shares = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.sessionsStarted.WithLabelValues("false")); got != 1 {
		t.Errorf("ephemeral sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeSessions); got != 3 {
		t.Errorf("active sessions = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.evictions); got != 2 {
		t.Errorf("evictions = %v, want 2", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New("test")
	m.RecordTransition("TEAM_SELECTION", "IDOL_SELECTION")
	m.RecordHTTPRequest("totem", "GET", "/healthz", "200", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`test_kiosk_screen_transitions_total{from="TEAM_SELECTION",to="IDOL_SELECTION"} 1`,
		`test_http_requests_total{method="GET",path="/healthz",service="totem",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
