package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestWithContext_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := New("totem", "debug", "json")
	logger.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithSessionID(ctx, "sess-1")
	logger.WithContext(ctx).Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["trace_id"] != "trace-1" {
		t.Errorf("trace_id = %v, want trace-1", entry["trace_id"])
	}
	if entry["session_id"] != "sess-1" {
		t.Errorf("session_id = %v, want sess-1", entry["session_id"])
	}
	if entry["service"] != "totem" {
		t.Errorf("service = %v, want totem", entry["service"])
	}
}

func TestLogRequest_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := New("totem", "info", "json")
	logger.SetOutput(&buf)

	logger.LogRequest(context.Background(), http.MethodGet, "/healthz", http.StatusServiceUnavailable, 5*time.Millisecond)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["level"] != "error" {
		t.Errorf("level = %v, want error", entry["level"])
	}
	if entry["status"] != float64(http.StatusServiceUnavailable) {
		t.Errorf("status = %v", entry["status"])
	}
}

func TestNewTraceID_Unique(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if a == "" || a == b {
		t.Errorf("NewTraceID() returned %q and %q", a, b)
	}
}

func TestNew_InvalidLevelDefaultsToInfo(t *testing.T) {
	logger := New("totem", "loud", "text")
	if logger.GetLevel().String() != "info" {
		t.Errorf("level = %s, want info", logger.GetLevel())
	}
}
