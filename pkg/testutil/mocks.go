// Package testutil provides test doubles for the external services the kiosk
// talks to.
package testutil

import (
	"context"
	"net/http"
	"sync"

	"github.com/supercopa/totem/internal/generation"
	"github.com/supercopa/totem/internal/webhook"
)

// GeneratedPNG is the image every successful MockGenerator call returns.
var GeneratedPNG = []byte("\x89PNG\r\n\x1a\ngenerated")

// Overloaded returns the error the model API gives when it sheds load.
func Overloaded() error {
	return &generation.APIError{
		StatusCode: http.StatusServiceUnavailable,
		Status:     "UNAVAILABLE",
		Message:    "The model is overloaded.",
	}
}

// MockGenerator is a scripted generation.Generator. Call n fails with
// Errs[n-1] when that entry is non-nil and succeeds otherwise.
type MockGenerator struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	requests []generation.Request
}

// NewMockGenerator creates a generator that fails with errs in order.
func NewMockGenerator(errs ...error) *MockGenerator {
	return &MockGenerator{errs: errs}
}

// FailWith replaces the scripted errors and resets the call count.
func (m *MockGenerator) FailWith(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = errs
	m.calls = 0
}

// Generate implements generation.Generator.
func (m *MockGenerator) Generate(_ context.Context, req generation.Request) (*generation.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.requests = append(m.requests, req)
	if m.calls <= len(m.errs) && m.errs[m.calls-1] != nil {
		return nil, m.errs[m.calls-1]
	}
	return &generation.Image{Data: GeneratedPNG, MIME: "image/png"}, nil
}

// Calls returns the number of Generate calls since the last FailWith.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastRequest returns the most recent request, if any.
func (m *MockGenerator) LastRequest() (generation.Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return generation.Request{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// MockNotifier records webhook payloads and answers with a fixed response.
type MockNotifier struct {
	mu         sync.RWMutex
	configured bool
	resp       webhook.Response
	payloads   []webhook.Payload
}

// NewMockNotifier creates a configured notifier that always succeeds.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{configured: true, resp: webhook.Response{Success: true, Message: "ok"}}
}

// SetConfigured toggles whether the webhook URL counts as set.
func (m *MockNotifier) SetConfigured(configured bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configured = configured
}

// RespondWith sets the response for later triggers.
func (m *MockNotifier) RespondWith(resp webhook.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resp = resp
}

// Configured implements kiosk.Notifier.
func (m *MockNotifier) Configured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configured
}

// Trigger implements kiosk.Notifier.
func (m *MockNotifier) Trigger(_ context.Context, p webhook.Payload) webhook.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, p)
	return m.resp
}

// Payloads returns a copy of every payload triggered so far.
func (m *MockNotifier) Payloads() []webhook.Payload {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]webhook.Payload, len(m.payloads))
	copy(out, m.payloads)
	return out
}
