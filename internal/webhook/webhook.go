// Package webhook posts share requests to the automation webhook that sends
// the photo over WhatsApp.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/supercopa/totem/internal/httputil"
)

const (
	SourceHeader = "X-Source"
	Source       = "supercopa-totem"
	TestSource   = "supercopa-totem-test"

	maxBodyBytes = 1 << 20
)

// Payload is the JSON document the automation expects.
type Payload struct {
	SessionID        string `json:"sessionId"`
	GeneratedImageID string `json:"generatedImageId"`
	ShareID          string `json:"shareId"`
	PhoneNumber      string `json:"phoneNumber"`
	ImageURL         string `json:"imageUrl"`
	TeamID           string `json:"teamId"`
	TeamName         string `json:"teamName"`
	IdolID           string `json:"idolId"`
	IdolName         string `json:"idolName"`
	IdolNickname     string `json:"idolNickname"`
	Timestamp        string `json:"timestamp"`
	ImageSize        string `json:"imageSize"`
}

// Response is the outcome of a webhook call. Failures are reported here
// rather than as errors.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client posts to a single webhook URL.
type Client struct {
	url        string
	httpClient *http.Client
	now        func() time.Time
}

func New(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = httputil.NewClient(15 * time.Second)
	}
	return &Client{url: strings.TrimSpace(url), httpClient: httpClient, now: time.Now}
}

// Configured reports whether a URL is set.
func (c *Client) Configured() bool {
	return c != nil && c.url != ""
}

// Trigger posts p. A missing Timestamp is filled with the current time.
func (c *Client) Trigger(ctx context.Context, p Payload) Response {
	if !c.Configured() {
		return Response{Message: "webhook not configured", Error: "N8N_WEBHOOK_URL is not set"}
	}
	now := c.now().UTC()
	if p.Timestamp == "" {
		p.Timestamp = now.Format(time.RFC3339Nano)
	}

	resp, err := c.post(ctx, p, map[string]string{
		"Accept":      "application/json",
		SourceHeader:  Source,
		"X-Timestamp": now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return Response{Message: "webhook request failed", Error: err.Error()}
	}
	defer resp.Body.Close()

	body, _, err := httputil.ReadAllWithLimit(resp.Body, maxBodyBytes)
	if err != nil {
		return Response{Message: "webhook response unreadable", Error: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{Message: fmt.Sprintf("HTTP %d", resp.StatusCode), Error: strings.TrimSpace(string(body))}
	}

	out := Response{Success: true, Message: "webhook delivered"}
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mediaType == "application/json" {
		var data any
		if json.Unmarshal(body, &data) == nil {
			out.Data = data
		}
	}
	return out
}

// Test posts a marker payload so the automation can be checked from the
// diagnostics page.
func (c *Client) Test(ctx context.Context) Response {
	if !c.Configured() {
		return Response{Message: "webhook not configured", Error: "N8N_WEBHOOK_URL is not set"}
	}

	payload := map[string]any{
		"test":      true,
		"message":   "Teste de conexão do Totem SuperCopa",
		"timestamp": c.now().UTC().Format(time.RFC3339Nano),
	}
	resp, err := c.post(ctx, payload, map[string]string{SourceHeader: TestSource})
	if err != nil {
		return Response{Message: "webhook unreachable", Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _, _ := httputil.ReadAllWithLimit(resp.Body, maxBodyBytes)
		return Response{Message: fmt.Sprintf("webhook returned status %d", resp.StatusCode), Error: strings.TrimSpace(string(body))}
	}
	return Response{Success: true, Message: "webhook reachable"}
}

func (c *Client) post(ctx context.Context, payload any, headers map[string]string) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.httpClient.Do(req)
}
