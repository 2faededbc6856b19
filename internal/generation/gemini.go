package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/supercopa/totem/internal/catalog"
	"github.com/supercopa/totem/internal/httputil"
)

const (
	DefaultModel   = "gemini-3-pro-image-preview"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	ServiceName    = "Google Gemini AI"

	aspectRatio      = "9:16"
	maxResponseBytes = 64 << 20
)

// ErrNoImage means the model answered without an inline image.
var ErrNoImage = errors.New("no image generated in response")

// APIError is an error reply from the Gemini API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: %d %s: %s", e.StatusCode, e.Status, e.Message)
}

// IsTransient reports whether err is worth retrying: a 503, an UNAVAILABLE
// status, or a message mentioning overload or 503.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusServiceUnavailable || apiErr.Status == "UNAVAILABLE" {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") || strings.Contains(msg, "503")
}

// GeminiConfig configures GeminiClient.
type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiClient calls models/{model}:generateContent.
type GeminiClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httputil.NewClient(3 * time.Minute)
	}
	return &GeminiClient{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
	}
}

func (g *GeminiClient) Model() string { return g.model }

// Configured reports whether an API key is set.
func (g *GeminiClient) Configured() bool { return g.apiKey != "" }

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string `json:"responseModalities"`
		ImageConfig        struct {
			ImageSize   catalog.ImageSize `json:"imageSize"`
			AspectRatio string            `json:"aspectRatio"`
		} `json:"imageConfig"`
	} `json:"generationConfig"`
	Tools []map[string]struct{} `json:"tools"`
}

// Generate makes a single generateContent call.
func (g *GeminiClient) Generate(ctx context.Context, req Request) (*Image, error) {
	if !g.Configured() {
		return nil, ErrNotConfigured
	}

	mime := req.SelfieMIME
	if mime == "" {
		mime = "image/jpeg"
	}

	var body generateRequest
	body.Contents = []content{{
		Role: "user",
		Parts: []part{
			{Text: req.Prompt},
			{InlineData: &inlineData{MIMEType: mime, Data: base64.StdEncoding.EncodeToString(req.Selfie)}},
		},
	}}
	body.GenerationConfig.ResponseModalities = []string{"TEXT", "IMAGE"}
	body.GenerationConfig.ImageConfig.ImageSize = req.Size
	body.GenerationConfig.ImageConfig.AspectRatio = aspectRatio
	body.Tools = []map[string]struct{}{{"googleSearch": {}}}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := httputil.ReadAllStrict(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, raw)
	}
	return extractImage(raw)
}

func parseAPIError(statusCode int, raw []byte) *APIError {
	e := &APIError{StatusCode: statusCode, Status: http.StatusText(statusCode)}
	if !gjson.ValidBytes(raw) {
		e.Message = strings.TrimSpace(string(raw))
		return e
	}
	result := gjson.GetBytes(raw, "error")
	if code := result.Get("code"); code.Exists() {
		e.StatusCode = int(code.Int())
	}
	if status := result.Get("status"); status.Exists() {
		e.Status = status.String()
	}
	e.Message = result.Get("message").String()
	return e
}

func extractImage(raw []byte) (*Image, error) {
	var img *Image
	var decodeErr error
	gjson.GetBytes(raw, "candidates.0.content.parts").ForEach(func(_, p gjson.Result) bool {
		data := p.Get("inlineData")
		if !data.Exists() {
			data = p.Get("inline_data")
		}
		if !data.Exists() {
			return true
		}
		mime := data.Get("mimeType").String()
		if mime == "" {
			mime = data.Get("mime_type").String()
		}
		if mime == "" {
			mime = "image/png"
		}
		decoded, err := base64.StdEncoding.DecodeString(data.Get("data").String())
		if err != nil {
			decodeErr = fmt.Errorf("decode inline image: %w", err)
			return false
		}
		img = &Image{Data: decoded, MIME: mime}
		return false
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	if img == nil || len(img.Data) == 0 {
		return nil, ErrNoImage
	}
	return img, nil
}

// ConnectionReport is the diagnostic result of TestConnection.
type ConnectionReport struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Service     string `json:"service"`
	Model       string `json:"model"`
	DisplayName string `json:"displayName,omitempty"`
	KeyPrefix   string `json:"keyPrefix,omitempty"`
	Error       string `json:"error,omitempty"`
}

// TestConnection checks the key by fetching the model metadata.
func (g *GeminiClient) TestConnection(ctx context.Context) ConnectionReport {
	report := ConnectionReport{Service: ServiceName, Model: g.model}
	if !g.Configured() {
		report.Message = "Gemini API key not configured"
		report.Error = ErrNotConfigured.Error()
		return report
	}
	if len(g.apiKey) > 10 {
		report.KeyPrefix = g.apiKey[:10] + "..."
	}

	reqURL := fmt.Sprintf("%s/models/%s", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		report.Message = "failed to build request"
		report.Error = err.Error()
		return report
	}
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		report.Message = "Gemini API unreachable"
		report.Error = err.Error()
		return report
	}
	defer resp.Body.Close()

	raw, truncated, err := httputil.ReadAllWithLimit(resp.Body, 1<<20)
	if err != nil || truncated {
		report.Message = "invalid response from Gemini API"
		if err != nil {
			report.Error = err.Error()
		}
		return report
	}
	if resp.StatusCode >= 400 {
		apiErr := parseAPIError(resp.StatusCode, raw)
		report.Message = "Gemini API rejected the key"
		report.Error = apiErr.Error()
		return report
	}

	report.Success = true
	report.Message = "Gemini API reachable"
	report.DisplayName = gjson.GetBytes(raw, "displayName").String()
	return report
}
