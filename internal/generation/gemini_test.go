package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/supercopa/totem/internal/catalog"
)

func newGemini(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewGeminiClient(GeminiConfig{APIKey: "test-key-123456", BaseURL: server.URL})
}

func TestGeminiClient_Generate(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	g := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-3-pro-image-preview:generateContent", r.URL.Path)
		assert.Equal(t, "test-key-123456", r.Header.Get("x-goog-api-key"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "prompt text", gjson.GetBytes(body, "contents.0.parts.0.text").String())
		assert.Equal(t, "image/jpeg", gjson.GetBytes(body, "contents.0.parts.1.inlineData.mimeType").String())
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("selfie")), gjson.GetBytes(body, "contents.0.parts.1.inlineData.data").String())
		assert.Equal(t, "4K", gjson.GetBytes(body, "generationConfig.imageConfig.imageSize").String())
		assert.Equal(t, "9:16", gjson.GetBytes(body, "generationConfig.imageConfig.aspectRatio").String())
		assert.True(t, gjson.GetBytes(body, "tools.0.googleSearch").Exists())

		fmt.Fprintf(w, `{"candidates":[{"content":{"parts":[{"text":"here you go"},{"inlineData":{"mimeType":"image/png","data":"%s"}}]}}]}`,
			base64.StdEncoding.EncodeToString(png))
	})

	img, err := g.Generate(context.Background(), Request{Selfie: []byte("selfie"), Prompt: "prompt text", Size: catalog.Size4K})
	require.NoError(t, err)
	assert.Equal(t, png, img.Data)
	assert.Equal(t, "image/png", img.MIME)
}

func TestGeminiClient_NoImage(t *testing.T) {
	g := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"sorry"}]}}]}`))
	})

	_, err := g.Generate(context.Background(), Request{Selfie: []byte("x")})
	assert.ErrorIs(t, err, ErrNoImage)
	assert.False(t, IsTransient(err))
}

func TestGeminiClient_Overloaded(t *testing.T) {
	g := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"The model is overloaded. Please try again later.","status":"UNAVAILABLE"}}`))
	})

	_, err := g.Generate(context.Background(), Request{Selfie: []byte("x")})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.StatusCode)
	assert.Equal(t, "UNAVAILABLE", apiErr.Status)
	assert.True(t, IsTransient(err))
}

func TestGeminiClient_NotConfigured(t *testing.T) {
	g := NewGeminiClient(GeminiConfig{})
	_, err := g.Generate(context.Background(), Request{Selfie: []byte("x")})
	assert.ErrorIs(t, err, ErrNotConfigured)

	report := g.TestConnection(context.Background())
	assert.False(t, report.Success)
	assert.Equal(t, DefaultModel, report.Model)
}

func TestGeminiClient_TestConnection(t *testing.T) {
	g := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-3-pro-image-preview", r.URL.Path)
		_, _ = w.Write([]byte(`{"name":"models/gemini-3-pro-image-preview","displayName":"Gemini 3 Pro Image"}`))
	})

	report := g.TestConnection(context.Background())
	assert.True(t, report.Success)
	assert.Equal(t, "Gemini 3 Pro Image", report.DisplayName)
	assert.Equal(t, "test-key-1...", report.KeyPrefix)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&APIError{StatusCode: 503}, true},
		{&APIError{StatusCode: 500, Status: "UNAVAILABLE"}, true},
		{&APIError{StatusCode: 400, Status: "INVALID_ARGUMENT", Message: "bad image"}, false},
		{errors.New("upstream overloaded"), true},
		{errors.New("got 503 from proxy"), true},
		{ErrNoImage, false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
