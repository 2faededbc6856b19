// Package generation composes the fan photo with the image model.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/supercopa/totem/internal/catalog"
	"github.com/supercopa/totem/internal/retry"
)

var (
	// ErrOverloaded is returned when every attempt failed transiently.
	ErrOverloaded = errors.New("image model is overloaded, try again shortly")
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("image generation is not configured")
)

// Request describes one fan photo.
type Request struct {
	Selfie     []byte
	SelfieMIME string
	IdolName   string
	TeamName   string
	Size       catalog.ImageSize
	// Prompt is filled by Service from IdolName and TeamName.
	Prompt string
}

// Image is a decoded image returned by the model.
type Image struct {
	Data []byte
	MIME string
}

// Generator performs a single generation attempt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Image, error)
}

// Result is the outcome of Service.Generate. Attempts, Retries and Latency
// are set even when generation failed.
type Result struct {
	Image     *Image
	Prompt    string
	Attempts  int
	Retries   int
	Latency   time.Duration
	Transient bool
}

// Service retries a Generator on transient failures.
type Service struct {
	gen    Generator
	policy retry.Policy
	now    func() time.Time
}

// NewService wraps gen with policy. A nil gen makes every call fail with
// ErrNotConfigured.
func NewService(gen Generator, policy retry.Policy) *Service {
	return &Service{gen: gen, policy: policy, now: time.Now}
}

// Configured reports whether a generator is wired.
func (s *Service) Configured() bool {
	if s.gen == nil {
		return false
	}
	if c, ok := s.gen.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return true
}

// Generate builds the prompt and runs the generator under the retry policy.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	res := &Result{Prompt: LogPrompt(req.IdolName, req.TeamName)}
	if !s.Configured() {
		return res, ErrNotConfigured
	}
	if len(req.Selfie) == 0 {
		return res, errors.New("selfie is required")
	}
	if req.Size == "" {
		req.Size = catalog.DefaultImageSize
	}
	req.Prompt = BuildPrompt(req.IdolName, req.TeamName)

	start := s.now()
	var img *Image
	stats, err := retry.Do(ctx, s.policy, func(ctx context.Context, _ int) error {
		out, err := s.gen.Generate(ctx, req)
		if err != nil {
			return err
		}
		img = out
		return nil
	}, IsTransient)

	res.Attempts = stats.Attempts
	res.Retries = stats.Retries
	res.Latency = s.now().Sub(start)

	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			res.Transient = true
			return res, fmt.Errorf("%w: %w", ErrOverloaded, err)
		}
		return res, err
	}
	res.Image = img
	return res, nil
}
