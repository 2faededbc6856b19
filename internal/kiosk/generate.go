package kiosk

import (
	"context"
	"errors"

	svcerrors "github.com/supercopa/totem/internal/errors"
	"github.com/supercopa/totem/internal/flow"
	"github.com/supercopa/totem/internal/generation"
	"github.com/supercopa/totem/internal/records"
)

// Messages shown to the visitor when generation fails.
const (
	MessageOverloaded    = "O modelo Gemini está sobrecarregado no momento. Por favor, tente novamente em alguns instantes."
	MessageNotConfigured = "Chave de API do Gemini não encontrada."
	MessageGeneric       = "Não foi possível gerar a magia agora. Tente novamente."
)

// Generate composes the fan photo from the captured selfie. It blocks until
// the model answers. On success the session moves to RESULT; on failure it
// stays on GENERATION with LastError set, and the visitor may try again or
// go Back to retake the selfie.
func (s *Service) Generate(ctx context.Context, id string) (*flow.State, error) {
	req, err := s.beginGeneration(ctx, id)
	if err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GenerationTimeout)
	res, genErr := s.generator.Generate(gctx, req)
	cancel()

	if genErr != nil {
		return s.failGeneration(ctx, id, res, genErr)
	}
	return s.finishGeneration(ctx, id, req, res)
}

// Progress returns the simulated progress bar for a session.
func (s *Service) Progress(ctx context.Context, id string) (generation.Progress, error) {
	st, err := s.load(ctx, id)
	if err != nil {
		return generation.Progress{}, err
	}
	switch {
	case st.Screen == flow.Result || st.Screen == flow.WhatsApp:
		return generation.Done(), nil
	case st.Generating && st.Saving:
		return generation.Saving(), nil
	case st.Generating:
		return generation.Simulate(s.now().Sub(st.GenerationStartedAt)), nil
	default:
		return generation.Idle(), nil
	}
}

func (s *Service) beginGeneration(ctx context.Context, id string) (generation.Request, error) {
	var req generation.Request
	err := s.withSession(ctx, id, func(ctx context.Context, st *flow.State) error {
		if st.Screen != flow.Generation {
			return svcerrors.InvalidTransition(string(st.Screen), string(flow.Result), flow.ErrInvalidTransition)
		}
		if st.Captured == nil || len(st.Captured.Data) == 0 {
			return svcerrors.BadRequest("no captured photo")
		}
		if st.Generating && !s.generationAbandoned(st) {
			return svcerrors.Conflict("Generation already running")
		}
		idol, ok := s.catalog.Idol(st.IdolID)
		if !ok || st.Team == "" {
			return svcerrors.BadRequest("team and idol must be selected")
		}

		st.Generating = true
		st.Saving = false
		st.GenerationFailed = false
		st.LastError = ""
		st.GenerationStartedAt = s.now()
		st.UpdatedAt = st.GenerationStartedAt

		req = generation.Request{
			Selfie:     st.Captured.Data,
			SelfieMIME: st.Captured.MIME,
			IdolName:   idol.Name,
			TeamName:   s.catalog.TeamName(st.Team),
			Size:       st.ImageSize,
		}
		return s.save(ctx, st)
	})
	return req, err
}

func (s *Service) failGeneration(ctx context.Context, id string, res *generation.Result, genErr error) (*flow.State, error) {
	outcome, message, svcErr := classifyGenerationError(genErr)
	retries := 0
	if res != nil {
		retries = res.Retries
		s.metrics.RecordGeneration(outcome, retries, res.Latency)
	}

	var out *flow.State
	err := s.withSession(ctx, id, func(ctx context.Context, st *flow.State) error {
		log := s.logger.WithContext(ctx).WithError(genErr).WithField("retries", retries)
		log.Warn("Image generation failed")

		if st.Screen != flow.Generation {
			return nil
		}
		st.Generating = false
		st.Saving = false
		st.GenerationFailed = true
		st.LastError = message
		st.UpdatedAt = s.now()
		out = st
		return s.save(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	return out, svcErr
}

func (s *Service) finishGeneration(ctx context.Context, id string, req generation.Request, res *generation.Result) (*flow.State, error) {
	s.metrics.RecordGeneration("success", res.Retries, res.Latency)

	var snapshot *flow.State
	err := s.withSession(ctx, id, func(ctx context.Context, st *flow.State) error {
		if st.Screen != flow.Generation || !st.Generating {
			return svcerrors.Conflict("Session left generation before the photo was ready")
		}
		st.Saving = true
		st.UpdatedAt = s.now()
		snapshot = st
		return s.save(ctx, st)
	})
	if err != nil {
		return nil, err
	}

	gen := &flow.GeneratedImage{
		Image:      flow.Image{Data: res.Image.Data, MIME: res.Image.MIME},
		Prompt:     res.Prompt,
		DurationMS: res.Latency.Milliseconds(),
		Attempts:   res.Attempts,
	}
	if snapshot.Persisted {
		saved, err := s.records.SaveGeneratedImage(ctx, records.NewGeneratedImage{
			SessionID:        snapshot.SessionID,
			TeamID:           string(snapshot.Team),
			IdolID:           snapshot.IdolID,
			ImageSize:        string(req.Size),
			Data:             res.Image.Data,
			MIME:             res.Image.MIME,
			Prompt:           res.Prompt,
			GenerationTimeMS: gen.DurationMS,
		})
		if err != nil {
			s.storeFailed(ctx, "save_generated_image", err)
		} else {
			gen.ID = saved.ID
			if saved.StorageURL != nil {
				gen.URL = *saved.StorageURL
			}
		}
	}

	var out *flow.State
	err = s.withSession(ctx, id, func(ctx context.Context, st *flow.State) error {
		if st.Screen != flow.Generation {
			return svcerrors.Conflict("Session left generation before the photo was ready")
		}
		if err := s.transition(ctx, st, flow.Result); err != nil {
			return err
		}
		st.Generated = gen
		s.logger.WithContext(ctx).
			WithField("attempts", res.Attempts).
			WithField("latency_ms", gen.DurationMS).
			WithField("image_id", gen.ID).
			Info("Fan photo generated")
		out = st
		return s.save(ctx, st)
	})
	return out, err
}

func classifyGenerationError(err error) (outcome, message string, svcErr error) {
	switch {
	case errors.Is(err, generation.ErrOverloaded):
		return "overloaded", MessageOverloaded, svcerrors.Unavailable(MessageOverloaded, err)
	case errors.Is(err, generation.ErrNotConfigured):
		return "not_configured", MessageNotConfigured, svcerrors.Unavailable(MessageNotConfigured, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout", MessageGeneric, svcerrors.Unavailable(MessageGeneric, err)
	default:
		return "error", MessageGeneric, svcerrors.Internal(MessageGeneric, err)
	}
}
