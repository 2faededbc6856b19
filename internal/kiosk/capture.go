package kiosk

import (
	"context"
	"net/http"
	"strings"

	"github.com/supercopa/totem/internal/catalog"
	svcerrors "github.com/supercopa/totem/internal/errors"
	"github.com/supercopa/totem/internal/flow"
	"github.com/supercopa/totem/internal/records"
)

// MaxImageBytes bounds a captured selfie.
const MaxImageBytes = 10 << 20

// DefaultCameraFault is shown when the front-end gives no reason.
const DefaultCameraFault = "Não foi possível acessar a câmera."

// SelectTeam records the team and moves to IDOL_SELECTION.
func (s *Service) SelectTeam(ctx context.Context, id, team string) (*flow.State, error) {
	teamID := catalog.TeamID(strings.ToUpper(strings.TrimSpace(team)))
	if _, ok := s.catalog.Team(teamID); !ok {
		return nil, svcerrors.BadRequest("unknown team").WithDetails("team", team)
	}

	var out *flow.State
	err := s.withSession(ctx, id, func(ctx context.Context, st *flow.State) error {
		if err := s.transition(ctx, st, flow.IdolSelection); err != nil {
			return err
		}
		st.Team = teamID
		st.IdolID = ""
		if err := s.save(ctx, st); err != nil {
			return err
		}
		t := string(teamID)
		s.patchRecord(ctx, st, records.SessionPatch{TeamID: &t})
		out = st
		return nil
	})
	return out, err
}

// SelectIdol records the idol, which must belong to the chosen team, and
// moves to CAMERA. It fails with a conflict while another session holds
// the camera.
func (s *Service) SelectIdol(ctx context.Context, id, idolID string) (*flow.State, error) {
	idol, ok := s.catalog.Idol(strings.TrimSpace(idolID))
	if !ok {
		return nil, svcerrors.BadRequest("unknown idol").WithDetails("idol", idolID)
	}

	var out *flow.State
	err := s.withSession(ctx, id, func(ctx context.Context, st *flow.State) error {
		if idol.TeamID != st.Team {
			return svcerrors.BadRequest("idol does not belong to the selected team").
				WithDetails("idol", idol.ID).
				WithDetails("team", string(st.Team))
		}
		if err := s.transition(ctx, st, flow.Camera); err != nil {
			return err
		}
		st.IdolID = idol.ID
		if err := s.save(ctx, st); err != nil {
			s.camera.Release(st.SessionID)
			return err
		}
		s.patchRecord(ctx, st, records.SessionPatch{IdolID: &idol.ID})
		out = st
		return nil
	})
	return out, err
}

// EnterCamera (re)acquires the camera for a session on CAMERA, e.g. after a
// retake or after the lease was lost to eviction.
func (s *Service) EnterCamera(ctx context.Context, id string) (*flow.State, error) {
	var out *flow.State
	err := s.withSession(ctx, id, func(ctx context.Context, st *flow.State) error {
		if st.Screen != flow.Camera {
			return svcerrors.InvalidTransition(string(st.Screen), string(flow.Camera), flow.ErrInvalidTransition)
		}
		if st.CameraFault != "" {
			return svcerrors.Conflict("Camera failed, go back to retry").WithDetails("fault", st.CameraFault)
		}
		if err := s.camera.Acquire(st.SessionID, s.now()); err != nil {
			return svcerrors.Conflict("Camera is in use by another session")
		}
		st.UpdatedAt = s.now()
		out = st
		return s.save(ctx, st)
	})
	return out, err
}

// ReportCameraFailure parks the session on CAMERA. Capture is refused until
// the visitor goes Back; there is no automatic retry.
func (s *Service) ReportCameraFailure(ctx context.Context, id, reason string) (*flow.State, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultCameraFault
	}

	var out *flow.State
	err := s.withSession(ctx, id, func(ctx context.Context, st *flow.State) error {
		if st.Screen != flow.Camera {
			return svcerrors.InvalidTransition(string(st.Screen), string(flow.Camera), flow.ErrInvalidTransition)
		}
		st.CameraFault = reason
		st.UpdatedAt = s.now()
		s.camera.Release(st.SessionID)
		s.logger.WithContext(ctx).WithField("reason", reason).Warn("Camera failure reported")
		out = st
		return s.save(ctx, st)
	})
	return out, err
}

// Capture stores the selfie and moves to GENERATION. The upload to storage
// is best effort; the local bytes are kept either way.
func (s *Service) Capture(ctx context.Context, id string, data []byte, mime string) (*flow.State, error) {
	if len(data) == 0 {
		return nil, svcerrors.BadRequest("image is required")
	}
	if len(data) > MaxImageBytes {
		return nil, svcerrors.BadRequest("image too large").WithDetails("max_bytes", MaxImageBytes)
	}
	mime = detectImageMIME(data, mime)
	if mime == "" {
		return nil, svcerrors.BadRequest("body is not an image")
	}

	var out *flow.State
	err := s.withSession(ctx, id, func(ctx context.Context, st *flow.State) error {
		if st.Screen == flow.Camera && st.CameraFault != "" {
			return svcerrors.Conflict("Camera failed, go back to retry").WithDetails("fault", st.CameraFault)
		}
		if holder, _ := s.camera.Holder(); st.Screen == flow.Camera && holder != st.SessionID {
			if err := s.camera.Acquire(st.SessionID, s.now()); err != nil {
				return svcerrors.Conflict("Camera is in use by another session")
			}
		}
		if err := s.transition(ctx, st, flow.Generation); err != nil {
			return err
		}

		img := &flow.Image{Data: data, MIME: mime}
		if st.Persisted {
			stored, err := s.records.UploadImage(ctx, st.SessionID, records.KindCaptured, data, mime)
			if err != nil {
				s.storeFailed(ctx, "upload_captured", err)
			} else {
				img.URL = stored.URL
			}
		}
		st.Captured = img
		out = st
		return s.save(ctx, st)
	})
	return out, err
}

// detectImageMIME trusts the declared type only when the bytes agree.
func detectImageMIME(data []byte, declared string) string {
	sniffed := http.DetectContentType(data)
	switch {
	case sniffed == "image/png" || sniffed == "image/jpeg" || sniffed == "image/webp":
		return sniffed
	case strings.HasPrefix(declared, "image/") && sniffed == "application/octet-stream":
		return declared
	default:
		return ""
	}
}
