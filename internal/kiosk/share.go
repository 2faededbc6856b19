package kiosk

import (
	"context"
	"fmt"
	"time"

	svcerrors "github.com/supercopa/totem/internal/errors"
	"github.com/supercopa/totem/internal/flow"
	"github.com/supercopa/totem/internal/phone"
	"github.com/supercopa/totem/internal/records"
	"github.com/supercopa/totem/internal/webhook"
)

// ShareOutcome is what the visitor is told after sending. Sent is always
// true; Status records what actually happened.
type ShareOutcome struct {
	Sent    bool                `json:"sent"`
	ShareID string              `json:"shareId,omitempty"`
	Status  records.ShareStatus `json:"status,omitempty"`
	Message string              `json:"message"`
}

const shareMessage = "Foto enviada! Verifique seu WhatsApp."

// OpenShare moves from RESULT to the WhatsApp keyboard.
func (s *Service) OpenShare(ctx context.Context, id string) (*flow.State, error) {
	var out *flow.State
	err := s.withSession(ctx, id, func(ctx context.Context, st *flow.State) error {
		if st.Screen == flow.Result && st.Generated == nil {
			return svcerrors.BadRequest("no generated photo")
		}
		if err := s.transition(ctx, st, flow.WhatsApp); err != nil {
			return err
		}
		out = st
		return s.save(ctx, st)
	})
	return out, err
}

// Share sends the generated photo to phoneNumber. A pending share record is
// created, the webhook is triggered and the record is marked sent or
// failed. The session is then completed and reset. Record and webhook
// failures are recorded but the visitor always sees success.
func (s *Service) Share(ctx context.Context, id, phoneNumber string) (*ShareOutcome, error) {
	digits := phone.Digits(phoneNumber)
	if !phone.Valid(digits) {
		return nil, svcerrors.BadRequest("invalid phone number").WithDetails("digits", len(digits))
	}

	var out *ShareOutcome
	err := s.withSession(ctx, id, func(ctx context.Context, st *flow.State) error {
		if st.Screen != flow.WhatsApp {
			return svcerrors.InvalidTransition(string(st.Screen), "share", flow.ErrInvalidTransition)
		}
		out = s.deliver(ctx, st, digits)
		s.complete(ctx, st, "share")
		if err := s.transition(ctx, st, flow.Welcome); err != nil {
			return err
		}
		return s.discard(ctx, st)
	})
	return out, err
}

// deliver records and sends the share. It never fails the visitor.
func (s *Service) deliver(ctx context.Context, st *flow.State, digits string) *ShareOutcome {
	out := &ShareOutcome{Sent: true, Message: shareMessage}
	if !st.Persisted || st.Generated == nil || st.Generated.ID == "" {
		s.logger.WithContext(ctx).Info("No share record for an unsaved photo")
		return out
	}

	shareID, err := s.records.CreateShare(ctx, st.SessionID, st.Generated.ID, digits)
	if err != nil {
		s.storeFailed(ctx, "create_share", err)
		return out
	}
	out.ShareID = shareID

	status, errMsg := records.ShareSent, ""
	if s.notifier != nil && s.notifier.Configured() {
		resp := s.notifier.Trigger(ctx, s.payload(st, shareID, digits))
		if !resp.Success {
			status = records.ShareFailed
			errMsg = resp.Error
			if errMsg == "" {
				errMsg = resp.Message
			}
			s.logger.WithContext(ctx).WithField("share_id", shareID).WithField("error", errMsg).Warn("Webhook failed")
		}
	} else {
		s.logger.WithContext(ctx).WithField("share_id", shareID).Warn("Webhook not configured, share only recorded")
	}

	if err := s.records.UpdateShareStatus(ctx, shareID, status, errMsg); err != nil {
		s.storeFailed(ctx, "update_share", err)
	}
	out.Status = status
	s.metrics.RecordShare(string(status))
	return out
}

func (s *Service) payload(st *flow.State, shareID, digits string) webhook.Payload {
	p := webhook.Payload{
		SessionID:        st.SessionID,
		GeneratedImageID: st.Generated.ID,
		ShareID:          shareID,
		PhoneNumber:      digits,
		ImageURL:         st.Generated.URL,
		TeamID:           string(st.Team),
		IdolID:           st.IdolID,
		Timestamp:        s.now().UTC().Format(time.RFC3339Nano),
		ImageSize:        string(st.ImageSize),
	}
	if st.Team != "" {
		p.TeamName = s.catalog.TeamName(st.Team)
	}
	if idol, ok := s.catalog.Idol(st.IdolID); ok {
		p.IdolName = idol.Name
		p.IdolNickname = idol.Nickname
	}
	return p
}

// Cancel leaves the WhatsApp screen without sending. The session counts as
// complete.
func (s *Service) Cancel(ctx context.Context, id string) (*flow.State, error) {
	var out *flow.State
	err := s.withSession(ctx, id, func(ctx context.Context, st *flow.State) error {
		if st.Screen != flow.WhatsApp {
			return svcerrors.InvalidTransition(string(st.Screen), "cancel", flow.ErrInvalidTransition)
		}
		s.complete(ctx, st, "cancel")
		if err := s.transition(ctx, st, flow.Welcome); err != nil {
			return err
		}
		out = st
		return s.discard(ctx, st)
	})
	return out, err
}

// Reset starts over from RESULT ("new photo") without completing the
// session.
func (s *Service) Reset(ctx context.Context, id string) (*flow.State, error) {
	var out *flow.State
	err := s.withSession(ctx, id, func(ctx context.Context, st *flow.State) error {
		if st.Screen != flow.Result {
			return svcerrors.InvalidTransition(string(st.Screen), string(flow.Welcome), fmt.Errorf("%w: reset is only offered on the result screen", flow.ErrInvalidTransition))
		}
		if err := s.transition(ctx, st, flow.Welcome); err != nil {
			return err
		}
		out = st
		return s.discard(ctx, st)
	})
	return out, err
}

func (s *Service) complete(ctx context.Context, st *flow.State, reason string) {
	st.Completed = true
	s.metrics.RecordSessionCompleted(reason)
	if !st.Persisted {
		return
	}
	if err := s.records.CompleteSession(ctx, st.SessionID); err != nil {
		s.storeFailed(ctx, "complete_session", err)
	}
}
