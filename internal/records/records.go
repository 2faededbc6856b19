// Package records persists sessions, generated images and WhatsApp shares.
package records

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrShareNotFound   = errors.New("share not found")
	// ErrShareFinal is returned when a share already left pending.
	ErrShareFinal = errors.New("share status is final")
	// ErrNoStorage is returned by UploadImage when no bucket is configured.
	ErrNoStorage = errors.New("image storage not configured")
)

// Table and bucket names.
const (
	TableSessions        = "sessions"
	TableGeneratedImages = "generated_images"
	TableShares          = "whatsapp_shares"
	BucketName           = "photos"
)

// ShareStatus is the delivery state of a WhatsApp share.
type ShareStatus string

const (
	SharePending ShareStatus = "pending"
	ShareSent    ShareStatus = "sent"
	ShareFailed  ShareStatus = "failed"
)

// ImageKind tells captured selfies from generated photos.
type ImageKind string

const (
	KindCaptured  ImageKind = "captured"
	KindGenerated ImageKind = "generated"
)

type Session struct {
	ID            string     `json:"id" db:"id"`
	TeamID        *string    `json:"team_id" db:"team_id"`
	IdolID        *string    `json:"idol_id" db:"idol_id"`
	ImageSize     string     `json:"image_size" db:"image_size"`
	CurrentScreen *string    `json:"current_screen" db:"current_screen"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Completed reports whether the visitor shared or cancelled.
func (s Session) Completed() bool {
	return s.CompletedAt != nil
}

// SessionPatch updates the non-nil fields of a session.
type SessionPatch struct {
	TeamID        *string `json:"team_id,omitempty"`
	IdolID        *string `json:"idol_id,omitempty"`
	ImageSize     *string `json:"image_size,omitempty"`
	CurrentScreen *string `json:"current_screen,omitempty"`
}

type GeneratedImage struct {
	ID               string    `json:"id" db:"id"`
	SessionID        *string   `json:"session_id" db:"session_id"`
	TeamID           *string   `json:"team_id" db:"team_id"`
	IdolID           *string   `json:"idol_id" db:"idol_id"`
	ImageSize        string    `json:"image_size" db:"image_size"`
	StoragePath      *string   `json:"storage_path" db:"storage_path"`
	StorageURL       *string   `json:"storage_url" db:"storage_url"`
	PromptUsed       *string   `json:"prompt_used" db:"prompt_used"`
	GenerationTimeMS *int64    `json:"generation_time_ms" db:"generation_time_ms"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// NewGeneratedImage is the input of SaveGeneratedImage.
type NewGeneratedImage struct {
	SessionID        string
	TeamID           string
	IdolID           string
	ImageSize        string
	Data             []byte
	MIME             string
	Prompt           string
	GenerationTimeMS int64
}

type Share struct {
	ID               string      `json:"id" db:"id"`
	SessionID        *string     `json:"session_id" db:"session_id"`
	GeneratedImageID *string     `json:"generated_image_id" db:"generated_image_id"`
	PhoneNumber      string      `json:"phone_number" db:"phone_number"`
	SentAt           *time.Time  `json:"sent_at" db:"sent_at"`
	Status           ShareStatus `json:"status" db:"status"`
	ErrorMessage     *string     `json:"error_message" db:"error_message"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// StoredImage locates an uploaded image.
type StoredImage struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// Store is the record store used by the kiosk and the dashboard.
type Store interface {
	CreateSession(ctx context.Context) (string, error)
	UpdateSession(ctx context.Context, id string, patch SessionPatch) error
	CompleteSession(ctx context.Context, id string) error
	GetSession(ctx context.Context, id string) (*Session, error)

	UploadImage(ctx context.Context, sessionID string, kind ImageKind, data []byte, mime string) (StoredImage, error)
	SaveGeneratedImage(ctx context.Context, img NewGeneratedImage) (*GeneratedImage, error)

	CreateShare(ctx context.Context, sessionID, generatedImageID, phone string) (string, error)
	UpdateShareStatus(ctx context.Context, id string, status ShareStatus, errorMessage string) error

	// ListSessions returns sessions created at or after since. A zero since
	// returns every session.
	ListSessions(ctx context.Context, since time.Time) ([]Session, error)
	ListGeneratedImages(ctx context.Context) ([]GeneratedImage, error)
	ListShares(ctx context.Context) ([]Share, error)

	Ping(ctx context.Context) error
}

// StorageChecker is implemented by stores that can probe their bucket.
type StorageChecker interface {
	CheckStorage(ctx context.Context) error
}

// Extension maps a MIME type to the file extension used in storage paths.
func Extension(mime string) string {
	if mime == "image/png" {
		return "png"
	}
	return "jpg"
}

// NormalizeMIME returns image/png for PNGs and image/jpeg otherwise.
func NormalizeMIME(mime string) string {
	if mime == "image/png" {
		return mime
	}
	return "image/jpeg"
}

// ObjectPath is {session}/{kind}_{unixMillis}.{ext}.
func ObjectPath(sessionID string, kind ImageKind, mime string, now time.Time) string {
	return fmt.Sprintf("%s/%s_%d.%s", sessionID, kind, now.UnixMilli(), Extension(mime))
}

func validateFinalStatus(status ShareStatus) error {
	if status != ShareSent && status != ShareFailed {
		return fmt.Errorf("invalid share status %q", status)
	}
	return nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
