package flow

import (
	"time"

	"github.com/supercopa/totem/internal/catalog"
)

// Image is a captured or generated picture held for the session.
type Image struct {
	Data []byte `json:"data,omitempty"`
	MIME string `json:"mime,omitempty"`
	// URL is the public storage URL once uploaded.
	URL string `json:"url,omitempty"`
}

// GeneratedImage is the composed fan photo.
type GeneratedImage struct {
	Image
	// ID is the generated_images record id. Empty when saving failed.
	ID         string `json:"id,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Attempts   int    `json:"attempts"`
}

// State is the per-session flow state.
type State struct {
	SessionID string `json:"session_id"`
	// Persisted is false when the session record could not be created and
	// SessionID is a local id.
	Persisted bool   `json:"persisted"`
	Screen    Screen `json:"screen"`

	Team      catalog.TeamID    `json:"team,omitempty"`
	IdolID    string            `json:"idol_id,omitempty"`
	ImageSize catalog.ImageSize `json:"image_size"`

	Captured  *Image          `json:"captured,omitempty"`
	Generated *GeneratedImage `json:"generated,omitempty"`

	Generating          bool      `json:"generating"`
	GenerationStartedAt time.Time `json:"generation_started_at"`
	// Saving is set once the image arrived and is being stored.
	Saving           bool   `json:"saving"`
	GenerationFailed bool   `json:"generation_failed"`
	LastError        string `json:"last_error,omitempty"`
	CameraFault      string `json:"camera_fault,omitempty"`

	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState returns a state on TeamSelection.
func NewState(sessionID string, persisted bool, size catalog.ImageSize, now time.Time) *State {
	if size == "" {
		size = catalog.DefaultImageSize
	}
	return &State{
		SessionID: sessionID,
		Persisted: persisted,
		Screen:    TeamSelection,
		ImageSize: size,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MoveTo validates and applies a transition, clearing what the target screen
// must not carry over.
func (s *State) MoveTo(to Screen, now time.Time) error {
	if err := Transition(s.Screen, to); err != nil {
		return err
	}

	switch to {
	case Welcome, TeamSelection:
		s.IdolID = ""
		s.Captured = nil
		s.Generated = nil
	case IdolSelection:
		s.Captured = nil
		s.Generated = nil
	case Camera:
		s.Captured = nil
		s.Generated = nil
		s.CameraFault = ""
	}
	if to == Welcome {
		s.Team = ""
	}
	if to != Generation {
		s.Generating = false
		s.Saving = false
		s.GenerationFailed = false
		s.LastError = ""
	}
	if to != Camera {
		s.CameraFault = ""
	}

	s.Screen = to
	s.UpdatedAt = now
	return nil
}

// Idle reports whether the state has not changed for longer than ttl.
func (s *State) Idle(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.UpdatedAt) > ttl
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	if s.Captured != nil {
		img := *s.Captured
		img.Data = append([]byte(nil), s.Captured.Data...)
		c.Captured = &img
	}
	if s.Generated != nil {
		gen := *s.Generated
		gen.Data = append([]byte(nil), s.Generated.Data...)
		c.Generated = &gen
	}
	return &c
}
