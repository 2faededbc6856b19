package records

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process memory. It backs tests and offline
// kiosks.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	images   map[string]*GeneratedImage
	shares   map[string]*Share
	bucket   Bucket
	now      func() time.Time
}

// NewMemoryStore returns an empty store. A nil bucket disables uploads.
func NewMemoryStore(bucket Bucket) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		images:   make(map[string]*GeneratedImage),
		shares:   make(map[string]*Share),
		bucket:   bucket,
		now:      time.Now,
	}
}

func (m *MemoryStore) CreateSession(context.Context) (string, error) {
	now := m.now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		ImageSize: "2K",
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s.ID, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, id string, patch SessionPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if patch.TeamID != nil {
		s.TeamID = strPtr(*patch.TeamID)
	}
	if patch.IdolID != nil {
		s.IdolID = strPtr(*patch.IdolID)
	}
	if patch.ImageSize != nil {
		s.ImageSize = *patch.ImageSize
	}
	if patch.CurrentScreen != nil {
		s.CurrentScreen = strPtr(*patch.CurrentScreen)
	}
	s.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) CompleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	now := m.now().UTC()
	s.CompletedAt = &now
	s.UpdatedAt = now
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UploadImage(ctx context.Context, sessionID string, kind ImageKind, data []byte, mime string) (StoredImage, error) {
	if m.bucket == nil {
		return StoredImage{}, ErrNoStorage
	}
	return m.bucket.Upload(ctx, ObjectPath(sessionID, kind, mime, m.now()), data, NormalizeMIME(mime))
}

func (m *MemoryStore) SaveGeneratedImage(ctx context.Context, in NewGeneratedImage) (*GeneratedImage, error) {
	if in.SessionID != "" {
		if _, err := m.GetSession(ctx, in.SessionID); err != nil {
			return nil, err
		}
	}
	stored, err := m.UploadImage(ctx, in.SessionID, KindGenerated, in.Data, in.MIME)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	img := &GeneratedImage{
		ID:          uuid.NewString(),
		SessionID:   strPtr(in.SessionID),
		TeamID:      strPtr(in.TeamID),
		IdolID:      strPtr(in.IdolID),
		ImageSize:   in.ImageSize,
		StoragePath: strPtr(stored.Path),
		StorageURL:  strPtr(stored.URL),
		PromptUsed:  strPtr(in.Prompt),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.GenerationTimeMS > 0 {
		ms := in.GenerationTimeMS
		img.GenerationTimeMS = &ms
	}

	m.mu.Lock()
	m.images[img.ID] = img
	m.mu.Unlock()
	cp := *img
	return &cp, nil
}

func (m *MemoryStore) CreateShare(_ context.Context, sessionID, generatedImageID, phone string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return "", ErrSessionNotFound
	}
	now := m.now().UTC()
	sh := &Share{
		ID:               uuid.NewString(),
		SessionID:        strPtr(sessionID),
		GeneratedImageID: strPtr(generatedImageID),
		PhoneNumber:      phone,
		Status:           SharePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.shares[sh.ID] = sh
	return sh.ID, nil
}

func (m *MemoryStore) UpdateShareStatus(_ context.Context, id string, status ShareStatus, errorMessage string) error {
	if err := validateFinalStatus(status); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shares[id]
	if !ok {
		return ErrShareNotFound
	}
	if sh.Status != SharePending {
		return ErrShareFinal
	}
	now := m.now().UTC()
	sh.Status = status
	sh.ErrorMessage = strPtr(errorMessage)
	if status == ShareSent {
		sh.SentAt = &now
	}
	sh.UpdatedAt = now
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, since time.Time) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !since.IsZero() && s.CreatedAt.Before(since) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListGeneratedImages(context.Context) ([]GeneratedImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]GeneratedImage, 0, len(m.images))
	for _, img := range m.images {
		out = append(out, *img)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListShares(context.Context) ([]Share, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Share, 0, len(m.shares))
	for _, sh := range m.shares {
		out = append(out, *sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) CheckStorage(ctx context.Context) error {
	if m.bucket == nil {
		return ErrNoStorage
	}
	return m.bucket.Check(ctx)
}
