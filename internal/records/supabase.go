package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/supercopa/totem/supabase/client"
)

// PostgreSQL error codes surfaced through PostgREST.
const (
	pgForeignKeyViolation = "23503"
	pgUndefinedTable      = "42P01"
	pgrstNoRows           = "PGRST116"
)

// SupabaseStore keeps records in Supabase tables and photos in the photos
// bucket.
type SupabaseStore struct {
	client *client.Client
	bucket Bucket
	now    func() time.Time
}

func NewSupabaseStore(c *client.Client) *SupabaseStore {
	return &SupabaseStore{
		client: c,
		bucket: NewSupabaseBucket(c, BucketName),
		now:    time.Now,
	}
}

func (s *SupabaseStore) CreateSession(ctx context.Context) (string, error) {
	resp, err := s.client.From(TableSessions).Single().ExecuteInsert(ctx, map[string]any{})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	var row struct {
		ID string `json:"id"`
	}
	if err := resp.JSON(&row); err != nil {
		return "", fmt.Errorf("decode session: %w", err)
	}
	if row.ID == "" {
		return "", errors.New("create session: empty id")
	}
	return row.ID, nil
}

func (s *SupabaseStore) UpdateSession(ctx context.Context, id string, patch SessionPatch) error {
	data := map[string]any{"updated_at": s.now().UTC()}
	if patch.TeamID != nil {
		data["team_id"] = nullable(*patch.TeamID)
	}
	if patch.IdolID != nil {
		data["idol_id"] = nullable(*patch.IdolID)
	}
	if patch.ImageSize != nil {
		data["image_size"] = *patch.ImageSize
	}
	if patch.CurrentScreen != nil {
		data["current_screen"] = nullable(*patch.CurrentScreen)
	}
	return s.patchSession(ctx, id, data)
}

func (s *SupabaseStore) CompleteSession(ctx context.Context, id string) error {
	now := s.now().UTC()
	return s.patchSession(ctx, id, map[string]any{"completed_at": now, "updated_at": now})
}

func (s *SupabaseStore) patchSession(ctx context.Context, id string, data map[string]any) error {
	resp, err := s.client.From(TableSessions).Eq("id", id).ExecuteUpdate(ctx, data)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	var rows []Session
	if err := resp.JSON(&rows); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	if len(rows) == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SupabaseStore) GetSession(ctx context.Context, id string) (*Session, error) {
	resp, err := s.client.From(TableSessions).Select("*").Eq("id", id).Single().Execute(ctx)
	if err != nil {
		if client.IsNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	var sess Session
	if err := resp.JSON(&sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *SupabaseStore) UploadImage(ctx context.Context, sessionID string, kind ImageKind, data []byte, mime string) (StoredImage, error) {
	return s.bucket.Upload(ctx, ObjectPath(sessionID, kind, mime, s.now()), data, NormalizeMIME(mime))
}

// SaveGeneratedImage checks the session before uploading so a missing
// session leaves no object behind in the bucket.
func (s *SupabaseStore) SaveGeneratedImage(ctx context.Context, in NewGeneratedImage) (*GeneratedImage, error) {
	if _, err := s.GetSession(ctx, in.SessionID); err != nil {
		return nil, err
	}
	stored, err := s.UploadImage(ctx, in.SessionID, KindGenerated, in.Data, in.MIME)
	if err != nil {
		return nil, err
	}

	row := map[string]any{
		"session_id":   nullable(in.SessionID),
		"team_id":      nullable(in.TeamID),
		"idol_id":      nullable(in.IdolID),
		"image_size":   in.ImageSize,
		"storage_path": stored.Path,
		"storage_url":  stored.URL,
		"prompt_used":  nullable(in.Prompt),
	}
	if in.GenerationTimeMS > 0 {
		row["generation_time_ms"] = in.GenerationTimeMS
	}

	resp, err := s.client.From(TableGeneratedImages).Single().ExecuteInsert(ctx, row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("insert generated image: %w", err)
	}
	var img GeneratedImage
	if err := resp.JSON(&img); err != nil {
		return nil, fmt.Errorf("decode generated image: %w", err)
	}
	return &img, nil
}

func (s *SupabaseStore) CreateShare(ctx context.Context, sessionID, generatedImageID, phone string) (string, error) {
	resp, err := s.client.From(TableShares).Single().ExecuteInsert(ctx, map[string]any{
		"session_id":         sessionID,
		"generated_image_id": nullable(generatedImageID),
		"phone_number":       phone,
		"status":             SharePending,
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("insert share: %w", err)
	}
	var row struct {
		ID string `json:"id"`
	}
	if err := resp.JSON(&row); err != nil {
		return "", fmt.Errorf("decode share: %w", err)
	}
	return row.ID, nil
}

// UpdateShareStatus only patches pending rows, so a final status is never
// overwritten.
func (s *SupabaseStore) UpdateShareStatus(ctx context.Context, id string, status ShareStatus, errorMessage string) error {
	if err := validateFinalStatus(status); err != nil {
		return err
	}
	now := s.now().UTC()
	data := map[string]any{
		"status":        status,
		"error_message": nullable(errorMessage),
		"sent_at":       nil,
		"updated_at":    now,
	}
	if status == ShareSent {
		data["sent_at"] = now
	}

	resp, err := s.client.From(TableShares).
		Eq("id", id).
		Eq("status", SharePending).
		ExecuteUpdate(ctx, data)
	if err != nil {
		return fmt.Errorf("update share %s: %w", id, err)
	}
	var rows []Share
	if err := resp.JSON(&rows); err != nil {
		return fmt.Errorf("decode share: %w", err)
	}
	if len(rows) > 0 {
		return nil
	}

	_, err = s.client.From(TableShares).Select("id").Eq("id", id).Single().Execute(ctx)
	switch {
	case err == nil:
		return ErrShareFinal
	case client.IsNotFound(err):
		return ErrShareNotFound
	default:
		return fmt.Errorf("lookup share %s: %w", id, err)
	}
}

// listPageSize stays at or below PostgREST's default db-max-rows.
const listPageSize = 1000

func (s *SupabaseStore) ListSessions(ctx context.Context, since time.Time) ([]Session, error) {
	out, err := listAll[Session](ctx, func() *client.QueryBuilder {
		q := s.client.From(TableSessions).Select("*").Order("created_at", true).Order("id", true)
		if !since.IsZero() {
			q = q.Gte("created_at", since.UTC().Format(time.RFC3339))
		}
		return q
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func (s *SupabaseStore) ListGeneratedImages(ctx context.Context) ([]GeneratedImage, error) {
	out, err := listAll[GeneratedImage](ctx, func() *client.QueryBuilder {
		return s.client.From(TableGeneratedImages).Select("*").Order("created_at", true).Order("id", true)
	})
	if err != nil {
		return nil, fmt.Errorf("list generated images: %w", err)
	}
	return out, nil
}

func (s *SupabaseStore) ListShares(ctx context.Context) ([]Share, error) {
	out, err := listAll[Share](ctx, func() *client.QueryBuilder {
		return s.client.From(TableShares).Select("*").Order("created_at", true).Order("id", true)
	})
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	return out, nil
}

// listAll pages through a select until the exact count from Content-Range
// is reached. Servers that cap pages below listPageSize or omit the total
// are read until an empty page.
func listAll[T any](ctx context.Context, query func() *client.QueryBuilder) ([]T, error) {
	var out []T
	for {
		resp, err := query().Count("exact").Limit(listPageSize).Offset(len(out)).Execute(ctx)
		if err != nil {
			return nil, err
		}
		var page []T
		if err := resp.JSON(&page); err != nil {
			return nil, err
		}
		out = append(out, page...)

		if len(page) == 0 {
			return out, nil
		}
		if total := resp.Count(); total >= 0 && len(out) >= total {
			return out, nil
		}
	}
}

// Ping reads one team. An empty or missing table still proves the
// connection works.
func (s *SupabaseStore) Ping(ctx context.Context) error {
	_, err := s.client.From("teams").Select("id").Limit(1).Execute(ctx)
	if err == nil {
		return nil
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && (apiErr.Code == pgrstNoRows || apiErr.Code == pgUndefinedTable) {
		return nil
	}
	return err
}

func (s *SupabaseStore) CheckStorage(ctx context.Context) error {
	return s.bucket.Check(ctx)
}

func isForeignKeyViolation(err error) bool {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == pgForeignKeyViolation
	}
	return pqCode(err) == pgForeignKeyViolation
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
