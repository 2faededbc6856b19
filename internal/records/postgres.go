package records

import (
	"context"
	"database/sql"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	sessionColumns = `id, team_id, idol_id, image_size, current_screen, started_at, completed_at, created_at, updated_at`
	imageColumns   = `id, session_id, team_id, idol_id, image_size, storage_path, storage_url, prompt_used, generation_time_ms, created_at, updated_at`
	shareColumns   = `id, session_id, generated_image_id, phone_number, sent_at, status, error_message, created_at, updated_at`
)

// PostgresStore keeps records in PostgreSQL. Photos go to the bucket when one
// is set; otherwise generated photos are inlined as base64.
type PostgresStore struct {
	db     *sqlx.DB
	bucket Bucket
	now    func() time.Time
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// NewPostgresStore wraps db. bucket may be nil.
func NewPostgresStore(db *sqlx.DB, bucket Bucket) *PostgresStore {
	return &PostgresStore{db: db, bucket: bucket, now: time.Now}
}

func (s *PostgresStore) CreateSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, image_size, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $3, $3)
	`, id, "2K", now)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, id string, patch SessionPatch) error {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.TeamID != nil {
		add("team_id", strPtr(*patch.TeamID))
	}
	if patch.IdolID != nil {
		add("idol_id", strPtr(*patch.IdolID))
	}
	if patch.ImageSize != nil {
		add("image_size", *patch.ImageSize)
	}
	if patch.CurrentScreen != nil {
		add("current_screen", strPtr(*patch.CurrentScreen))
	}
	add("updated_at", s.now().UTC())
	args = append(args, id)

	query := fmt.Sprintf("UPDATE sessions SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return s.execSession(ctx, id, query, args...)
}

func (s *PostgresStore) CompleteSession(ctx context.Context, id string) error {
	return s.execSession(ctx, id,
		`UPDATE sessions SET completed_at = $1, updated_at = $1 WHERE id = $2`,
		s.now().UTC(), id)
}

func (s *PostgresStore) execSession(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isInvalidUUID(err) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("update session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.GetContext(ctx, &sess, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *PostgresStore) UploadImage(ctx context.Context, sessionID string, kind ImageKind, data []byte, mime string) (StoredImage, error) {
	if s.bucket == nil {
		return StoredImage{}, ErrNoStorage
	}
	return s.bucket.Upload(ctx, ObjectPath(sessionID, kind, mime, s.now()), data, NormalizeMIME(mime))
}

func (s *PostgresStore) SaveGeneratedImage(ctx context.Context, in NewGeneratedImage) (*GeneratedImage, error) {
	now := s.now().UTC()
	img := &GeneratedImage{
		ID:         uuid.NewString(),
		SessionID:  strPtr(in.SessionID),
		TeamID:     strPtr(in.TeamID),
		IdolID:     strPtr(in.IdolID),
		ImageSize:  in.ImageSize,
		PromptUsed: strPtr(in.Prompt),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.GenerationTimeMS > 0 {
		ms := in.GenerationTimeMS
		img.GenerationTimeMS = &ms
	}

	var inline *string
	if s.bucket != nil {
		stored, err := s.UploadImage(ctx, in.SessionID, KindGenerated, in.Data, in.MIME)
		if err != nil {
			return nil, err
		}
		img.StoragePath = strPtr(stored.Path)
		img.StorageURL = strPtr(stored.URL)
	} else {
		encoded := base64.StdEncoding.EncodeToString(in.Data)
		inline = &encoded
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generated_images (
			id, session_id, team_id, idol_id, image_size, storage_path, storage_url,
			image_base64, prompt_used, generation_time_ms, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, img.ID, img.SessionID, img.TeamID, img.IdolID, img.ImageSize, img.StoragePath, img.StorageURL,
		inline, img.PromptUsed, img.GenerationTimeMS, now)
	if err != nil {
		if isForeignKeyViolation(err) || isInvalidUUID(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("insert generated image: %w", err)
	}
	return img, nil
}

func (s *PostgresStore) CreateShare(ctx context.Context, sessionID, generatedImageID, phone string) (string, error) {
	id := uuid.NewString()
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO whatsapp_shares (id, session_id, generated_image_id, phone_number, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, id, sessionID, strPtr(generatedImageID), phone, string(SharePending), now)
	if err != nil {
		if isForeignKeyViolation(err) || isInvalidUUID(err) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("insert share: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateShareStatus(ctx context.Context, id string, status ShareStatus, errorMessage string) error {
	if err := validateFinalStatus(status); err != nil {
		return err
	}
	now := s.now().UTC()
	var sentAt *time.Time
	if status == ShareSent {
		sentAt = &now
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE whatsapp_shares
		SET status = $1, error_message = $2, sent_at = $3, updated_at = $4
		WHERE id = $5 AND status = 'pending'
	`, string(status), strPtr(errorMessage), sentAt, now, id)
	if err != nil {
		if isInvalidUUID(err) {
			return ErrShareNotFound
		}
		return fmt.Errorf("update share %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update share %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.GetContext(ctx, &current, `SELECT status FROM whatsapp_shares WHERE id = $1`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrShareNotFound
	case err != nil:
		return fmt.Errorf("lookup share %s: %w", id, err)
	default:
		return ErrShareFinal
	}
}

func (s *PostgresStore) ListSessions(ctx context.Context, since time.Time) ([]Session, error) {
	out := []Session{}
	var err error
	if since.IsZero() {
		err = s.db.SelectContext(ctx, &out, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at`)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT `+sessionColumns+` FROM sessions WHERE created_at >= $1 ORDER BY created_at`, since.UTC())
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListGeneratedImages(ctx context.Context) ([]GeneratedImage, error) {
	out := []GeneratedImage{}
	if err := s.db.SelectContext(ctx, &out, `SELECT `+imageColumns+` FROM generated_images ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list generated images: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListShares(ctx context.Context) ([]Share, error) {
	out := []Share{}
	if err := s.db.SelectContext(ctx, &out, `SELECT `+shareColumns+` FROM whatsapp_shares ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CheckStorage(ctx context.Context) error {
	if s.bucket == nil {
		return ErrNoStorage
	}
	return s.bucket.Check(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

// invalid_text_representation, raised for ids that are not UUIDs.
func isInvalidUUID(err error) bool {
	return err != nil && pqCode(err) == "22P02"
}
