package records

import (
	"context"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewPostgresStore(sqlx.NewDb(db, "postgres"), nil)
	store.now = fixedClock(time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC))
	return store, mock
}

func TestPostgresCreateSession(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(sqlmock.AnyArg(), "2K", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := store.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateSessionBuildsPatch(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET team_id = $1, current_screen = $2, updated_at = $3 WHERE id = $4")).
		WithArgs("flamengo", "IDOL_SELECTION", sqlmock.AnyArg(), "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	team, screen := "flamengo", "IDOL_SELECTION"
	err := store.UpdateSession(context.Background(), "s1", SessionPatch{TeamID: &team, CurrentScreen: &screen})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompleteSessionNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE sessions SET completed_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.CompleteSession(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPostgresGetSessionNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM sessions WHERE id").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetSession(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPostgresSaveGeneratedImageInlinesWithoutBucket(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO generated_images").
		WithArgs(sqlmock.AnyArg(), "s1", "flamengo", "zico", "2K", nil, nil,
			"aGk=", "prompt", int64(1500), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	img, err := store.SaveGeneratedImage(context.Background(), NewGeneratedImage{
		SessionID:        "s1",
		TeamID:           "flamengo",
		IdolID:           "zico",
		ImageSize:        "2K",
		Data:             []byte("hi"),
		MIME:             "image/png",
		Prompt:           "prompt",
		GenerationTimeMS: 1500,
	})
	require.NoError(t, err)
	assert.Nil(t, img.StoragePath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveGeneratedImageMissingSession(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO generated_images").
		WillReturnError(&pq.Error{Code: "23503", Message: "violates foreign key constraint"})

	_, err := store.SaveGeneratedImage(context.Background(), NewGeneratedImage{SessionID: "s1", Data: []byte{1}})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPostgresUpdateShareStatusFinal(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE whatsapp_shares").
		WithArgs("failed", "boom", nil, sqlmock.AnyArg(), "sh1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM whatsapp_shares").
		WithArgs("sh1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sent"))

	err := store.UpdateShareStatus(context.Background(), "sh1", ShareFailed, "boom")
	assert.ErrorIs(t, err, ErrShareFinal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateShareStatusNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE whatsapp_shares").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM whatsapp_shares").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := store.UpdateShareStatus(context.Background(), "sh1", ShareSent, "")
	assert.ErrorIs(t, err, ErrShareNotFound)
}

func TestPostgresListShares(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "session_id", "generated_image_id", "phone_number", "sent_at", "status", "error_message", "created_at", "updated_at",
	}).
		AddRow("sh1", "s1", "g1", "11999999999", now, "sent", nil, now, now).
		AddRow("sh2", "s2", nil, "21988887777", nil, "failed", "timeout", now, now)
	mock.ExpectQuery("SELECT .* FROM whatsapp_shares ORDER BY created_at").WillReturnRows(rows)

	shares, err := store.ListShares(context.Background())
	require.NoError(t, err)
	require.Len(t, shares, 2)
	assert.Equal(t, ShareSent, shares[0].Status)
	assert.NotNil(t, shares[0].SentAt)
	assert.Nil(t, shares[1].GeneratedImageID)
	require.NotNil(t, shares[1].ErrorMessage)
	assert.Equal(t, "timeout", *shares[1].ErrorMessage)
}

func TestPostgresMigrateAndRoundTrip(t *testing.T) {
	_ = godotenv.Load()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()

	db, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(db.DB))

	store := NewPostgresStore(db, nil)
	id, err := store.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CompleteSession(ctx, id))

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, sess.Completed())
}
