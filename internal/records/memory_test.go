package records

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestObjectPath(t *testing.T) {
	now := time.UnixMilli(1718000000123)
	if got := ObjectPath("s1", KindCaptured, "image/jpeg", now); got != "s1/captured_1718000000123.jpg" {
		t.Errorf("ObjectPath(jpeg) = %q", got)
	}
	if got := ObjectPath("s1", KindGenerated, "image/png", now); got != "s1/generated_1718000000123.png" {
		t.Errorf("ObjectPath(png) = %q", got)
	}
	if got := ObjectPath("s1", KindGenerated, "image/webp", now); !strings.HasSuffix(got, ".jpg") {
		t.Errorf("ObjectPath(webp) = %q, want .jpg", got)
	}
}

func TestMemoryStoreSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	id, err := store.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	team, screen := "flamengo", "IDOL_SELECTION"
	if err := store.UpdateSession(ctx, id, SessionPatch{TeamID: &team, CurrentScreen: &screen}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	sess, err := store.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.TeamID == nil || *sess.TeamID != team {
		t.Errorf("TeamID = %v, want %s", sess.TeamID, team)
	}
	if sess.Completed() {
		t.Error("session should not be completed yet")
	}

	if err := store.CompleteSession(ctx, id); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	sess, _ = store.GetSession(ctx, id)
	if !sess.Completed() {
		t.Error("session should be completed")
	}

	if err := store.UpdateSession(ctx, "missing", SessionPatch{}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("UpdateSession(missing) = %v, want ErrSessionNotFound", err)
	}
	if err := store.CompleteSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("CompleteSession(missing) = %v, want ErrSessionNotFound", err)
	}
}

func TestMemoryStoreUploadWithoutBucket(t *testing.T) {
	store := NewMemoryStore(nil)
	if _, err := store.UploadImage(context.Background(), "s1", KindCaptured, []byte{1}, "image/jpeg"); !errors.Is(err, ErrNoStorage) {
		t.Errorf("UploadImage = %v, want ErrNoStorage", err)
	}
	if err := store.CheckStorage(context.Background()); !errors.Is(err, ErrNoStorage) {
		t.Errorf("CheckStorage = %v, want ErrNoStorage", err)
	}
}

func TestMemoryStoreSaveGeneratedImage(t *testing.T) {
	ctx := context.Background()
	bucket := NewMemoryBucket()
	store := NewMemoryStore(bucket)
	store.now = fixedClock(time.UnixMilli(1718000000000))

	if _, err := store.SaveGeneratedImage(ctx, NewGeneratedImage{SessionID: "missing", Data: []byte{1}}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("SaveGeneratedImage(missing) = %v, want ErrSessionNotFound", err)
	}

	id, _ := store.CreateSession(ctx)
	img, err := store.SaveGeneratedImage(ctx, NewGeneratedImage{
		SessionID:        id,
		TeamID:           "corinthians",
		IdolID:           "socrates",
		ImageSize:        "2K",
		Data:             []byte("png-bytes"),
		MIME:             "image/png",
		Prompt:           "Fan photo with Sócrates from Corinthians",
		GenerationTimeMS: 4200,
	})
	if err != nil {
		t.Fatalf("SaveGeneratedImage: %v", err)
	}

	wantPath := id + "/generated_1718000000000.png"
	if img.StoragePath == nil || *img.StoragePath != wantPath {
		t.Errorf("StoragePath = %v, want %s", img.StoragePath, wantPath)
	}
	if data, ok := bucket.Object(wantPath); !ok || string(data) != "png-bytes" {
		t.Errorf("bucket object = %q, %v", data, ok)
	}
	if img.GenerationTimeMS == nil || *img.GenerationTimeMS != 4200 {
		t.Errorf("GenerationTimeMS = %v, want 4200", img.GenerationTimeMS)
	}

	images, _ := store.ListGeneratedImages(ctx)
	if len(images) != 1 {
		t.Errorf("ListGeneratedImages len = %d, want 1", len(images))
	}
}

func TestMemoryStoreShareStatusIsFinal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	if _, err := store.CreateShare(ctx, "missing", "", "11999999999"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("CreateShare(missing) = %v, want ErrSessionNotFound", err)
	}

	sessionID, _ := store.CreateSession(ctx)
	shareID, err := store.CreateShare(ctx, sessionID, "img-1", "11999999999")
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}

	if err := store.UpdateShareStatus(ctx, shareID, SharePending, ""); err == nil {
		t.Error("UpdateShareStatus(pending) should fail")
	}
	if err := store.UpdateShareStatus(ctx, shareID, ShareSent, ""); err != nil {
		t.Fatalf("UpdateShareStatus(sent): %v", err)
	}
	if err := store.UpdateShareStatus(ctx, shareID, ShareFailed, "late"); !errors.Is(err, ErrShareFinal) {
		t.Errorf("UpdateShareStatus after sent = %v, want ErrShareFinal", err)
	}
	if err := store.UpdateShareStatus(ctx, "missing", ShareSent, ""); !errors.Is(err, ErrShareNotFound) {
		t.Errorf("UpdateShareStatus(missing) = %v, want ErrShareNotFound", err)
	}

	shares, _ := store.ListShares(ctx)
	if len(shares) != 1 {
		t.Fatalf("ListShares len = %d, want 1", len(shares))
	}
	if shares[0].Status != ShareSent || shares[0].SentAt == nil {
		t.Errorf("share = %+v, want sent with sent_at", shares[0])
	}
}

func TestMemoryStoreFailedShareHasNoSentAt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	sessionID, _ := store.CreateSession(ctx)
	shareID, _ := store.CreateShare(ctx, sessionID, "", "11999999999")

	if err := store.UpdateShareStatus(ctx, shareID, ShareFailed, "webhook returned 500"); err != nil {
		t.Fatalf("UpdateShareStatus: %v", err)
	}
	shares, _ := store.ListShares(ctx)
	if shares[0].SentAt != nil {
		t.Errorf("SentAt = %v, want nil", shares[0].SentAt)
	}
	if shares[0].ErrorMessage == nil || *shares[0].ErrorMessage != "webhook returned 500" {
		t.Errorf("ErrorMessage = %v", shares[0].ErrorMessage)
	}
}

func TestMemoryStoreListSessionsSince(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	store.now = fixedClock(base.Add(-48 * time.Hour))
	_, _ = store.CreateSession(ctx)
	store.now = fixedClock(base.Add(-time.Hour))
	recent, _ := store.CreateSession(ctx)

	all, _ := store.ListSessions(ctx, time.Time{})
	if len(all) != 2 {
		t.Errorf("ListSessions(zero) len = %d, want 2", len(all))
	}
	last, _ := store.ListSessions(ctx, base.Add(-24*time.Hour))
	if len(last) != 1 || last[0].ID != recent {
		t.Errorf("ListSessions(since) = %+v, want only %s", last, recent)
	}
}
