package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/truelens/capture/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	data := []byte(`{"session_id":"session_1_aa","entries":[]}`)
	if err := s.Save(ctx, "session_1_aa", data, "active"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, err := s.Load(ctx, "session_1_aa")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(snap.Data) != string(data) {
		t.Errorf("Data = %s, want %s", snap.Data, data)
	}
	if snap.Status != "active" {
		t.Errorf("Status = %q, want %q", snap.Status, "active")
	}
	if snap.UpdatedAt.IsZero() {
		t.Error("UpdatedAt is zero")
	}
}

func TestSaveUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "session_1_aa", []byte(`{"v":1}`), "active"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, "session_1_aa", []byte(`{"v":2}`), "finalized"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, err := s.Load(ctx, "session_1_aa")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(snap.Data) != `{"v":2}` {
		t.Errorf("Data = %s, want latest write", snap.Data)
	}
	if snap.Status != "finalized" {
		t.Errorf("Status = %q, want %q", snap.Status, "finalized")
	}

	snaps, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 1 {
		t.Errorf("len(List()) = %d, want 1", len(snaps))
	}
}

func TestLoadMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Load(context.Background(), "session_nope")
	if !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Errorf("Load(missing) = %v, want CodeNotFound", err)
	}
}

func TestListOrdersByRecency(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.Save(ctx, "session_old", []byte(`{}`), "finalized")
	time.Sleep(2 * time.Millisecond)
	s.Save(ctx, "session_new", []byte(`{}`), "active")

	snaps, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(snaps))
	}
	if snaps[0].SessionID != "session_new" {
		t.Errorf("List()[0] = %s, want session_new", snaps[0].SessionID)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.Save(ctx, "session_1_aa", []byte(`{}`), "active")
	if err := s.Delete(ctx, "session_1_aa"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, "session_1_aa"); !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Errorf("Load after Delete = %v, want CodeNotFound", err)
	}

	// Deleting an absent id is a no-op
	if err := s.Delete(ctx, "session_nope"); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "snapshots.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("snapshot dir missing: %v", err)
	}
}
