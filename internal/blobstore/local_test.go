package blobstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"geass/internal/fingerprint"
	"geass/internal/services"
)

func newTestStore(t *testing.T) *Local {
	t.Helper()
	base := t.TempDir()
	store, err := NewLocal(filepath.Join(base, "uploads"), filepath.Join(base, "spool"), 0)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return store
}

func spoolEntries(t *testing.T, l *Local) int {
	t.Helper()
	entries, err := os.ReadDir(l.spoolDir)
	if err != nil {
		t.Fatalf("read spool: %v", err)
	}
	return len(entries)
}

func TestSpoolAndCommit(t *testing.T) {
	store := newTestStore(t)
	payload := bytes.Repeat([]byte{0x7f}, 10_000)

	sp, err := store.Spool(bytes.NewReader(payload), 1<<20)
	if err != nil {
		t.Fatalf("Spool: %v", err)
	}
	if sp.Key != fingerprint.Bytes(payload) || sp.Size != int64(len(payload)) {
		t.Fatalf("unexpected spool result %+v", sp)
	}

	path, err := store.Commit(sp, "call-123", ".wav")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if path != filepath.Join(store.Root(), "call-123.wav") {
		t.Fatalf("unexpected committed path %q", path)
	}
	if !store.Exists(path) {
		t.Fatal("expected committed blob to exist")
	}
	if spoolEntries(t, store) != 0 {
		t.Fatal("expected spool emptied after commit")
	}
}

func TestSpoolRejectsOversizeAndEmpty(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Spool(strings.NewReader("0123456789"), 5)
	if !errors.Is(err, services.ErrTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}
	_, err = store.Spool(strings.NewReader(""), 5)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty upload, got %v", err)
	}
	if spoolEntries(t, store) != 0 {
		t.Fatal("expected rejected uploads to leave no spool files")
	}

	sp, err := store.Spool(strings.NewReader("12345"), 5)
	if err != nil {
		t.Fatalf("expected exact-limit upload accepted, got %v", err)
	}
	store.Discard(sp)
	if spoolEntries(t, store) != 0 {
		t.Fatal("expected discard to remove spool file")
	}
}

func TestSpoolRefusesWhenDiskLow(t *testing.T) {
	store := newTestStore(t)
	store.minFreeBytes = 1 << 30
	store.freeBytes = func(string) (uint64, error) { return 10 << 20, nil }

	_, err := store.Spool(strings.NewReader("x"), 0)
	if !errors.Is(err, services.ErrInsufficientStorage) {
		t.Fatalf("expected insufficient storage, got %v", err)
	}
}

func TestDeleteIsIdempotentAndScoped(t *testing.T) {
	store := newTestStore(t)
	sp, err := store.Spool(strings.NewReader("audio"), 0)
	if err != nil {
		t.Fatalf("Spool: %v", err)
	}
	path, err := store.Commit(sp, "abc", ".mp3")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := store.Delete(path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Exists(path) {
		t.Fatal("expected blob removed")
	}
	if err := store.Delete(path); err != nil {
		t.Fatalf("expected second delete to succeed, got %v", err)
	}
	if err := store.Delete(""); err != nil {
		t.Fatalf("expected empty path to be a no-op, got %v", err)
	}

	outside := filepath.Join(t.TempDir(), "victim.txt")
	if err := os.WriteFile(outside, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(outside); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected refusal outside root, got %v", err)
	}
	if err := store.Delete(filepath.Join(store.Root(), "..", "spool")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected refusal for traversal, got %v", err)
	}
}

func TestCommitRejectsBadNames(t *testing.T) {
	store := newTestStore(t)
	sp, err := store.Spool(strings.NewReader("audio"), 0)
	if err != nil {
		t.Fatalf("Spool: %v", err)
	}
	defer store.Discard(sp)
	if _, err := store.Commit(sp, "../escape", ".wav"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPurgeSpool(t *testing.T) {
	store := newTestStore(t)
	for _, name := range []string{"upload-1.part", "upload-2.part", "keep.txt"} {
		if err := os.WriteFile(filepath.Join(store.spoolDir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := store.PurgeSpool()
	if err != nil || removed != 2 {
		t.Fatalf("PurgeSpool = %d, %v", removed, err)
	}
}

func TestFreeBytes(t *testing.T) {
	free, err := FreeBytes(t.TempDir())
	if err != nil {
		t.Fatalf("FreeBytes: %v", err)
	}
	if free == 0 {
		t.Fatal("expected some free space in temp dir")
	}
}
