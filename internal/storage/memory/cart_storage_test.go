package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/Steank-29/tawakkol/internal/domain"
)

func TestCartStorage(t *testing.T) {
	ctx := context.Background()
	storage := NewCartStorage()

	if _, err := storage.Load(ctx, "cart"); !errors.Is(err, domain.ErrCartSnapshotNotFound) {
		t.Fatalf("expected ErrCartSnapshotNotFound, got %v", err)
	}

	data := []byte(`[]`)
	if err := storage.Save(ctx, "cart", data); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	data[0] = 'x'

	got, err := storage.Load(ctx, "cart")
	if err != nil || string(got) != "[]" {
		t.Fatalf("expected stored copy, got %q, %v", got, err)
	}

	storage.FailSave = errors.New("boom")
	if err := storage.Save(ctx, "cart", []byte(`[1]`)); err == nil {
		t.Fatal("expected injected failure")
	}

	if err := storage.Delete(ctx, "cart"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := storage.Load(ctx, "cart"); !errors.Is(err, domain.ErrCartSnapshotNotFound) {
		t.Fatalf("expected ErrCartSnapshotNotFound after delete, got %v", err)
	}
}
