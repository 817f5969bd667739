package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/storage/memory"
)

func TestTimelineRepository_AppendList(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()
	base := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	events := []domain.TimelineEvent{
		{OrderID: "order-1", Type: domain.TimelineStatusChanged, Status: "confirmed", Occurred: base.Add(time.Minute)},
		{OrderID: "order-1", Type: domain.TimelineOrderCreated, Status: "pending", Occurred: base},
		{OrderID: "order-2", Type: domain.TimelineOrderCreated, Status: "pending", Occurred: base},
		{OrderID: "order-1", Type: domain.TimelineNotification, Reason: "sent", Occurred: base},
	}
	for _, ev := range events {
		if err := repo.Append(ctx, ev); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	got, err := repo.List(ctx, "order-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	want := []string{domain.TimelineOrderCreated, domain.TimelineNotification, domain.TimelineStatusChanged}
	for i, typ := range want {
		if got[i].Type != typ {
			t.Fatalf("event %d: expected %s, got %s", i, typ, got[i].Type)
		}
	}

	empty, err := repo.List(ctx, "missing")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty list, got %v, %v", empty, err)
	}
}
