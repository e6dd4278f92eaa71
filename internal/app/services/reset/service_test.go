package reset

import (
	"context"
	"testing"
	"time"

	"github.com/comedor-digital/meal_service/internal/app/domain/audit"
	"github.com/comedor-digital/meal_service/internal/app/domain/lookup"
	"github.com/comedor-digital/meal_service/internal/app/domain/mealplan"
	"github.com/comedor-digital/meal_service/internal/app/storage"
	"github.com/comedor-digital/meal_service/internal/app/storage/memory"
)

type fixedDay struct{ day time.Time }

func (f fixedDay) Today(time.Time) time.Time { return f.day }

func TestResetWipesAndIsIdempotent(t *testing.T) {
	store := memory.New()
	day := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	svc := New(store, store, fixedDay{day}, nil, nil, Config{}, nil)
	ctx := context.Background()

	_, _ = store.IncrementUsage(ctx, "s1", day, mealplan.Lunch, 9)
	_, _ = store.IncrementUsage(ctx, "s2", day, mealplan.Snack, 9)
	_, _ = store.AppendAudit(ctx, audit.Record{StudentID: "s1", Outcome: audit.Approved, CreatedAt: day.Add(11 * time.Hour)})
	_, _ = store.PublishLookup(ctx, lookup.Cell{StationID: "caja1", StudentID: "s1"})

	counts, err := svc.Reset(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if counts.UsageRows != 2 || counts.AuditRows != 1 || counts.LookupRows != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	counts, err = svc.Reset(ctx)
	if err != nil {
		t.Fatalf("second reset: %v", err)
	}
	if counts != (storage.ResetCounts{}) {
		t.Fatalf("second reset should be a no-op: %+v", counts)
	}

	// A student can eat again after the wipe.
	if _, err := store.IncrementUsage(ctx, "s1", day, mealplan.Lunch, 9); err != nil {
		t.Fatalf("increment after reset: %v", err)
	}
}

func TestStartRejectsBadCronSpec(t *testing.T) {
	store := memory.New()
	svc := New(store, store, fixedDay{}, nil, nil, Config{ResetSpec: "not a cron spec"}, nil)
	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestStartStop(t *testing.T) {
	store := memory.New()
	svc := New(store, store, fixedDay{}, nil, nil, Config{}, nil)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Second start is a no-op, not a duplicate schedule.
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
