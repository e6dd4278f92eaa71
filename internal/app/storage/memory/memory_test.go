package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/comedor-digital/meal_service/internal/app/domain/audit"
	"github.com/comedor-digital/meal_service/internal/app/domain/lookup"
	"github.com/comedor-digital/meal_service/internal/app/domain/mealplan"
	"github.com/comedor-digital/meal_service/internal/app/domain/student"
	"github.com/comedor-digital/meal_service/internal/app/storage"
)

var day = time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)

func TestStudentLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateStudent(ctx, student.Student{CardToken: "ct", Name: "n", PlanID: "Basic", DailyAllowance: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Status != student.Active {
		t.Fatalf("unexpected created record: %+v", created)
	}

	if _, err := s.CreateStudent(ctx, student.Student{ID: created.ID}); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("duplicate create: got %v, want ErrDuplicate", err)
	}

	created.Status = student.Inactive
	if _, err := s.UpdateStudent(ctx, created); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetStudent(ctx, created.ID)
	if err != nil || got.Status != student.Inactive {
		t.Fatalf("get after update: %+v, %v", got, err)
	}

	active, err := s.ListStudents(ctx, true)
	if err != nil || len(active) != 0 {
		t.Fatalf("active list = %d records, %v; want 0", len(active), err)
	}
	all, err := s.ListStudents(ctx, false)
	if err != nil || len(all) != 1 {
		t.Fatalf("full list = %d records, %v; want 1", len(all), err)
	}

	if _, err := s.GetStudent(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing: got %v, want ErrNotFound", err)
	}
}

func TestIncrementUsageKeepsTotalsConsistent(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, c := range mealplan.Categories {
		row, err := s.IncrementUsage(ctx, "s1", day, c, 9)
		if err != nil {
			t.Fatalf("increment %s: %v", c, err)
		}
		if !row.Consistent() {
			t.Fatalf("after %s: total %d != per-category sum", c, row.Total)
		}
	}

	row, err := s.GetOrCreateUsage(ctx, "s1", day)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row.Total != 3 || row.Breakfast != 1 || row.Lunch != 1 || row.Snack != 1 {
		t.Fatalf("unexpected counters: %+v", row)
	}
	if row.LastUsedAt.IsZero() {
		t.Fatal("LastUsedAt not stamped")
	}
}

func TestIncrementUsageSecondSameCategoryFails(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.IncrementUsage(ctx, "s1", day, mealplan.Lunch, 9); err != nil {
		t.Fatalf("first increment: %v", err)
	}
	if _, err := s.IncrementUsage(ctx, "s1", day, mealplan.Lunch, 9); !errors.Is(err, storage.ErrCategoryUsed) {
		t.Fatalf("second increment: got %v, want ErrCategoryUsed", err)
	}

	// A different day is a fresh row.
	if _, err := s.IncrementUsage(ctx, "s1", day.AddDate(0, 0, 1), mealplan.Lunch, 9); err != nil {
		t.Fatalf("next day increment: %v", err)
	}
}

func TestIncrementUsageGuardsTotalAcrossCategories(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.IncrementUsage(ctx, "s1", day, mealplan.Lunch, 1); err != nil {
		t.Fatalf("first increment: %v", err)
	}
	// Allowance 1 is spent; a commit for a different category must lose too.
	if _, err := s.IncrementUsage(ctx, "s1", day, mealplan.Snack, 1); !errors.Is(err, storage.ErrAllowanceSpent) {
		t.Fatalf("cross-category increment: got %v, want ErrAllowanceSpent", err)
	}

	row, _ := s.GetOrCreateUsage(ctx, "s1", day)
	if row.Total != 1 || row.Snack != 0 {
		t.Fatalf("counters after blocked commit: %+v", row)
	}
}

func TestIncrementUsageConcurrentCommitters(t *testing.T) {
	s := New()
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins, losses int

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementUsage(ctx, "s1", day, mealplan.Lunch, 9)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, storage.ErrCategoryUsed):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || losses != n-1 {
		t.Fatalf("wins = %d, losses = %d; want 1 and %d", wins, losses, n-1)
	}
	row, _ := s.GetOrCreateUsage(ctx, "s1", day)
	if row.Lunch != 1 || row.Total != 1 {
		t.Fatalf("counters after race: %+v", row)
	}
}

func TestResetUsage(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, _ = s.IncrementUsage(ctx, "s1", day, mealplan.Lunch, 9)
	_, _ = s.IncrementUsage(ctx, "s2", day, mealplan.Snack, 9)

	deleted, err := s.ResetUsage(ctx)
	if err != nil || deleted != 2 {
		t.Fatalf("reset = %d, %v; want 2 rows", deleted, err)
	}
	deleted, err = s.ResetUsage(ctx)
	if err != nil || deleted != 0 {
		t.Fatalf("second reset = %d, %v; want 0 rows", deleted, err)
	}
}

func TestResetDayIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, _ = s.IncrementUsage(ctx, "s1", day, mealplan.Lunch, 9)
	_, _ = s.AppendAudit(ctx, audit.Record{StudentID: "s1", Outcome: audit.Approved, CreatedAt: day.Add(11 * time.Hour)})
	_, _ = s.PublishLookup(ctx, lookup.Cell{StationID: "caja1", StudentID: "s1"})

	counts, err := s.ResetDay(ctx, day)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if counts.UsageRows != 1 || counts.AuditRows != 1 || counts.LookupRows != 1 {
		t.Fatalf("first reset counts: %+v", counts)
	}

	counts, err = s.ResetDay(ctx, day)
	if err != nil {
		t.Fatalf("second reset: %v", err)
	}
	if counts.UsageRows != 0 || counts.AuditRows != 0 || counts.LookupRows != 0 {
		t.Fatalf("second reset should remove nothing: %+v", counts)
	}
}

func TestResetDayKeepsOlderAudit(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, _ = s.AppendAudit(ctx, audit.Record{StudentID: "old", Outcome: audit.Approved, CreatedAt: day.AddDate(0, 0, -1)})
	_, _ = s.AppendAudit(ctx, audit.Record{StudentID: "today", Outcome: audit.Approved, CreatedAt: day.Add(time.Hour)})

	counts, err := s.ResetDay(ctx, day)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if counts.AuditRows != 1 {
		t.Fatalf("audit rows removed = %d, want 1", counts.AuditRows)
	}

	remaining, _ := s.ListRecentAudit(ctx, 10)
	if len(remaining) != 1 || remaining[0].StudentID != "old" {
		t.Fatalf("yesterday's record should survive: %+v", remaining)
	}
}

func TestDailyStats(t *testing.T) {
	s := New()
	ctx := context.Background()

	records := []audit.Record{
		{Outcome: audit.Approved, Category: mealplan.Lunch, CreatedAt: day.Add(11 * time.Hour)},
		{Outcome: audit.Approved, Category: mealplan.Snack, CreatedAt: day.Add(15 * time.Hour)},
		{Outcome: audit.Denied, Reason: audit.ReasonLimitReached, CreatedAt: day.Add(12 * time.Hour)},
		{Outcome: audit.Errored, CreatedAt: day.Add(12 * time.Hour)},
		{Outcome: audit.Approved, Category: mealplan.Lunch, CreatedAt: day.AddDate(0, 0, -1)}, // yesterday
	}
	for _, rec := range records {
		_, _ = s.AppendAudit(ctx, rec)
	}

	stats, err := s.DailyStats(ctx, day)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Approved != 2 || stats.Denied != 1 || stats.Errored != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.PerCategory[mealplan.Lunch] != 1 || stats.PerCategory[mealplan.Snack] != 1 {
		t.Fatalf("unexpected per-category: %+v", stats.PerCategory)
	}
}

func TestLookupPublishOverwrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, _ = s.PublishLookup(ctx, lookup.Cell{StationID: "caja1", StudentID: "first"})
	_, _ = s.PublishLookup(ctx, lookup.Cell{StationID: "caja1", StudentID: "second"})

	cell, err := s.GetLookup(ctx, "caja1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cell.StudentID != "second" {
		t.Fatalf("cell holds %q, want the later publish", cell.StudentID)
	}

	if err := s.ClearLookup(ctx, "caja1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := s.GetLookup(ctx, "caja1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("after clear: got %v, want ErrNotFound", err)
	}
}
