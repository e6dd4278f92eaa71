// Package storage declares the persistence interfaces shared by every station
// process. Implementations must keep the cross-station guarantees documented
// on each method; the memory implementation backs tests, the postgres
// implementation backs production.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/comedor-digital/meal_service/internal/app/domain/audit"
	"github.com/comedor-digital/meal_service/internal/app/domain/lookup"
	"github.com/comedor-digital/meal_service/internal/app/domain/mealplan"
	"github.com/comedor-digital/meal_service/internal/app/domain/student"
	"github.com/comedor-digital/meal_service/internal/app/domain/usage"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a create collides with a uniqueness
// constraint that the caller did not expect to race on.
var ErrDuplicate = errors.New("already exists")

// ErrCategoryUsed is returned by IncrementUsage when the category counter for
// the day is already nonzero. Exactly one of N racing increments for the same
// (student, category, date) succeeds; the rest receive this error.
var ErrCategoryUsed = errors.New("category already used today")

// ErrAllowanceSpent is returned by IncrementUsage when the total counter has
// already reached the daily allowance, so commits racing on different
// categories cannot push the total past it.
var ErrAllowanceSpent = errors.New("daily allowance spent")

// StudentStore persists student master records.
type StudentStore interface {
	CreateStudent(ctx context.Context, s student.Student) (student.Student, error)
	UpdateStudent(ctx context.Context, s student.Student) (student.Student, error)
	GetStudent(ctx context.Context, id string) (student.Student, error)
	ListStudents(ctx context.Context, activeOnly bool) ([]student.Student, error)
}

// UsageStore persists the daily consumption ledger.
type UsageStore interface {
	// GetOrCreateUsage returns the row for (studentID, day), creating it
	// lazily. Concurrent creators converge on one row: a uniqueness
	// violation is handled as a re-fetch, never surfaced.
	GetOrCreateUsage(ctx context.Context, studentID string, day time.Time) (usage.DailyUsage, error)

	// IncrementUsage atomically bumps the total and the category counter and
	// stamps the last-used time, but only if the category counter is still
	// zero and the total is below allowance. A lost same-category race
	// returns ErrCategoryUsed; a lost cross-category race returns
	// ErrAllowanceSpent.
	IncrementUsage(ctx context.Context, studentID string, day time.Time, category mealplan.Category, allowance int) (usage.DailyUsage, error)

	// ResetUsage deletes every ledger row and reports how many were removed.
	// Idempotent: a second call returns 0.
	ResetUsage(ctx context.Context) (int64, error)
}

// AuditStore persists the append-only evaluation trail.
type AuditStore interface {
	AppendAudit(ctx context.Context, rec audit.Record) (audit.Record, error)
	ListRecentAudit(ctx context.Context, limit int) ([]audit.Record, error)
	DailyStats(ctx context.Context, dayStart time.Time) (audit.DailyStats, error)
	DeleteAuditSince(ctx context.Context, dayStart time.Time) (int64, error)
	DeleteAuditOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// LookupStore persists the per-station broadcast cells. Writes are
// last-write-wins; races between stations are tolerated by design.
type LookupStore interface {
	PublishLookup(ctx context.Context, cell lookup.Cell) (lookup.Cell, error)
	GetLookup(ctx context.Context, stationID string) (lookup.Cell, error)
	ClearLookup(ctx context.Context, stationID string) error
	ClearAllLookups(ctx context.Context) (int64, error)
}

// ResetCounts reports what a daily reset removed.
type ResetCounts struct {
	UsageRows  int64 `json:"usage_rows"`
	AuditRows  int64 `json:"audit_rows"`
	LookupRows int64 `json:"lookup_rows"`
}

// ResetStore performs the combined daily wipe.
type ResetStore interface {
	// ResetDay deletes all usage rows, today's audit records (those at or
	// after dayStart), and all lookup cells in one transaction. A concurrent
	// evaluation observes either fully-pre-reset or fully-post-reset state.
	ResetDay(ctx context.Context, dayStart time.Time) (ResetCounts, error)
}
