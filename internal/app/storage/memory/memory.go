// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development. The single mutex gives it the same
// all-or-nothing reset isolation the postgres transaction provides.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/comedor-digital/meal_service/internal/app/domain/audit"
	"github.com/comedor-digital/meal_service/internal/app/domain/lookup"
	"github.com/comedor-digital/meal_service/internal/app/domain/mealplan"
	"github.com/comedor-digital/meal_service/internal/app/domain/student"
	"github.com/comedor-digital/meal_service/internal/app/domain/usage"
	"github.com/comedor-digital/meal_service/internal/app/storage"
)

// Store is the in-memory persistence layer.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	students map[string]student.Student
	usages   map[string]usage.DailyUsage
	audits   []audit.Record
	lookups  map[string]lookup.Cell
}

var _ storage.StudentStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.LookupStore = (*Store)(nil)
var _ storage.ResetStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:   1,
		students: make(map[string]student.Student),
		usages:   make(map[string]usage.DailyUsage),
		lookups:  make(map[string]lookup.Cell),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func usageKey(studentID string, day time.Time) string {
	return studentID + "|" + usage.Day(day).Format("2006-01-02")
}

// StudentStore implementation -------------------------------------------------

func (s *Store) CreateStudent(_ context.Context, st student.Student) (student.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ID == "" {
		st.ID = s.nextIDLocked()
	} else if _, exists := s.students[st.ID]; exists {
		return student.Student{}, fmt.Errorf("student %s: %w", st.ID, storage.ErrDuplicate)
	}

	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now
	if st.Status == "" {
		st.Status = student.Active
	}

	s.students[st.ID] = st
	return st, nil
}

func (s *Store) UpdateStudent(_ context.Context, st student.Student) (student.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.students[st.ID]
	if !ok {
		return student.Student{}, fmt.Errorf("student %s: %w", st.ID, storage.ErrNotFound)
	}

	st.CreatedAt = original.CreatedAt
	st.UpdatedAt = time.Now().UTC()

	s.students[st.ID] = st
	return st, nil
}

func (s *Store) GetStudent(_ context.Context, id string) (student.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.students[id]
	if !ok {
		return student.Student{}, fmt.Errorf("student %s: %w", id, storage.ErrNotFound)
	}
	return st, nil
}

func (s *Store) ListStudents(_ context.Context, activeOnly bool) ([]student.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]student.Student, 0, len(s.students))
	for _, st := range s.students {
		if activeOnly && !st.IsActive() {
			continue
		}
		result = append(result, st)
	}
	return result, nil
}

// UsageStore implementation ---------------------------------------------------

func (s *Store) GetOrCreateUsage(_ context.Context, studentID string, day time.Time) (usage.DailyUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateUsageLocked(studentID, day), nil
}

func (s *Store) getOrCreateUsageLocked(studentID string, day time.Time) usage.DailyUsage {
	key := usageKey(studentID, day)
	if row, ok := s.usages[key]; ok {
		return row
	}
	now := time.Now().UTC()
	row := usage.DailyUsage{
		StudentID: studentID,
		Date:      usage.Day(day),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.usages[key] = row
	return row
}

func (s *Store) IncrementUsage(_ context.Context, studentID string, day time.Time, category mealplan.Category, allowance int) (usage.DailyUsage, error) {
	if !category.Valid() {
		return usage.DailyUsage{}, fmt.Errorf("unknown category %q", category)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.getOrCreateUsageLocked(studentID, day)
	if row.CategoryCount(category) > 0 {
		return usage.DailyUsage{}, storage.ErrCategoryUsed
	}
	if row.Total >= allowance {
		return usage.DailyUsage{}, storage.ErrAllowanceSpent
	}

	switch category {
	case mealplan.Breakfast:
		row.Breakfast++
	case mealplan.Lunch:
		row.Lunch++
	case mealplan.Snack:
		row.Snack++
	}
	row.Total++
	now := time.Now().UTC()
	row.LastUsedAt = now
	row.UpdatedAt = now

	s.usages[usageKey(studentID, day)] = row
	return row, nil
}

func (s *Store) ResetUsage(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := int64(len(s.usages))
	s.usages = make(map[string]usage.DailyUsage)
	return deleted, nil
}

// AuditStore implementation ---------------------------------------------------

func (s *Store) AppendAudit(_ context.Context, rec audit.Record) (audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = s.nextIDLocked()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.audits = append(s.audits, rec)
	return rec, nil
}

func (s *Store) ListRecentAudit(_ context.Context, limit int) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.audits) {
		limit = len(s.audits)
	}
	result := make([]audit.Record, 0, limit)
	for i := len(s.audits) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.audits[i])
	}
	return result, nil
}

func (s *Store) DailyStats(_ context.Context, dayStart time.Time) (audit.DailyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := audit.DailyStats{PerCategory: make(map[mealplan.Category]int)}
	for _, rec := range s.audits {
		if rec.CreatedAt.Before(dayStart) {
			continue
		}
		stats.Total++
		switch rec.Outcome {
		case audit.Approved:
			stats.Approved++
			if rec.Category.Valid() {
				stats.PerCategory[rec.Category]++
			}
		case audit.Denied:
			stats.Denied++
		case audit.Errored:
			stats.Errored++
		}
	}
	return stats, nil
}

func (s *Store) DeleteAuditSince(_ context.Context, dayStart time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteAuditSinceLocked(dayStart), nil
}

func (s *Store) deleteAuditSinceLocked(dayStart time.Time) int64 {
	kept := s.audits[:0]
	var deleted int64
	for _, rec := range s.audits {
		if rec.CreatedAt.Before(dayStart) {
			kept = append(kept, rec)
		} else {
			deleted++
		}
	}
	s.audits = kept
	return deleted
}

func (s *Store) DeleteAuditOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.audits[:0]
	var deleted int64
	for _, rec := range s.audits {
		if rec.CreatedAt.Before(cutoff) {
			deleted++
		} else {
			kept = append(kept, rec)
		}
	}
	s.audits = kept
	return deleted, nil
}

// LookupStore implementation --------------------------------------------------

func (s *Store) PublishLookup(_ context.Context, cell lookup.Cell) (lookup.Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cell.PublishedAt.IsZero() {
		cell.PublishedAt = time.Now().UTC()
	}
	s.lookups[cell.StationID] = cell
	return cell, nil
}

func (s *Store) GetLookup(_ context.Context, stationID string) (lookup.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cell, ok := s.lookups[stationID]
	if !ok {
		return lookup.Cell{}, fmt.Errorf("lookup for station %s: %w", stationID, storage.ErrNotFound)
	}
	return cell, nil
}

func (s *Store) ClearLookup(_ context.Context, stationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.lookups, stationID)
	return nil
}

func (s *Store) ClearAllLookups(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := int64(len(s.lookups))
	s.lookups = make(map[string]lookup.Cell)
	return deleted, nil
}

// ResetStore implementation ---------------------------------------------------

func (s *Store) ResetDay(_ context.Context, dayStart time.Time) (storage.ResetCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := storage.ResetCounts{
		UsageRows:  int64(len(s.usages)),
		LookupRows: int64(len(s.lookups)),
	}
	s.usages = make(map[string]usage.DailyUsage)
	s.lookups = make(map[string]lookup.Cell)
	counts.AuditRows = s.deleteAuditSinceLocked(dayStart)
	return counts, nil
}
