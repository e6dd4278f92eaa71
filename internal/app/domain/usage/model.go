// Package usage defines the per-student per-day ledger row.
package usage

import (
	"time"

	"github.com/comedor-digital/meal_service/internal/app/domain/mealplan"
)

// DailyUsage tracks consumption for one student on one calendar day. One row
// per (student, date); created lazily on first read. Invariant: Total equals
// the sum of the per-category counters after any sequence of increments.
type DailyUsage struct {
	StudentID  string
	Date       time.Time
	Total      int
	Breakfast  int
	Lunch      int
	Snack      int
	LastUsedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CategoryCount returns the counter for the category.
func (u DailyUsage) CategoryCount(c mealplan.Category) int {
	switch c {
	case mealplan.Breakfast:
		return u.Breakfast
	case mealplan.Lunch:
		return u.Lunch
	case mealplan.Snack:
		return u.Snack
	}
	return 0
}

// PerCategory returns the counters keyed by category.
func (u DailyUsage) PerCategory() map[mealplan.Category]int {
	return map[mealplan.Category]int{
		mealplan.Breakfast: u.Breakfast,
		mealplan.Lunch:     u.Lunch,
		mealplan.Snack:     u.Snack,
	}
}

// Consistent reports whether the total matches the per-category sum.
func (u DailyUsage) Consistent() bool {
	return u.Total == u.Breakfast+u.Lunch+u.Snack
}

// Day truncates t to its calendar date in t's location. All ledger keys go
// through this so a row never straddles midnight.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
