package eligibility

import (
	"time"

	"github.com/comedor-digital/meal_service/internal/app/domain/mealplan"
	"github.com/comedor-digital/meal_service/pkg/logger"
)

// Service windows, half-open on the hour.
const (
	breakfastStart = 6
	breakfastEnd   = 10
	lunchEnd       = 14
	snackEnd       = 17
)

// Classifier maps a wall-clock instant to the meal category currently being
// served. The cafeteria's timezone is resolved once at construction; if it
// cannot be loaded the classifier keeps serving on the host clock rather than
// refusing meals.
type Classifier struct {
	loc *time.Location
}

// NewClassifier resolves the timezone by name. An empty or unknown name falls
// back to the host's local clock with a warning.
func NewClassifier(timezone string, log *logger.Logger) *Classifier {
	if log == nil {
		log = logger.NewDefault("classifier")
	}
	if timezone == "" {
		return &Classifier{loc: time.Local}
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.WithError(err).Warnf("timezone %q unavailable, using host clock", timezone)
		return &Classifier{loc: time.Local}
	}
	return &Classifier{loc: loc}
}

// Classify returns the category served at now, or false outside all windows.
// Windows are half-open: 10:00 sharp is Lunch, not Breakfast.
func (c *Classifier) Classify(now time.Time) (mealplan.Category, bool) {
	hour := now.In(c.loc).Hour()
	switch {
	case hour >= breakfastStart && hour < breakfastEnd:
		return mealplan.Breakfast, true
	case hour >= breakfastEnd && hour < lunchEnd:
		return mealplan.Lunch, true
	case hour >= lunchEnd && hour < snackEnd:
		return mealplan.Snack, true
	}
	return "", false
}

// Location returns the resolved timezone, for schedules that must fire on
// the cafeteria's clock.
func (c *Classifier) Location() *time.Location { return c.loc }

// Weekday returns now's weekday in the cafeteria's timezone.
func (c *Classifier) Weekday(now time.Time) time.Weekday {
	return now.In(c.loc).Weekday()
}

// Today returns the start of now's calendar day in the cafeteria's timezone.
// Ledger rows and daily stats key off this, never off UTC midnight.
func (c *Classifier) Today(now time.Time) time.Time {
	local := now.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}
