// Package audit defines the immutable evaluation trail. Records are appended
// once and never mutated.
package audit

import (
	"time"

	"github.com/comedor-digital/meal_service/internal/app/domain/mealplan"
)

// Outcome is the terminal result of one evaluation.
type Outcome string

const (
	Approved Outcome = "Approved"
	Denied   Outcome = "Denied"
	// Errored marks infrastructure faults surfaced by the store, never
	// business-rule denials.
	Errored Outcome = "Error"
)

// ReasonCode identifies why an evaluation was denied.
type ReasonCode string

const (
	ReasonNoServiceWindow     ReasonCode = "NO_SERVICE_WINDOW"
	ReasonInactive            ReasonCode = "INACTIVE"
	ReasonNoFridayPlan        ReasonCode = "NO_FRIDAY_PLAN"
	ReasonCategoryNotAllowed  ReasonCode = "CATEGORY_NOT_ALLOWED"
	ReasonCategoryAlreadyUsed ReasonCode = "CATEGORY_ALREADY_USED"
	ReasonLimitReached        ReasonCode = "LIMIT_REACHED"
	ReasonCardNotFound        ReasonCode = "CARD_NOT_FOUND"
	ReasonManualOverride      ReasonCode = "MANUAL_OVERRIDE"
	ReasonSystemError         ReasonCode = "SYSTEM_ERROR"
)

// Messages maps reason codes to operator-facing text shown on the station UI.
var Messages = map[ReasonCode]string{
	ReasonNoServiceWindow:     "No meals served at this time",
	ReasonInactive:            "Student account inactive",
	ReasonNoFridayPlan:        "Regular meal plans not valid on Fridays",
	ReasonCategoryNotAllowed:  "This meal type is not included in your plan",
	ReasonCategoryAlreadyUsed: "You already used this meal type today",
	ReasonLimitReached:        "Daily meal limit reached",
	ReasonCardNotFound:        "Card not recognized",
	ReasonManualOverride:      "Manually denied by cashier",
	ReasonSystemError:         "System error",
}

// Record is one audit entry. StudentName holds ciphertext, same as the master
// record. Category is empty when no category was resolved (for example a
// manual denial before selection).
type Record struct {
	ID          string
	StudentID   string
	StudentName string
	PlanID      string
	Category    mealplan.Category
	Outcome     Outcome
	Reason      ReasonCode
	StationID   string
	CashierID   string
	CreatedAt   time.Time
}

// DailyStats aggregates today's audit records for the waiting screen, the
// hourly health check, and the daily summary poster.
type DailyStats struct {
	Total       int                       `json:"total"`
	Approved    int                       `json:"approved"`
	Denied      int                       `json:"denied"`
	Errored     int                       `json:"errored"`
	PerCategory map[mealplan.Category]int `json:"per_category"`
}
