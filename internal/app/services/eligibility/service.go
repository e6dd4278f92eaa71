// Package eligibility implements the meal decision engine. Decide answers
// "may this student take this meal right now" without touching the ledger;
// Commit consumes the allowance and leaves an audit record.
package eligibility

import (
	"context"
	"errors"
	"time"

	"github.com/comedor-digital/meal_service/internal/app/domain/audit"
	"github.com/comedor-digital/meal_service/internal/app/domain/mealplan"
	"github.com/comedor-digital/meal_service/internal/app/domain/student"
	"github.com/comedor-digital/meal_service/internal/app/storage"
	"github.com/comedor-digital/meal_service/pkg/logger"
)

// Decision is the terminal result of one evaluation. Business denials are
// decisions, not errors; only infrastructure faults surface as errors.
type Decision struct {
	Eligible    bool                      `json:"eligible"`
	Outcome     audit.Outcome             `json:"outcome"`
	Reason      audit.ReasonCode          `json:"reason,omitempty"`
	Message     string                    `json:"message,omitempty"`
	Category    mealplan.Category         `json:"category,omitempty"`
	Used        int                       `json:"used"`
	Remaining   int                       `json:"remaining"`
	PerCategory map[mealplan.Category]int `json:"per_category,omitempty"`
}

func denied(reason audit.ReasonCode, category mealplan.Category) Decision {
	return Decision{
		Outcome:  audit.Denied,
		Reason:   reason,
		Message:  audit.Messages[reason],
		Category: category,
	}
}

// errored marks an infrastructure fault. Business denials use denied; the
// Error outcome is reserved for faults.
func errored(category mealplan.Category) Decision {
	return Decision{
		Outcome:  audit.Errored,
		Reason:   audit.ReasonSystemError,
		Message:  audit.Messages[audit.ReasonSystemError],
		Category: category,
	}
}

// Metrics receives one observation per terminal evaluation. Implementations
// must not block.
type Metrics interface {
	ObserveEvaluation(outcome audit.Outcome, reason audit.ReasonCode)
}

type noopMetrics struct{}

func (noopMetrics) ObserveEvaluation(audit.Outcome, audit.ReasonCode) {}

// Service is the eligibility engine shared by every station endpoint.
type Service struct {
	students   storage.StudentStore
	usage      storage.UsageStore
	audits     storage.AuditStore
	catalog    *mealplan.Catalog
	classifier *Classifier
	metrics    Metrics
	log        *logger.Logger
}

// New creates the engine. metrics may be nil.
func New(students storage.StudentStore, usage storage.UsageStore, audits storage.AuditStore,
	catalog *mealplan.Catalog, classifier *Classifier, metrics Metrics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("eligibility")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		students:   students,
		usage:      usage,
		audits:     audits,
		catalog:    catalog,
		classifier: classifier,
		metrics:    metrics,
		log:        log,
	}
}

// Decide evaluates the guards in order and never mutates the ledger. The
// order is load-bearing: an inactive student is denied before any usage row
// exists or is read, and the Friday guard fires before category checks.
func (s *Service) Decide(ctx context.Context, st student.Student, requested *mealplan.Category, now time.Time) (Decision, error) {
	category, ok := s.resolveCategory(requested, now)
	if !ok {
		return denied(audit.ReasonNoServiceWindow, ""), nil
	}

	if !st.IsActive() {
		return denied(audit.ReasonInactive, category), nil
	}

	plan, ok := s.catalog.Lookup(st.PlanID)
	if !ok {
		// A record pointing at a missing plan is a data fault, not a denial.
		s.log.WithField("student_id", st.ID).Errorf("student references unknown plan %q", st.PlanID)
		return errored(category), nil
	}

	if !plan.FridayOnly && s.classifier.Weekday(now) == time.Friday {
		return denied(audit.ReasonNoFridayPlan, category), nil
	}

	if !plan.Allows(category) {
		return denied(audit.ReasonCategoryNotAllowed, category), nil
	}

	row, err := s.usage.GetOrCreateUsage(ctx, st.ID, s.classifier.Today(now))
	if err != nil {
		return Decision{}, err
	}

	if row.CategoryCount(category) > 0 {
		d := denied(audit.ReasonCategoryAlreadyUsed, category)
		d.Used = row.Total
		d.Remaining = remaining(st.DailyAllowance, row.Total)
		d.PerCategory = row.PerCategory()
		return d, nil
	}

	if row.Total >= st.DailyAllowance {
		d := denied(audit.ReasonLimitReached, category)
		d.Used = row.Total
		d.PerCategory = row.PerCategory()
		return d, nil
	}

	return Decision{
		Eligible:    true,
		Outcome:     audit.Approved,
		Category:    category,
		Used:        row.Total,
		Remaining:   remaining(st.DailyAllowance, row.Total),
		PerCategory: row.PerCategory(),
	}, nil
}

// Commit re-evaluates and, if approved, consumes the allowance with the
// store's conditional increment. A lost commit race comes back as a
// CATEGORY_ALREADY_USED denial, not an error. Exactly one audit record is
// written per terminal outcome, including infrastructure faults.
func (s *Service) Commit(ctx context.Context, studentID string, requested *mealplan.Category, stationID, cashierID string, now time.Time) (Decision, error) {
	st, err := s.students.GetStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.finish(ctx, student.Student{ID: studentID}, denied(audit.ReasonCardNotFound, ""), stationID, cashierID, now)
		}
		return s.systemError(ctx, student.Student{ID: studentID}, "", stationID, cashierID, now, err)
	}

	decision, err := s.Decide(ctx, st, requested, now)
	if err != nil {
		return s.systemError(ctx, st, decision.Category, stationID, cashierID, now, err)
	}
	if !decision.Eligible {
		return s.finish(ctx, st, decision, stationID, cashierID, now)
	}

	row, err := s.usage.IncrementUsage(ctx, st.ID, s.classifier.Today(now), decision.Category, st.DailyAllowance)
	if err != nil {
		if errors.Is(err, storage.ErrCategoryUsed) {
			lost := denied(audit.ReasonCategoryAlreadyUsed, decision.Category)
			lost.Used = decision.Used
			lost.Remaining = decision.Remaining
			return s.finish(ctx, st, lost, stationID, cashierID, now)
		}
		if errors.Is(err, storage.ErrAllowanceSpent) {
			// A commit for another category landed between Decide and here.
			lost := denied(audit.ReasonLimitReached, decision.Category)
			lost.Used = decision.Used
			return s.finish(ctx, st, lost, stationID, cashierID, now)
		}
		return s.systemError(ctx, st, decision.Category, stationID, cashierID, now, err)
	}

	decision.Used = row.Total
	decision.Remaining = remaining(st.DailyAllowance, row.Total)
	decision.PerCategory = row.PerCategory()
	return s.finish(ctx, st, decision, stationID, cashierID, now)
}

// DenyManually records a cashier-initiated denial. No guard runs and no
// allowance is touched; the audit record is the whole effect.
func (s *Service) DenyManually(ctx context.Context, st student.Student, stationID, cashierID string, now time.Time) (Decision, error) {
	return s.finish(ctx, st, denied(audit.ReasonManualOverride, ""), stationID, cashierID, now)
}

func (s *Service) resolveCategory(requested *mealplan.Category, now time.Time) (mealplan.Category, bool) {
	if requested != nil && requested.Valid() {
		return *requested, true
	}
	return s.classifier.Classify(now)
}

// finish writes the single audit record for a terminal decision. An audit
// write failure downgrades the outcome to Error so the station never shows an
// approval the trail cannot account for.
func (s *Service) finish(ctx context.Context, st student.Student, d Decision, stationID, cashierID string, now time.Time) (Decision, error) {
	rec := audit.Record{
		StudentID:   st.ID,
		StudentName: st.Name,
		PlanID:      st.PlanID,
		Category:    d.Category,
		Outcome:     d.Outcome,
		Reason:      d.Reason,
		StationID:   stationID,
		CashierID:   cashierID,
		CreatedAt:   now.UTC(),
	}
	if _, err := s.audits.AppendAudit(ctx, rec); err != nil {
		s.log.WithError(err).WithField("student_id", st.ID).Error("audit append failed")
		s.metrics.ObserveEvaluation(audit.Errored, audit.ReasonSystemError)
		return errored(d.Category), err
	}
	s.metrics.ObserveEvaluation(d.Outcome, d.Reason)
	return d, nil
}

func (s *Service) systemError(ctx context.Context, st student.Student, category mealplan.Category, stationID, cashierID string, now time.Time, cause error) (Decision, error) {
	s.log.WithError(cause).WithField("student_id", st.ID).Error("evaluation failed")
	d := errored(category)
	if _, err := s.audits.AppendAudit(ctx, audit.Record{
		StudentID:   st.ID,
		StudentName: st.Name,
		PlanID:      st.PlanID,
		Category:    category,
		Outcome:     audit.Errored,
		Reason:      audit.ReasonSystemError,
		StationID:   stationID,
		CashierID:   cashierID,
		CreatedAt:   now.UTC(),
	}); err != nil {
		s.log.WithError(err).Error("audit append failed after evaluation error")
	}
	s.metrics.ObserveEvaluation(audit.Errored, audit.ReasonSystemError)
	return d, cause
}

func remaining(allowance, used int) int {
	if used >= allowance {
		return 0
	}
	return allowance - used
}
