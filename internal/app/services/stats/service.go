// Package stats aggregates today's audit trail for the waiting screen, the
// hourly health check, and the daily summary.
package stats

import (
	"context"
	"time"

	"github.com/comedor-digital/meal_service/internal/app/domain/audit"
	"github.com/comedor-digital/meal_service/internal/app/storage"
)

// DayStarter supplies the start of the current cafeteria day. The eligibility
// classifier satisfies this.
type DayStarter interface {
	Today(now time.Time) time.Time
}

// Service reads aggregate counts.
type Service struct {
	audits storage.AuditStore
	days   DayStarter
}

// New creates the stats service.
func New(audits storage.AuditStore, days DayStarter) *Service {
	return &Service{audits: audits, days: days}
}

// Daily returns today's evaluation totals.
func (s *Service) Daily(ctx context.Context) (audit.DailyStats, error) {
	return s.audits.DailyStats(ctx, s.days.Today(time.Now()))
}
