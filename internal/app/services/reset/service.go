// Package reset runs the daily lifecycle jobs: the midnight wipe that starts a
// fresh serving day, the weekly audit retention sweep, the hourly health
// check, and the afternoon summary post.
package reset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/comedor-digital/meal_service/internal/app/storage"
	"github.com/comedor-digital/meal_service/internal/app/system"
	"github.com/comedor-digital/meal_service/pkg/logger"
)

// DefaultRetention keeps audit records for 90 days before the weekly sweep
// removes them.
const DefaultRetention = 90 * 24 * time.Hour

// DayStarter supplies the start of the current cafeteria day.
type DayStarter interface {
	Today(now time.Time) time.Time
}

// SummaryPoster sends the afternoon summary.
type SummaryPoster interface {
	Enabled() bool
	PostDaily(ctx context.Context) error
}

// Metrics receives reset observations. Implementations must not block.
type Metrics interface {
	ObserveReset(counts storage.ResetCounts)
}

type noopMetrics struct{}

func (noopMetrics) ObserveReset(storage.ResetCounts) {}

// Config controls the schedules. Zero values pick the deployed defaults.
type Config struct {
	// ResetSpec is a cron expression for the daily wipe. Default "0 0 * * *".
	ResetSpec string
	// SummarySpec is a cron expression for the summary post. Default "0 14 * * *".
	SummarySpec string
	// Retention bounds the audit trail age. Default DefaultRetention.
	Retention time.Duration
	// Location pins the schedules to the cafeteria's clock. Nil means host
	// local time.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.ResetSpec == "" {
		c.ResetSpec = "0 0 * * *"
	}
	if c.SummarySpec == "" {
		c.SummarySpec = "0 14 * * *"
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Service is the scheduled lifecycle coordinator. It implements
// system.Service so the application manager owns its start and stop.
type Service struct {
	store   storage.ResetStore
	audits  storage.AuditStore
	days    DayStarter
	summary SummaryPoster
	metrics Metrics
	cfg     Config
	log     *logger.Logger

	mu   sync.Mutex
	cron *cron.Cron

	// healthCheck is swapped in by the application once stats exist.
	healthCheck func(ctx context.Context)
}

var _ system.Service = (*Service)(nil)

// New creates the coordinator. summary and metrics may be nil.
func New(store storage.ResetStore, audits storage.AuditStore, days DayStarter,
	summary SummaryPoster, metrics Metrics, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reset")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		store:   store,
		audits:  audits,
		days:    days,
		summary: summary,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
		log:     log,
	}
}

// SetHealthCheck installs the hourly health probe.
func (s *Service) SetHealthCheck(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthCheck = fn
}

func (s *Service) Name() string { return "reset-coordinator" }

// Start registers and launches the cron schedules.
func (s *Service) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}
	c := cron.New(cron.WithLocation(s.cfg.Location))

	if _, err := c.AddFunc(s.cfg.ResetSpec, s.runDailyReset); err != nil {
		return fmt.Errorf("schedule daily reset: %w", err)
	}
	if _, err := c.AddFunc("0 0 * * 0", s.runRetentionSweep); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	if _, err := c.AddFunc("0 * * * *", s.runHealthCheck); err != nil {
		return fmt.Errorf("schedule health check: %w", err)
	}
	if s.summary != nil && s.summary.Enabled() {
		if _, err := c.AddFunc(s.cfg.SummarySpec, s.runSummary); err != nil {
			return fmt.Errorf("schedule summary post: %w", err)
		}
	}

	c.Start()
	s.cron = c
	s.log.Infof("schedules started: reset %q, summary %q", s.cfg.ResetSpec, s.cfg.SummarySpec)
	return nil
}

// Stop halts the schedules and waits for running jobs to finish.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset performs the combined daily wipe immediately. Safe to call from the
// admin endpoint as well as the schedule; a second call on an already-clean
// day reports zero rows.
func (s *Service) Reset(ctx context.Context) (storage.ResetCounts, error) {
	counts, err := s.store.ResetDay(ctx, s.days.Today(time.Now()))
	if err != nil {
		return storage.ResetCounts{}, err
	}
	s.metrics.ObserveReset(counts)
	s.log.Infof("daily reset: %d usage, %d audit, %d lookup rows removed",
		counts.UsageRows, counts.AuditRows, counts.LookupRows)
	return counts, nil
}

func (s *Service) runDailyReset() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.Reset(ctx); err != nil {
		s.log.WithError(err).Error("scheduled daily reset failed")
	}
}

func (s *Service) runRetentionSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cutoff := time.Now().Add(-s.cfg.Retention)
	deleted, err := s.audits.DeleteAuditOlderThan(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Error("retention sweep failed")
		return
	}
	s.log.Infof("retention sweep removed %d audit rows", deleted)
}

func (s *Service) runHealthCheck() {
	s.mu.Lock()
	probe := s.healthCheck
	s.mu.Unlock()
	if probe == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	probe(ctx)
}

func (s *Service) runSummary() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	_ = s.summary.PostDaily(ctx)
}
