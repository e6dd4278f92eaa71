// Package app wires the meal service together: stores, services, schedules,
// and the HTTP surface, under one lifecycle manager.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/comedor-digital/meal_service/internal/app/domain/mealplan"
	"github.com/comedor-digital/meal_service/internal/app/httpapi"
	"github.com/comedor-digital/meal_service/internal/app/metrics"
	"github.com/comedor-digital/meal_service/internal/app/services/eligibility"
	"github.com/comedor-digital/meal_service/internal/app/services/lookup"
	"github.com/comedor-digital/meal_service/internal/app/services/reset"
	"github.com/comedor-digital/meal_service/internal/app/services/stats"
	"github.com/comedor-digital/meal_service/internal/app/services/students"
	"github.com/comedor-digital/meal_service/internal/app/services/summary"
	"github.com/comedor-digital/meal_service/internal/app/storage"
	"github.com/comedor-digital/meal_service/internal/app/storage/memory"
	"github.com/comedor-digital/meal_service/internal/app/storage/postgres"
	"github.com/comedor-digital/meal_service/internal/app/system"
	"github.com/comedor-digital/meal_service/internal/config"
	"github.com/comedor-digital/meal_service/internal/crypto"
	"github.com/comedor-digital/meal_service/internal/middleware"
	"github.com/comedor-digital/meal_service/pkg/logger"
)

// Stores groups the persistence interfaces the application depends on. One
// backing implementation satisfies all of them.
type Stores struct {
	Students storage.StudentStore
	Usage    storage.UsageStore
	Audits   storage.AuditStore
	Lookups  storage.LookupStore
	Reset    storage.ResetStore
}

// MemoryStores backs every interface with the in-memory store.
func MemoryStores() Stores {
	s := memory.New()
	return Stores{Students: s, Usage: s, Audits: s, Lookups: s, Reset: s}
}

// Application is the assembled service.
type Application struct {
	cfg     config.Config
	stores  Stores
	manager *system.Manager
	log     *logger.Logger

	pg     *postgres.Store
	server *http.Server

	Students    *students.Service
	Eligibility *eligibility.Service
	Lookups     *lookup.Service
	Stats       *stats.Service
	Reset       *reset.Service
	Metrics     *metrics.Metrics
}

// New assembles the application. With a DATABASE_URL the shared Postgres
// store backs everything; without one the in-memory store does, which only
// makes sense for a single local process.
func New(ctx context.Context, cfg config.Config) (*Application, error) {
	log := logger.New("app", cfg.LogLevel)

	codec, err := crypto.NewFieldCodec(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("field codec: %w", err)
	}

	catalog, err := mealplan.LoadCatalog(cfg.PlanCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("plan catalog: %w", err)
	}

	a := &Application{
		cfg:     cfg,
		manager: system.NewManager(),
		log:     log,
	}

	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.Migrate(cfg.MigrationsDir); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.pg = pg
		a.stores = Stores{Students: pg, Usage: pg, Audits: pg, Lookups: pg, Reset: pg}
		log.Info("using shared postgres store")
	} else {
		a.stores = MemoryStores()
		log.Warn("DATABASE_URL not set, using in-memory store; state is per-process")
	}

	classifier := eligibility.NewClassifier(cfg.Timezone, logger.New("classifier", cfg.LogLevel))

	a.Metrics = metrics.New()
	a.Students = students.New(a.stores.Students, codec, catalog, logger.New("students", cfg.LogLevel))
	a.Eligibility = eligibility.New(a.stores.Students, a.stores.Usage, a.stores.Audits,
		catalog, classifier, a.Metrics, logger.New("eligibility", cfg.LogLevel))
	a.Lookups = lookup.New(a.stores.Lookups, codec, logger.New("lookup", cfg.LogLevel))
	a.Stats = stats.New(a.stores.Audits, classifier)

	summarySvc := summary.New(a.Stats, cfg.SummaryURL, logger.New("summary", cfg.LogLevel))

	a.Reset = reset.New(a.stores.Reset, a.stores.Audits, classifier, summarySvc, a.Metrics, reset.Config{
		ResetSpec:   cfg.ResetCronSpec,
		SummarySpec: cfg.SummaryCronSpec,
		Retention:   cfg.AuditRetention,
		Location:    classifier.Location(),
	}, logger.New("reset", cfg.LogLevel))
	a.Reset.SetHealthCheck(a.healthCheck)

	debounce := middleware.NewDebouncer(cfg.ScanDebounce, logger.New("debounce", cfg.LogLevel))
	admin := middleware.NewAdminAuth(cfg.AdminSecret, logger.New("adminauth", cfg.LogLevel))

	handler := httpapi.New(a.Students, a.Eligibility, a.Lookups, a.Stats, a.Reset,
		a.Metrics, debounce, admin, logger.New("httpapi", cfg.LogLevel))
	a.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := a.manager.Register(a.Reset); err != nil {
		return nil, err
	}
	if err := a.manager.Register(&httpService{server: a.server, log: log}); err != nil {
		return nil, err
	}
	return a, nil
}

// Start launches the schedules and the HTTP listener.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop shuts everything down in reverse start order and closes the store.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if a.pg != nil {
		if cerr := a.pg.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// healthCheck is run hourly by the reset coordinator.
func (a *Application) healthCheck(ctx context.Context) {
	daily, err := a.Stats.Daily(ctx)
	if err != nil {
		a.log.WithError(err).Error("health check: stats unavailable")
		return
	}
	a.log.Infof("health check: %d evaluations today (%d approved, %d denied)",
		daily.Total, daily.Approved, daily.Denied)
}

// httpService adapts the HTTP server to the lifecycle manager.
type httpService struct {
	server *http.Server
	log    *logger.Logger
}

func (s *httpService) Name() string { return "http-server" }

func (s *httpService) Start(_ context.Context) error {
	go func() {
		s.log.Infof("listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Fatal("http server failed")
		}
	}()
	return nil
}

func (s *httpService) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
