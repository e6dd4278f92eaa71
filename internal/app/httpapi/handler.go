// Package httpapi exposes the station-facing JSON endpoints. The layer is
// deliberately thin: decode, validate, call a service, encode. No business
// rule lives here.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/comedor-digital/meal_service/internal/app/metrics"
	"github.com/comedor-digital/meal_service/internal/app/services/eligibility"
	"github.com/comedor-digital/meal_service/internal/app/services/lookup"
	"github.com/comedor-digital/meal_service/internal/app/services/reset"
	"github.com/comedor-digital/meal_service/internal/app/services/stats"
	"github.com/comedor-digital/meal_service/internal/app/services/students"
	"github.com/comedor-digital/meal_service/internal/app/storage"
	"github.com/comedor-digital/meal_service/internal/middleware"
	"github.com/comedor-digital/meal_service/pkg/logger"
)

const maxBodyBytes = 1 << 16

// Handler routes station and admin traffic to the services.
type Handler struct {
	students    *students.Service
	eligibility *eligibility.Service
	lookups     *lookup.Service
	stats       *stats.Service
	reset       *reset.Service
	metrics     *metrics.Metrics
	debounce    *middleware.Debouncer
	admin       *middleware.AdminAuth
	log         *logger.Logger
}

// New creates the handler. debounce, admin and metrics may be nil.
func New(studentsSvc *students.Service, engine *eligibility.Service, lookups *lookup.Service,
	statsSvc *stats.Service, resetSvc *reset.Service, m *metrics.Metrics,
	debounce *middleware.Debouncer, admin *middleware.AdminAuth, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Handler{
		students:    studentsSvc,
		eligibility: engine,
		lookups:     lookups,
		stats:       statsSvc,
		reset:       resetSvc,
		metrics:     m,
		debounce:    debounce,
		admin:       admin,
		log:         log,
	}
}

// Router builds the full route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.observe)

	api := r.PathPrefix("/api").Subrouter()

	scan := http.HandlerFunc(h.handleScanCard)
	if h.debounce != nil {
		api.Handle("/scan-card", h.debounce.Wrap(scan)).Methods(http.MethodPost)
	} else {
		api.Handle("/scan-card", scan).Methods(http.MethodPost)
	}
	api.HandleFunc("/manual-lookup", h.handleManualLookup).Methods(http.MethodPost)
	api.HandleFunc("/approve-meal", h.handleApproveMeal).Methods(http.MethodPost)
	api.HandleFunc("/deny-meal", h.handleDenyMeal).Methods(http.MethodPost)
	api.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/lookup/{station}", h.handleGetLookup).Methods(http.MethodGet)
	api.HandleFunc("/lookup/{station}", h.handleClearLookup).Methods(http.MethodDelete)

	admin := r.PathPrefix("/admin").Subrouter()
	if h.admin != nil {
		admin.Use(h.admin.Wrap)
	}
	admin.HandleFunc("/trigger-reset", h.handleTriggerReset).Methods(http.MethodPost)
	admin.HandleFunc("/students", h.handleRegisterStudent).Methods(http.MethodPost)
	admin.HandleFunc("/students", h.handleListStudents).Methods(http.MethodGet)
	admin.HandleFunc("/students/{id}", h.handleGetStudent).Methods(http.MethodGet)
	admin.HandleFunc("/students/{id}/plan", h.handleChangePlan).Methods(http.MethodPut)
	admin.HandleFunc("/students/{id}", h.handleDeactivateStudent).Methods(http.MethodDelete)

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	return r
}

// observe records request counts and latency per route template.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		h.metrics.ObserveHTTP(route, sw.status, time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ----------------------------------------------------------------

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound) || errors.Is(err, students.ErrCardNotFound)
}
