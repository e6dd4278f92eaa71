package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/comedor-digital/meal_service/internal/app/domain/mealplan"
	"github.com/comedor-digital/meal_service/internal/app/domain/student"
	"github.com/comedor-digital/meal_service/internal/app/services/eligibility"
)

type scanResponse struct {
	StudentID string               `json:"student_id"`
	Name      string               `json:"name"`
	PlanID    string               `json:"plan_id"`
	Decision  eligibility.Decision `json:"decision"`
}

// handleScanCard identifies the cardholder and publishes an advisory decision
// to the station's lookup cell. Nothing is consumed here; the cashier commits
// with approve-meal.
func (h *Handler) handleScanCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardUID   string `json:"card_uid"`
		StationID string `json:"station_id"`
		Category  string `json:"category"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.CardUID) == "" {
		writeError(w, http.StatusBadRequest, "card_uid is required")
		return
	}

	st, err := h.students.FindByCard(r.Context(), req.CardUID)
	if err != nil {
		if isNotFound(err) {
			// No person resolved, so no audit record is written.
			writeError(w, http.StatusNotFound, "card not recognized")
			return
		}
		h.log.WithError(err).Error("card lookup failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	h.respondWithDecision(w, r, st, req.StationID, req.Category)
}

// handleManualLookup is the cashier's fallback when a card will not read.
func (h *Handler) handleManualLookup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StudentID string `json:"student_id"`
		StationID string `json:"station_id"`
		Category  string `json:"category"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StudentID == "" {
		writeError(w, http.StatusBadRequest, "student_id is required")
		return
	}

	st, err := h.students.FindByID(r.Context(), req.StudentID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "student not found")
			return
		}
		h.log.WithError(err).Error("student lookup failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	h.respondWithDecision(w, r, st, req.StationID, req.Category)
}

func (h *Handler) respondWithDecision(w http.ResponseWriter, r *http.Request, st student.Student, stationID, category string) {
	requested, ok := parseCategory(category)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}

	decision, err := h.eligibility.Decide(r.Context(), st, requested, time.Now())
	if err != nil {
		h.log.WithError(err).Error("decide failed")
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	if stationID != "" {
		if _, err := h.lookups.Publish(r.Context(), stationID, st, decision.Eligible); err != nil {
			// Advisory only; the decision still goes back to the caller.
			h.log.WithError(err).WithField("station_id", stationID).Warn("lookup publish failed")
		}
	}

	name, err := h.students.DecryptName(st.Name)
	if err != nil {
		name = ""
	}
	writeJSON(w, http.StatusOK, scanResponse{
		StudentID: st.ID,
		Name:      name,
		PlanID:    st.PlanID,
		Decision:  decision,
	})
}

// handleApproveMeal commits the meal: re-evaluates, consumes the allowance,
// writes the audit record.
func (h *Handler) handleApproveMeal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StudentID string `json:"student_id"`
		Category  string `json:"category"`
		StationID string `json:"station_id"`
		CashierID string `json:"cashier_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StudentID == "" {
		writeError(w, http.StatusBadRequest, "student_id is required")
		return
	}
	requested, ok := parseCategory(req.Category)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}

	decision, err := h.eligibility.Commit(r.Context(), req.StudentID, requested, req.StationID, req.CashierID, time.Now())
	if err != nil {
		h.log.WithError(err).Error("commit failed")
		writeJSON(w, http.StatusInternalServerError, decision)
		return
	}
	if req.StationID != "" {
		_ = h.lookups.Clear(r.Context(), req.StationID)
	}
	writeJSON(w, http.StatusOK, decision)
}

// handleDenyMeal records a cashier-initiated denial and clears the station's
// cell. The allowance is untouched.
func (h *Handler) handleDenyMeal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StudentID string `json:"student_id"`
		StationID string `json:"station_id"`
		CashierID string `json:"cashier_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StudentID == "" {
		writeError(w, http.StatusBadRequest, "student_id is required")
		return
	}

	st, err := h.students.FindByID(r.Context(), req.StudentID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "student not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	decision, err := h.eligibility.DenyManually(r.Context(), st, req.StationID, req.CashierID, time.Now())
	if err != nil {
		h.log.WithError(err).Error("manual denial failed")
		writeError(w, http.StatusInternalServerError, "denial not recorded")
		return
	}
	if req.StationID != "" {
		_ = h.lookups.Clear(r.Context(), req.StationID)
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	daily, err := h.stats.Daily(r.Context())
	if err != nil {
		h.log.WithError(err).Error("stats query failed")
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, daily)
}

func (h *Handler) handleGetLookup(w http.ResponseWriter, r *http.Request) {
	station := mux.Vars(r)["station"]
	var maxAge time.Duration
	if raw := r.URL.Query().Get("max_age"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid max_age")
			return
		}
		maxAge = parsed
	}

	cell, err := h.lookups.PollRecent(r.Context(), station, maxAge)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "no recent scan")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup unavailable")
		return
	}
	writeJSON(w, http.StatusOK, cell)
}

func (h *Handler) handleClearLookup(w http.ResponseWriter, r *http.Request) {
	station := mux.Vars(r)["station"]
	if err := h.lookups.Clear(r.Context(), station); err != nil {
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleTriggerReset runs the daily wipe on demand.
func (h *Handler) handleTriggerReset(w http.ResponseWriter, r *http.Request) {
	counts, err := h.reset.Reset(r.Context())
	if err != nil {
		h.log.WithError(err).Error("manual reset failed")
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// parseCategory maps an optional request string to a category pointer. Empty
// means "classify by time of day".
func parseCategory(raw string) (*mealplan.Category, bool) {
	if raw == "" {
		return nil, true
	}
	c := mealplan.Category(raw)
	if !c.Valid() {
		return nil, false
	}
	return &c, true
}
