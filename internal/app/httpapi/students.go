package httpapi

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/comedor-digital/meal_service/internal/app/services/students"
)

func (h *Handler) handleRegisterStudent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardUID    string `json:"card_uid"`
		Name       string `json:"name"`
		GradeLevel int    `json:"grade_level"`
		PlanID     string `json:"plan_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, err := h.students.Register(r.Context(), req.CardUID, req.Name, req.GradeLevel, req.PlanID)
	if err != nil {
		switch {
		case errors.Is(err, students.ErrCardInUse):
			writeError(w, http.StatusConflict, "card already assigned")
		case errors.Is(err, students.ErrUnknownPlan):
			writeError(w, http.StatusBadRequest, "unknown meal plan")
		default:
			h.log.WithError(err).Error("student registration failed")
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (h *Handler) handleListStudents(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	profiles, err := h.students.ListProfiles(r.Context(), activeOnly)
	if err != nil {
		h.log.WithError(err).Error("student list failed")
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (h *Handler) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	profile, err := h.students.ProfileByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "student not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlanID string `json:"plan_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	st, err := h.students.ChangePlan(r.Context(), mux.Vars(r)["id"], req.PlanID)
	if err != nil {
		switch {
		case isNotFound(err):
			writeError(w, http.StatusNotFound, "student not found")
		case errors.Is(err, students.ErrUnknownPlan):
			writeError(w, http.StatusBadRequest, "unknown meal plan")
		default:
			writeError(w, http.StatusInternalServerError, "update failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": st.ID, "plan_id": st.PlanID})
}

func (h *Handler) handleDeactivateStudent(w http.ResponseWriter, r *http.Request) {
	if err := h.students.Deactivate(r.Context(), mux.Vars(r)["id"]); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "student not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "deactivation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
