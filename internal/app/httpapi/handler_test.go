package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/comedor-digital/meal_service/internal/app/domain/mealplan"
	"github.com/comedor-digital/meal_service/internal/app/services/eligibility"
	"github.com/comedor-digital/meal_service/internal/app/services/lookup"
	"github.com/comedor-digital/meal_service/internal/app/services/reset"
	"github.com/comedor-digital/meal_service/internal/app/services/stats"
	"github.com/comedor-digital/meal_service/internal/app/services/students"
	"github.com/comedor-digital/meal_service/internal/app/storage/memory"
	"github.com/comedor-digital/meal_service/internal/crypto"
	"github.com/comedor-digital/meal_service/internal/middleware"
)

// The fixtures use Friday plans and explicit categories so the handlers
// behave the same no matter what day or hour the tests run.

type fixture struct {
	handler *Handler
	router  http.Handler
	store   *memory.Store
	dir     *students.Service
	admin   *middleware.AdminAuth
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, _ := crypto.GenerateKey()
	codec, err := crypto.NewFieldCodec(key)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	store := memory.New()
	catalog := mealplan.DefaultCatalog()
	classifier := eligibility.NewClassifier("UTC", nil)

	dir := students.New(store, codec, catalog, nil)
	engine := eligibility.New(store, store, store, catalog, classifier, nil, nil)
	lookups := lookup.New(store, codec, nil)
	statsSvc := stats.New(store, classifier)
	resetSvc := reset.New(store, store, classifier, nil, nil, reset.Config{}, nil)
	admin := middleware.NewAdminAuth("test-secret", nil)

	h := New(dir, engine, lookups, statsSvc, resetSvc, nil, nil, admin, nil)
	return &fixture{handler: h, router: h.Router(), store: store, dir: dir, admin: admin}
}

func (f *fixture) post(t *testing.T, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestScanCardUnknownTokenIs404WithoutAudit(t *testing.T) {
	f := newFixture(t)

	w := f.post(t, "/api/scan-card", map[string]string{"card_uid": "GHOST"}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	records, _ := f.store.ListRecentAudit(httptest.NewRequest("GET", "/", nil).Context(), 10)
	if len(records) != 0 {
		t.Fatalf("unknown card must not write audit records: %+v", records)
	}
}

func TestScanCardPublishesDecision(t *testing.T) {
	f := newFixture(t)
	profile, err := f.dir.Register(httptest.NewRequest("GET", "/", nil).Context(), "CARD-1", "Ana", 3, "FridayPremium")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	w := f.post(t, "/api/scan-card", map[string]string{
		"card_uid":   "CARD-1",
		"station_id": "caja1",
		"category":   "Lunch",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp scanResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StudentID != profile.ID || resp.Name != "Ana" || !resp.Decision.Eligible {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// The station cell carries the advisory result.
	cell, err := f.store.GetLookup(httptest.NewRequest("GET", "/", nil).Context(), "caja1")
	if err != nil || cell.StudentID != profile.ID || !cell.Eligible {
		t.Fatalf("lookup cell: %+v, %v", cell, err)
	}
}

func TestScanCardRequiresCardUID(t *testing.T) {
	f := newFixture(t)
	w := f.post(t, "/api/scan-card", map[string]string{"card_uid": " "}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestScanCardRejectsUnknownCategory(t *testing.T) {
	f := newFixture(t)
	_, _ = f.dir.Register(httptest.NewRequest("GET", "/", nil).Context(), "CARD-2", "Ana", 3, "FridayBasic")
	w := f.post(t, "/api/scan-card", map[string]string{"card_uid": "CARD-2", "category": "Dinner"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestApproveMealCommitsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := httptest.NewRequest("GET", "/", nil).Context()
	profile, _ := f.dir.Register(ctx, "CARD-3", "Beto", 5, "FridayPlus")

	body := map[string]string{
		"student_id": profile.ID,
		"category":   "Lunch",
		"station_id": "caja1",
		"cashier_id": "cashier7",
	}

	w := f.post(t, "/api/approve-meal", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var first eligibility.Decision
	_ = json.Unmarshal(w.Body.Bytes(), &first)
	if !first.Eligible || first.Used != 1 {
		t.Fatalf("first commit: %+v", first)
	}

	w = f.post(t, "/api/approve-meal", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("second status = %d", w.Code)
	}
	var second eligibility.Decision
	_ = json.Unmarshal(w.Body.Bytes(), &second)
	if second.Eligible {
		t.Fatalf("second lunch must be denied: %+v", second)
	}

	records, _ := f.store.ListRecentAudit(ctx, 10)
	if len(records) != 2 {
		t.Fatalf("audit records = %d, want 2", len(records))
	}
}

func TestDenyMealWritesManualOverride(t *testing.T) {
	f := newFixture(t)
	ctx := httptest.NewRequest("GET", "/", nil).Context()
	profile, _ := f.dir.Register(ctx, "CARD-4", "Cara", 2, "FridayBasic")

	w := f.post(t, "/api/deny-meal", map[string]string{
		"student_id": profile.ID,
		"station_id": "caja2",
		"cashier_id": "cashier1",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	records, _ := f.store.ListRecentAudit(ctx, 10)
	if len(records) != 1 || records[0].Reason != "MANUAL_OVERRIDE" {
		t.Fatalf("unexpected audit: %+v", records)
	}
}

func TestLookupEndpointLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := httptest.NewRequest("GET", "/", nil).Context()
	_, _ = f.dir.Register(ctx, "CARD-5", "Dini", 1, "FridayPremium")

	if w := f.get(t, "/api/lookup/caja9"); w.Code != http.StatusNotFound {
		t.Fatalf("empty station status = %d, want 404", w.Code)
	}

	_ = f.post(t, "/api/scan-card", map[string]string{
		"card_uid": "CARD-5", "station_id": "caja9", "category": "Lunch",
	}, nil)

	w := f.get(t, "/api/lookup/caja9?max_age=1m")
	if w.Code != http.StatusOK {
		t.Fatalf("fresh lookup status = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/lookup/caja9", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}
	if w := f.get(t, "/api/lookup/caja9"); w.Code != http.StatusNotFound {
		t.Fatalf("after clear status = %d, want 404", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestTriggerResetRequiresAdminToken(t *testing.T) {
	f := newFixture(t)

	w := f.post(t, "/admin/trigger-reset", map[string]string{}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("without token status = %d, want 401", w.Code)
	}

	token, err := f.admin.IssueToken("ops", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	w = f.post(t, "/admin/trigger-reset", map[string]string{}, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("with token status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestRegisterStudentEndpoint(t *testing.T) {
	f := newFixture(t)
	token, _ := f.admin.IssueToken("ops", time.Minute)
	auth := map[string]string{"Authorization": "Bearer " + token}

	w := f.post(t, "/admin/students", map[string]interface{}{
		"card_uid": "CARD-9", "name": "Eva", "grade_level": 6, "plan_id": "Plus",
	}, auth)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	// Same card again conflicts.
	w = f.post(t, "/admin/students", map[string]interface{}{
		"card_uid": "CARD-9", "name": "Other", "grade_level": 1, "plan_id": "Basic",
	}, auth)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", w.Code)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/scan-card", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
