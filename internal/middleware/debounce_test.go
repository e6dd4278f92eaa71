package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDebouncerSuppressesRepeatScans(t *testing.T) {
	d := NewDebouncer(time.Hour, nil) // effectively one request per test run
	handler := d.Wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(station string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/scan-card", nil)
		if station != "" {
			req.Header.Set("X-Station-ID", station)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("caja1"); code != http.StatusOK {
		t.Fatalf("first scan status = %d", code)
	}
	if code := send("caja1"); code != http.StatusTooManyRequests {
		t.Fatalf("repeat scan status = %d, want 429", code)
	}
	// Another station has its own bucket.
	if code := send("caja2"); code != http.StatusOK {
		t.Fatalf("other station status = %d", code)
	}
}

func TestDebouncerRefillsAfterInterval(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, nil)
	if !d.allow("caja1") {
		t.Fatal("first scan should pass")
	}
	if d.allow("caja1") {
		t.Fatal("immediate repeat should be suppressed")
	}
	time.Sleep(30 * time.Millisecond)
	if !d.allow("caja1") {
		t.Fatal("scan after the window should pass")
	}
}
