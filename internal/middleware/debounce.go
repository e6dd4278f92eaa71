// Package middleware provides the HTTP cross-cutting layers: scan debouncing
// and admin authentication.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/comedor-digital/meal_service/pkg/logger"
)

// Debouncer suppresses rapid repeat scans per station. A card held against
// the reader fires several identical requests per second; only the first one
// within the window reaches the engine, the rest get 429 so the front end
// keeps showing the original result.
type Debouncer struct {
	mu       sync.Mutex
	stations map[string]*stationLimiter
	interval time.Duration
	log      *logger.Logger
}

type stationLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewDebouncer creates a debouncer allowing one request per interval per
// station. A non-positive interval defaults to 2 seconds.
func NewDebouncer(interval time.Duration, log *logger.Logger) *Debouncer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("debounce")
	}
	d := &Debouncer{
		stations: make(map[string]*stationLimiter),
		interval: interval,
		log:      log,
	}
	go d.evictLoop()
	return d
}

// Wrap applies the per-station limit. Station identity comes from the
// X-Station-ID header; requests without one share a single bucket.
func (d *Debouncer) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		station := r.Header.Get("X-Station-ID")
		if !d.allow(station) {
			d.log.WithField("station_id", station).Debug("scan debounced")
			http.Error(w, `{"error":"scan too soon, hold on"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (d *Debouncer) allow(station string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	sl, ok := d.stations[station]
	if !ok {
		sl = &stationLimiter{limiter: rate.NewLimiter(rate.Every(d.interval), 1)}
		d.stations[station] = sl
	}
	sl.lastSeen = time.Now()
	return sl.limiter.Allow()
}

// evictLoop drops limiters for stations idle past ten minutes so the map does
// not grow with every transient station id.
func (d *Debouncer) evictLoop() {
	const idle = 10 * time.Minute
	ticker := time.NewTicker(idle)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-idle)
		d.mu.Lock()
		for station, sl := range d.stations {
			if sl.lastSeen.Before(cutoff) {
				delete(d.stations, station)
			}
		}
		d.mu.Unlock()
	}
}
