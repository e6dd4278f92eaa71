// Package summary posts the day's meal counts to an external telemetry sink.
// Strictly best effort: failures are logged and swallowed, and nothing on the
// serving path ever waits on it.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/comedor-digital/meal_service/internal/app/domain/audit"
	"github.com/comedor-digital/meal_service/internal/app/domain/mealplan"
	"github.com/comedor-digital/meal_service/pkg/logger"
)

const postTimeout = 10 * time.Second

// StatsSource supplies today's totals.
type StatsSource interface {
	Daily(ctx context.Context) (audit.DailyStats, error)
}

// Service posts daily summaries.
type Service struct {
	stats  StatsSource
	url    string
	client *http.Client
	log    *logger.Logger
}

// New creates the poster. An empty url disables posting entirely.
func New(stats StatsSource, url string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("summary")
	}
	return &Service{
		stats:  stats,
		url:    url,
		client: &http.Client{Timeout: postTimeout},
		log:    log,
	}
}

// Enabled reports whether a sink is configured.
func (s *Service) Enabled() bool { return s.url != "" }

type payload struct {
	Date      string `json:"date"`
	Breakfast int    `json:"breakfast"`
	Lunch     int    `json:"lunch"`
	Snack     int    `json:"snack"`
	Total     int    `json:"total"`
	Denied    int    `json:"denied"`
}

// PostDaily sends today's counts to the sink. The returned error is for the
// caller's log line only; schedulers ignore it.
func (s *Service) PostDaily(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}

	daily, err := s.stats.Daily(ctx)
	if err != nil {
		s.log.WithError(err).Warn("summary skipped, stats unavailable")
		return err
	}

	body, err := json.Marshal(payload{
		Date:      time.Now().Format("2006-01-02"),
		Breakfast: daily.PerCategory[mealplan.Breakfast],
		Lunch:     daily.PerCategory[mealplan.Lunch],
		Snack:     daily.PerCategory[mealplan.Snack],
		Total:     daily.Approved,
		Denied:    daily.Denied,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.WithError(err).Warn("summary post failed")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		err := fmt.Errorf("summary sink returned %s", resp.Status)
		s.log.WithError(err).Warn("summary post rejected")
		return err
	}
	s.log.Infof("daily summary posted: %d meals", daily.Approved)
	return nil
}
