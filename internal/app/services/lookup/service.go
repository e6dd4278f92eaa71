// Package lookup publishes scan results to the per-station broadcast cells
// polled by the POS front ends. The cells are advisory navigation state; the
// eligibility engine never reads them.
package lookup

import (
	"context"
	"time"

	"github.com/comedor-digital/meal_service/internal/app/domain/lookup"
	"github.com/comedor-digital/meal_service/internal/app/domain/student"
	"github.com/comedor-digital/meal_service/internal/app/storage"
	"github.com/comedor-digital/meal_service/internal/crypto"
	"github.com/comedor-digital/meal_service/pkg/logger"
)

// DefaultMaxAge bounds how stale a cell a poller will accept when it does not
// say otherwise.
const DefaultMaxAge = 30 * time.Second

// Service manages the station lookup cells.
type Service struct {
	store storage.LookupStore
	codec *crypto.FieldCodec
	log   *logger.Logger
}

// New creates the lookup service.
func New(store storage.LookupStore, codec *crypto.FieldCodec, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("lookup")
	}
	return &Service{store: store, codec: codec, log: log}
}

// Publish replaces the station's cell with the latest scan result. The display
// name is stored decrypted; the downstream POS cannot decrypt. An unreadable
// name publishes an empty one rather than failing the scan.
func (s *Service) Publish(ctx context.Context, stationID string, st student.Student, eligible bool) (lookup.Cell, error) {
	name, err := s.codec.Decrypt(st.Name)
	if err != nil {
		if !crypto.IsDecryptionError(err) {
			return lookup.Cell{}, err
		}
		s.log.WithError(err).WithField("student_id", st.ID).Warn("publishing lookup without display name")
		name = ""
	}
	return s.store.PublishLookup(ctx, lookup.Cell{
		StationID:   stationID,
		StudentID:   st.ID,
		StudentName: name,
		PlanID:      st.PlanID,
		Eligible:    eligible,
		PublishedAt: time.Now().UTC(),
	})
}

// PollRecent returns the station's cell only if it was published within
// maxAge of now. A stale or missing cell both come back as ErrNotFound so the
// poller shows the same idle screen either way.
func (s *Service) PollRecent(ctx context.Context, stationID string, maxAge time.Duration) (lookup.Cell, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cell, err := s.store.GetLookup(ctx, stationID)
	if err != nil {
		return lookup.Cell{}, err
	}
	if !cell.FresherThan(time.Now().UTC(), maxAge) {
		return lookup.Cell{}, storage.ErrNotFound
	}
	return cell, nil
}

// Clear removes the station's cell after the cashier acts on it.
func (s *Service) Clear(ctx context.Context, stationID string) error {
	return s.store.ClearLookup(ctx, stationID)
}
