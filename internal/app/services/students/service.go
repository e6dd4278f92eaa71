// Package students implements the student directory: registration, updates,
// and card-based identification over encrypted master records.
package students

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/comedor-digital/meal_service/internal/app/domain/mealplan"
	"github.com/comedor-digital/meal_service/internal/app/domain/student"
	"github.com/comedor-digital/meal_service/internal/app/storage"
	"github.com/comedor-digital/meal_service/internal/crypto"
	"github.com/comedor-digital/meal_service/pkg/logger"
)

// ErrCardNotFound is returned when no active student carries the scanned card.
var ErrCardNotFound = errors.New("card not recognized")

// ErrCardInUse is returned when a registration or update would assign a card
// already held by another active student.
var ErrCardInUse = errors.New("card already assigned")

// ErrUnknownPlan is returned when a student references a plan id missing from
// the catalog.
var ErrUnknownPlan = errors.New("unknown meal plan")

// Service is the student directory. It owns field encryption: everything above
// it works in plaintext, everything below it stores ciphertext.
type Service struct {
	store   storage.StudentStore
	codec   *crypto.FieldCodec
	catalog *mealplan.Catalog
	log     *logger.Logger
}

// Profile is a decrypted student record.
type Profile struct {
	ID             string `json:"id"`
	CardToken      string `json:"card_token,omitempty"`
	Name           string `json:"name"`
	GradeLevel     int    `json:"grade_level"`
	PlanID         string `json:"plan_id"`
	DailyAllowance int    `json:"daily_allowance"`
	Active         bool   `json:"active"`
}

// New creates the directory service.
func New(store storage.StudentStore, codec *crypto.FieldCodec, catalog *mealplan.Catalog, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("students")
	}
	return &Service{store: store, codec: codec, catalog: catalog, log: log}
}

// Register creates a new student record. The plan's allowance is denormalized
// onto the record so the decision path does not need a catalog join.
func (s *Service) Register(ctx context.Context, cardToken, name string, gradeLevel int, planID string) (Profile, error) {
	cardToken = strings.TrimSpace(cardToken)
	if cardToken == "" {
		return Profile{}, fmt.Errorf("card token is required")
	}
	plan, ok := s.catalog.Lookup(planID)
	if !ok {
		return Profile{}, fmt.Errorf("plan %q: %w", planID, ErrUnknownPlan)
	}
	if taken, err := s.cardAssigned(ctx, cardToken, ""); err != nil {
		return Profile{}, err
	} else if taken {
		return Profile{}, ErrCardInUse
	}

	encToken, err := s.codec.Encrypt(cardToken)
	if err != nil {
		return Profile{}, fmt.Errorf("encrypt card token: %w", err)
	}
	encName, err := s.codec.Encrypt(name)
	if err != nil {
		return Profile{}, fmt.Errorf("encrypt name: %w", err)
	}

	created, err := s.store.CreateStudent(ctx, student.Student{
		ID:             uuid.NewString(),
		CardToken:      encToken,
		Name:           encName,
		GradeLevel:     gradeLevel,
		PlanID:         plan.ID,
		DailyAllowance: plan.DailyAllowance,
		Status:         student.Active,
	})
	if err != nil {
		return Profile{}, err
	}
	s.log.WithField("student_id", created.ID).Info("student registered")
	return Profile{
		ID:             created.ID,
		CardToken:      cardToken,
		Name:           name,
		GradeLevel:     created.GradeLevel,
		PlanID:         created.PlanID,
		DailyAllowance: created.DailyAllowance,
		Active:         true,
	}, nil
}

// FindByCard resolves a scanned card to the active student carrying it.
//
// Card tokens are stored encrypted under random nonces, so equal plaintexts
// never produce equal ciphertexts and the match cannot be pushed into the
// store. The scan decrypts each active record and compares; records that fail
// to decrypt are logged and skipped so one corrupt row cannot take scanning
// down. TODO: add a deterministic blind-index column so this becomes a single
// indexed read.
func (s *Service) FindByCard(ctx context.Context, cardToken string) (student.Student, error) {
	cardToken = strings.TrimSpace(cardToken)
	if cardToken == "" {
		return student.Student{}, ErrCardNotFound
	}

	active, err := s.store.ListStudents(ctx, true)
	if err != nil {
		return student.Student{}, fmt.Errorf("list students: %w", err)
	}
	for _, st := range active {
		plain, err := s.codec.Decrypt(st.CardToken)
		if err != nil {
			if crypto.IsDecryptionError(err) {
				s.log.WithError(err).WithField("student_id", st.ID).Warn("skipping unreadable card token")
				continue
			}
			return student.Student{}, err
		}
		if plain == cardToken {
			return st, nil
		}
	}
	return student.Student{}, ErrCardNotFound
}

// FindByID returns the raw (still encrypted) record.
func (s *Service) FindByID(ctx context.Context, id string) (student.Student, error) {
	return s.store.GetStudent(ctx, id)
}

// ProfileByID returns the decrypted profile for display surfaces.
func (s *Service) ProfileByID(ctx context.Context, id string) (Profile, error) {
	st, err := s.store.GetStudent(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return s.decryptProfile(st)
}

// ListProfiles returns decrypted profiles, skipping unreadable records.
func (s *Service) ListProfiles(ctx context.Context, activeOnly bool) ([]Profile, error) {
	records, err := s.store.ListStudents(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	profiles := make([]Profile, 0, len(records))
	for _, st := range records {
		p, err := s.decryptProfile(st)
		if err != nil {
			if crypto.IsDecryptionError(err) {
				s.log.WithError(err).WithField("student_id", st.ID).Warn("skipping unreadable record")
				continue
			}
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// ChangePlan moves a student onto another catalog plan and refreshes the
// denormalized allowance.
func (s *Service) ChangePlan(ctx context.Context, id, planID string) (student.Student, error) {
	plan, ok := s.catalog.Lookup(planID)
	if !ok {
		return student.Student{}, fmt.Errorf("plan %q: %w", planID, ErrUnknownPlan)
	}
	st, err := s.store.GetStudent(ctx, id)
	if err != nil {
		return student.Student{}, err
	}
	st.PlanID = plan.ID
	st.DailyAllowance = plan.DailyAllowance
	return s.store.UpdateStudent(ctx, st)
}

// Deactivate flips the record to Inactive. The record stays resolvable for the
// audit trail.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	st, err := s.store.GetStudent(ctx, id)
	if err != nil {
		return err
	}
	st.Status = student.Inactive
	if _, err := s.store.UpdateStudent(ctx, st); err != nil {
		return err
	}
	s.log.WithField("student_id", id).Info("student deactivated")
	return nil
}

// DecryptName exposes name decryption to display-layer services without
// handing them the codec.
func (s *Service) DecryptName(ciphertext string) (string, error) {
	return s.codec.Decrypt(ciphertext)
}

func (s *Service) decryptProfile(st student.Student) (Profile, error) {
	name, err := s.codec.Decrypt(st.Name)
	if err != nil {
		return Profile{}, err
	}
	token, err := s.codec.Decrypt(st.CardToken)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		ID:             st.ID,
		CardToken:      token,
		Name:           name,
		GradeLevel:     st.GradeLevel,
		PlanID:         st.PlanID,
		DailyAllowance: st.DailyAllowance,
		Active:         st.IsActive(),
	}, nil
}

func (s *Service) cardAssigned(ctx context.Context, cardToken, excludeID string) (bool, error) {
	active, err := s.store.ListStudents(ctx, true)
	if err != nil {
		return false, err
	}
	for _, st := range active {
		if st.ID == excludeID {
			continue
		}
		plain, err := s.codec.Decrypt(st.CardToken)
		if err != nil {
			if crypto.IsDecryptionError(err) {
				continue
			}
			return false, err
		}
		if plain == cardToken {
			return true, nil
		}
	}
	return false, nil
}
