// Package student defines the person master record evaluated by the
// eligibility engine.
package student

import "time"

// Status is the lifecycle state of a student record. Deactivation is a status
// flip; records are never hard-deleted so the audit trail stays resolvable.
type Status string

const (
	Active   Status = "Active"
	Inactive Status = "Inactive"
)

// Student is the master record. CardToken and Name hold ciphertext as stored;
// the directory service is the only component that encrypts or decrypts them.
// Invariant: decrypting the card tokens of all active students yields a set
// with no duplicates.
type Student struct {
	ID             string
	CardToken      string
	Name           string
	GradeLevel     int
	PlanID         string
	DailyAllowance int
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsActive reports whether the student may be evaluated at all.
func (s Student) IsActive() bool { return s.Status == Active }
