package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// UserRepository provides access to user accounts.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	Create(ctx context.Context, u *User) error
}

// PatientRepository provides access to patient profiles.
type PatientRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
}

// DoctorRepository provides access to doctor profiles and assignments.
type DoctorRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error)
	// AssignedToPatient returns the doctor currently assigned to the given
	// patient profile, or ErrNotFound when the patient has no active doctor.
	AssignedToPatient(ctx context.Context, patientID uuid.UUID) (*Doctor, error)
}
