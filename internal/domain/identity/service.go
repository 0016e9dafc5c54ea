package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/companion/companion/internal/platform/push"
)

// ErrInvalidCredentials is returned for both unknown emails and wrong
// passwords so a login response never reveals which one failed.
var ErrInvalidCredentials = errors.New("invalid email or password")

var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Profile is the aggregated account view returned to the mobile client.
type Profile struct {
	User    *User             `json:"user"`
	Patient *Patient          `json:"patient,omitempty"`
	Doctor  *Doctor           `json:"doctor,omitempty"`
	Age     *int              `json:"age,omitempty"`
	BMI     *float64          `json:"bmi,omitempty"`
	Primary *DoctorAssignment `json:"assigned_doctor,omitempty"`
}

// Service implements account lookup, authentication, and doctor resolution.
type Service struct {
	users    UserRepository
	patients PatientRepository
	doctors  DoctorRepository
	tokens   push.TokenStore
	logger   zerolog.Logger
}

func NewService(users UserRepository, patients PatientRepository, doctors DoctorRepository, tokens push.TokenStore, logger zerolog.Logger) *Service {
	return &Service{
		users:    users,
		patients: patients,
		doctors:  doctors,
		tokens:   tokens,
		logger:   logger.With().Str("component", "identity").Logger(),
	}
}

// Authenticate verifies the email and password and returns the matching user.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Burn a hash comparison anyway to keep timing uniform.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	s.logger.Info().Str("user_id", u.ID.String()).Str("role", u.Role).Msg("user authenticated")
	return u, nil
}

// Profile aggregates the account with its patient or doctor profile. For
// patient accounts the assigned doctor is included when one exists.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	prof := &Profile{User: u}

	switch u.Role {
	case "patient":
		p, err := s.patients.GetByUserID(ctx, userID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if p != nil {
			prof.Patient = p
			prof.Age = p.Age(time.Now())
			prof.BMI = p.BMI()
			assignment, err := s.AssignedDoctor(ctx, userID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			prof.Primary = assignment
		}
	case "doctor":
		d, err := s.doctors.GetByUserID(ctx, userID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		prof.Doctor = d
	}

	return prof, nil
}

// PatientByUserID returns the patient profile for a user account.
func (s *Service) PatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	return s.patients.GetByUserID(ctx, userID)
}

// PatientIDForUser resolves the patient profile id for a user account.
func (s *Service) PatientIDForUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	p, err := s.patients.GetByUserID(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

// UpdatePatient applies profile edits for the given user's patient record.
func (s *Service) UpdatePatient(ctx context.Context, userID uuid.UUID, p *Patient) (*Patient, error) {
	existing, err := s.patients.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	if strings.TrimSpace(p.Surname) == "" {
		return nil, fmt.Errorf("surname is required")
	}

	existing.Name = strings.TrimSpace(p.Name)
	existing.Surname = strings.TrimSpace(p.Surname)
	existing.BirthDate = p.BirthDate
	existing.Gender = p.Gender
	existing.HeightCm = p.HeightCm
	existing.WeightKg = p.WeightKg
	existing.PatientNote = p.PatientNote

	if err := s.patients.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// AssignedDoctor resolves the doctor currently assigned to the patient who
// owns the given user account. Returns ErrNotFound when the user has no
// patient profile or no active doctor assignment.
func (s *Service) AssignedDoctor(ctx context.Context, patientUserID uuid.UUID) (*DoctorAssignment, error) {
	p, err := s.patients.GetByUserID(ctx, patientUserID)
	if err != nil {
		return nil, err
	}
	d, err := s.doctors.AssignedToPatient(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &DoctorAssignment{
		DoctorID:    d.ID,
		UserID:      d.UserID,
		DisplayName: d.DisplayName(),
	}, nil
}

// RegisterDevice stores a push token for the user's device.
func (s *Service) RegisterDevice(ctx context.Context, userID uuid.UUID, token, platform string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("device token is required")
	}
	return s.tokens.SaveToken(ctx, userID, token, platform)
}

// RemoveDevice deletes a push token, typically on logout.
func (s *Service) RemoveDevice(ctx context.Context, userID uuid.UUID, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("device token is required")
	}
	return s.tokens.DeleteToken(ctx, userID, token)
}

// HashPassword produces a bcrypt hash for storage. Used by seeding and
// account provisioning paths.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
