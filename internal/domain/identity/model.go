package identity

import (
	"time"

	"github.com/google/uuid"
)

// User is an authenticated account. Patients and doctors both log in through
// the users table; the role distinguishes them.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Patient is the companion-app profile attached to a user account.
type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	UserID      uuid.UUID  `db:"user_id" json:"user_id"`
	Name        string     `db:"name" json:"name"`
	Surname     string     `db:"surname" json:"surname"`
	BirthDate   *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender      *string    `db:"gender" json:"gender,omitempty"`
	HeightCm    *float64   `db:"height_cm" json:"height_cm,omitempty"`
	WeightKg    *float64   `db:"weight_kg" json:"weight_kg,omitempty"`
	PatientNote *string    `db:"patient_note" json:"patient_note,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Doctor is a practitioner profile attached to a user account.
type Doctor struct {
	ID             uuid.UUID `db:"id" json:"id"`
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	Name           string    `db:"name" json:"name"`
	Surname        string    `db:"surname" json:"surname"`
	Specialization *string   `db:"specialization" json:"specialization,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// DoctorAssignment is the resolved doctor counterpart for a patient: the
// doctor's user id (messages are keyed by user ids) plus a display name for
// conversation bubbles.
type DoctorAssignment struct {
	DoctorID    uuid.UUID `json:"doctor_id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
}

// Age returns the patient's age in whole years, or nil when the birth date
// is unknown.
func (p *Patient) Age(now time.Time) *int {
	if p.BirthDate == nil {
		return nil
	}
	years := now.Year() - p.BirthDate.Year()
	anniversary := p.BirthDate.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	if years < 0 {
		return nil
	}
	return &years
}

// BMI returns the body mass index, or nil when height or weight is missing.
func (p *Patient) BMI() *float64 {
	if p.HeightCm == nil || p.WeightKg == nil || *p.HeightCm <= 0 {
		return nil
	}
	meters := *p.HeightCm / 100
	bmi := *p.WeightKg / (meters * meters)
	return &bmi
}

// FullName returns "Name Surname" for display.
func (p *Patient) FullName() string {
	return p.Name + " " + p.Surname
}

// DisplayName returns the doctor's name with its customary title.
func (d *Doctor) DisplayName() string {
	return "Dr. " + d.Name + " " + d.Surname
}
