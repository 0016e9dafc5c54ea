package health

import (
	"time"

	"github.com/google/uuid"
)

// MeasurementType is a catalog entry such as blood pressure or glucose.
type MeasurementType struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Name string    `db:"name" json:"name"`
	Unit string    `db:"unit" json:"unit"`
}

// Measurement is a single self-reported health reading.
type Measurement struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	TypeID     uuid.UUID `db:"measurement_type_id" json:"measurement_type_id"`
	TypeName   string    `db:"type_name" json:"type_name"`
	Unit       string    `db:"unit" json:"unit"`
	Value      float64   `db:"value" json:"value"`
	MeasuredAt time.Time `db:"measured_at" json:"measured_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Complaint is an ongoing symptom the patient has reported.
type Complaint struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	Description string    `db:"description" json:"description"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
