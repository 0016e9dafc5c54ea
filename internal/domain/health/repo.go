package health

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// MeasurementRepository provides access to health readings.
type MeasurementRepository interface {
	Insert(ctx context.Context, m *Measurement) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Measurement, int, error)
	// Latest returns the most recent readings, newest first, up to limit.
	Latest(ctx context.Context, patientID uuid.UUID, limit int) ([]*Measurement, error)
	Delete(ctx context.Context, patientID, id uuid.UUID) error
}

// MeasurementTypeRepository provides the measurement type catalog.
type MeasurementTypeRepository interface {
	List(ctx context.Context) ([]*MeasurementType, error)
	GetByID(ctx context.Context, id uuid.UUID) (*MeasurementType, error)
}

// ComplaintRepository provides access to patient complaints.
type ComplaintRepository interface {
	Insert(ctx context.Context, c *Complaint) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, activeOnly bool) ([]*Complaint, error)
	SetActive(ctx context.Context, patientID, id uuid.UUID, active bool) error
	Delete(ctx context.Context, patientID, id uuid.UUID) error
}
