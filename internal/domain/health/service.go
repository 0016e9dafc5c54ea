package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextMeasurementLimit caps how many recent readings are folded into the
// assistant's patient context.
const ContextMeasurementLimit = 5

// Service implements self-reported health tracking for patients.
type Service struct {
	measurements MeasurementRepository
	types        MeasurementTypeRepository
	complaints   ComplaintRepository
	logger       zerolog.Logger
}

func NewService(measurements MeasurementRepository, types MeasurementTypeRepository, complaints ComplaintRepository, logger zerolog.Logger) *Service {
	return &Service{
		measurements: measurements,
		types:        types,
		complaints:   complaints,
		logger:       logger.With().Str("component", "health").Logger(),
	}
}

// RecordMeasurement validates and stores a new reading. A zero measured-at
// time defaults to now.
func (s *Service) RecordMeasurement(ctx context.Context, patientID, typeID uuid.UUID, value float64, measuredAt time.Time) (*Measurement, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient id is required")
	}
	mt, err := s.types.GetByID(ctx, typeID)
	if err != nil {
		return nil, fmt.Errorf("measurement type: %w", err)
	}
	if measuredAt.IsZero() {
		measuredAt = time.Now().UTC()
	}
	if measuredAt.After(time.Now().Add(time.Minute)) {
		return nil, fmt.Errorf("measured_at cannot be in the future")
	}

	m := &Measurement{
		ID:         uuid.New(),
		PatientID:  patientID,
		TypeID:     mt.ID,
		TypeName:   mt.Name,
		Unit:       mt.Unit,
		Value:      value,
		MeasuredAt: measuredAt,
	}
	if err := s.measurements.Insert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMeasurements returns a page of readings, newest first, with the total.
func (s *Service) ListMeasurements(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Measurement, int, error) {
	return s.measurements.ListByPatient(ctx, patientID, limit, offset)
}

// LatestMeasurements returns the most recent readings for the assistant's
// patient context.
func (s *Service) LatestMeasurements(ctx context.Context, patientID uuid.UUID) ([]*Measurement, error) {
	return s.measurements.Latest(ctx, patientID, ContextMeasurementLimit)
}

// DeleteMeasurement soft-deletes a reading owned by the patient.
func (s *Service) DeleteMeasurement(ctx context.Context, patientID, id uuid.UUID) error {
	return s.measurements.Delete(ctx, patientID, id)
}

// MeasurementTypes returns the catalog of supported reading types.
func (s *Service) MeasurementTypes(ctx context.Context) ([]*MeasurementType, error) {
	return s.types.List(ctx)
}

// AddComplaint records a new active complaint.
func (s *Service) AddComplaint(ctx context.Context, patientID uuid.UUID, description string) (*Complaint, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("description is required")
	}
	if len([]rune(description)) > 500 {
		return nil, fmt.Errorf("description exceeds 500 characters")
	}

	c := &Complaint{
		ID:          uuid.New(),
		PatientID:   patientID,
		Description: description,
		IsActive:    true,
	}
	if err := s.complaints.Insert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListComplaints returns the patient's complaints, optionally active only.
func (s *Service) ListComplaints(ctx context.Context, patientID uuid.UUID, activeOnly bool) ([]*Complaint, error) {
	return s.complaints.ListByPatient(ctx, patientID, activeOnly)
}

// ActiveComplaints returns the complaints folded into the assistant's
// patient context.
func (s *Service) ActiveComplaints(ctx context.Context, patientID uuid.UUID) ([]*Complaint, error) {
	return s.complaints.ListByPatient(ctx, patientID, true)
}

// ResolveComplaint marks a complaint inactive.
func (s *Service) ResolveComplaint(ctx context.Context, patientID, id uuid.UUID) error {
	return s.complaints.SetActive(ctx, patientID, id, false)
}

// DeleteComplaint soft-deletes a complaint.
func (s *Service) DeleteComplaint(ctx context.Context, patientID, id uuid.UUID) error {
	return s.complaints.Delete(ctx, patientID, id)
}
