package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/companion/companion/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const measurementColumns = `m.id, m.patient_id, m.measurement_type_id,
	t.name, t.unit, m.value, m.measured_at, m.created_at`

type measurementRepoPG struct {
	pool *pgxpool.Pool
}

func NewMeasurementRepoPG(pool *pgxpool.Pool) MeasurementRepository {
	return &measurementRepoPG{pool: pool}
}

func (r *measurementRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *measurementRepoPG) Insert(ctx context.Context, m *Measurement) error {
	q := `INSERT INTO health_measurements (id, patient_id, measurement_type_id, value, measured_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`
	err := r.conn(ctx).QueryRow(ctx, q, m.ID, m.PatientID, m.TypeID, m.Value, m.MeasuredAt).
		Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	return nil
}

func (r *measurementRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Measurement, int, error) {
	c := r.conn(ctx)

	var total int
	countQ := `SELECT COUNT(*) FROM health_measurements WHERE patient_id = $1 AND NOT is_deleted`
	if err := c.QueryRow(ctx, countQ, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count measurements: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s
		FROM health_measurements m
		JOIN measurement_types t ON t.id = m.measurement_type_id
		WHERE m.patient_id = $1 AND NOT m.is_deleted
		ORDER BY m.measured_at DESC
		LIMIT $2 OFFSET $3`, measurementColumns)
	rows, err := c.Query(ctx, q, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list measurements: %w", err)
	}
	defer rows.Close()

	out, err := collectMeasurements(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *measurementRepoPG) Latest(ctx context.Context, patientID uuid.UUID, limit int) ([]*Measurement, error) {
	q := fmt.Sprintf(`SELECT %s
		FROM health_measurements m
		JOIN measurement_types t ON t.id = m.measurement_type_id
		WHERE m.patient_id = $1 AND NOT m.is_deleted
		ORDER BY m.measured_at DESC
		LIMIT $2`, measurementColumns)
	rows, err := r.conn(ctx).Query(ctx, q, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("latest measurements: %w", err)
	}
	defer rows.Close()

	return collectMeasurements(rows)
}

func (r *measurementRepoPG) Delete(ctx context.Context, patientID, id uuid.UUID) error {
	q := `UPDATE health_measurements SET is_deleted = TRUE
		WHERE id = $1 AND patient_id = $2 AND NOT is_deleted`
	tag, err := r.conn(ctx).Exec(ctx, q, id, patientID)
	if err != nil {
		return fmt.Errorf("delete measurement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectMeasurements(rows pgx.Rows) ([]*Measurement, error) {
	var out []*Measurement
	for rows.Next() {
		var m Measurement
		err := rows.Scan(&m.ID, &m.PatientID, &m.TypeID, &m.TypeName, &m.Unit,
			&m.Value, &m.MeasuredAt, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

type measurementTypeRepoPG struct {
	pool *pgxpool.Pool
}

func NewMeasurementTypeRepoPG(pool *pgxpool.Pool) MeasurementTypeRepository {
	return &measurementTypeRepoPG{pool: pool}
}

func (r *measurementTypeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *measurementTypeRepoPG) List(ctx context.Context) ([]*MeasurementType, error) {
	q := `SELECT id, name, unit FROM measurement_types ORDER BY name`
	rows, err := r.conn(ctx).Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list measurement types: %w", err)
	}
	defer rows.Close()

	var out []*MeasurementType
	for rows.Next() {
		var t MeasurementType
		if err := rows.Scan(&t.ID, &t.Name, &t.Unit); err != nil {
			return nil, fmt.Errorf("scan measurement type: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *measurementTypeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MeasurementType, error) {
	q := `SELECT id, name, unit FROM measurement_types WHERE id = $1`
	var t MeasurementType
	err := r.conn(ctx).QueryRow(ctx, q, id).Scan(&t.ID, &t.Name, &t.Unit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get measurement type: %w", err)
	}
	return &t, nil
}

const complaintColumns = `id, patient_id, description, is_active, created_at, updated_at`

type complaintRepoPG struct {
	pool *pgxpool.Pool
}

func NewComplaintRepoPG(pool *pgxpool.Pool) ComplaintRepository {
	return &complaintRepoPG{pool: pool}
}

func (r *complaintRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *complaintRepoPG) Insert(ctx context.Context, c *Complaint) error {
	q := `INSERT INTO complaints (id, patient_id, description, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`
	err := r.conn(ctx).QueryRow(ctx, q, c.ID, c.PatientID, c.Description, c.IsActive).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert complaint: %w", err)
	}
	return nil
}

func (r *complaintRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, activeOnly bool) ([]*Complaint, error) {
	q := fmt.Sprintf(`SELECT %s FROM complaints
		WHERE patient_id = $1 AND NOT is_deleted`, complaintColumns)
	if activeOnly {
		q += ` AND is_active`
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.conn(ctx).Query(ctx, q, patientID)
	if err != nil {
		return nil, fmt.Errorf("list complaints: %w", err)
	}
	defer rows.Close()

	var out []*Complaint
	for rows.Next() {
		var c Complaint
		err := rows.Scan(&c.ID, &c.PatientID, &c.Description, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan complaint: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *complaintRepoPG) SetActive(ctx context.Context, patientID, id uuid.UUID, active bool) error {
	q := `UPDATE complaints SET is_active = $3, updated_at = NOW()
		WHERE id = $1 AND patient_id = $2 AND NOT is_deleted`
	tag, err := r.conn(ctx).Exec(ctx, q, id, patientID, active)
	if err != nil {
		return fmt.Errorf("update complaint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *complaintRepoPG) Delete(ctx context.Context, patientID, id uuid.UUID) error {
	q := `UPDATE complaints SET is_deleted = TRUE, updated_at = NOW()
		WHERE id = $1 AND patient_id = $2 AND NOT is_deleted`
	tag, err := r.conn(ctx).Exec(ctx, q, id, patientID)
	if err != nil {
		return fmt.Errorf("delete complaint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
