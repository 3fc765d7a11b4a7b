package dossier

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dossier/accessd/internal/domain/access"
	"github.com/dossier/accessd/internal/platform/db"
)

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, user_id, first_name, last_name, birth_date, insurance_number, is_placeholder, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.BirthDate,
		&p.InsuranceNumber, &p.IsPlaceholder, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

const dossierCols = `d.id, d.patient_id, d.status, d.attending_id, d.created_by, d.created_at, d.updated_at,
	p.id, p.user_id, p.first_name, p.last_name, p.birth_date, p.insurance_number, p.is_placeholder, p.created_at, p.updated_at`

func scanDossier(row pgx.Row) (*Dossier, error) {
	var d Dossier
	var p Patient
	err := row.Scan(&d.ID, &d.PatientID, &d.Status, &d.AttendingID, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
		&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.BirthDate, &p.InsuranceNumber, &p.IsPlaceholder, &p.CreatedAt, &p.UpdatedAt)
	d.Patient = &p
	return &d, err
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return access.ErrNotFound
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (r *RepoPG) CreatePatient(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, user_id, first_name, last_name, birth_date, insurance_number, is_placeholder)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.FirstName, p.LastName, p.BirthDate, p.InsuranceNumber, p.IsPlaceholder,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: insurance number or user already registered", access.ErrValidation)
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *RepoPG) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get patient")
	}
	return p, nil
}

func (r *RepoPG) GetPatientByUser(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE user_id = $1`, userID))
	if err != nil {
		return nil, notFound(err, "get patient by user")
	}
	return p, nil
}

func (r *RepoPG) Create(ctx context.Context, d *Dossier) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = StatusActive
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO dossier (id, patient_id, status, attending_id, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		d.ID, d.PatientID, d.Status, d.AttendingID, d.CreatedBy,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: patient already has a dossier", access.ErrValidation)
		}
		return fmt.Errorf("insert dossier: %w", err)
	}
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Dossier, error) {
	d, err := scanDossier(r.conn(ctx).QueryRow(ctx,
		`SELECT `+dossierCols+` FROM dossier d JOIN patient p ON p.id = d.patient_id WHERE d.id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get dossier")
	}
	return d, nil
}

func (r *RepoPG) GetByPatient(ctx context.Context, patientID uuid.UUID) (*Dossier, error) {
	d, err := scanDossier(r.conn(ctx).QueryRow(ctx,
		`SELECT `+dossierCols+` FROM dossier d JOIN patient p ON p.id = d.patient_id WHERE d.patient_id = $1`, patientID))
	if err != nil {
		return nil, notFound(err, "get dossier by patient")
	}
	return d, nil
}

func (r *RepoPG) SetAttending(ctx context.Context, id uuid.UUID, attendingID *uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE dossier SET attending_id = $2, updated_at = NOW() WHERE id = $1`, id, attendingID)
	if err != nil {
		return fmt.Errorf("set attending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return access.ErrNotFound
	}
	return nil
}

func (r *RepoPG) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE dossier SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return access.ErrNotFound
	}
	return nil
}

func (r *RepoPG) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM patient WHERE id = (SELECT patient_id FROM dossier WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("delete dossier: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RepoPG) IsAttending(ctx context.Context, userID, dossierID uuid.UUID) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM dossier WHERE id = $1 AND attending_id = $2)`, dossierID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("attending lookup: %w", err)
	}
	return ok, nil
}

// InsertPlaceholder creates p and a dossier with the caller-chosen id unless
// that dossier already exists. Under read committed two callers can both
// insert a patient; the one whose dossier insert loses the conflict removes
// its patient again, so no orphan is left behind.
func (r *RepoPG) InsertPlaceholder(ctx context.Context, dossierID uuid.UUID, p *Patient, createdBy uuid.UUID) (bool, error) {
	q := r.conn(ctx)
	rows, err := q.Query(ctx, `
		WITH new_patient AS (
			INSERT INTO patient (id, first_name, last_name, insurance_number, is_placeholder)
			SELECT $2, $3, $4, $5, TRUE
			WHERE NOT EXISTS (SELECT 1 FROM dossier WHERE id = $1)
			RETURNING id
		)
		INSERT INTO dossier (id, patient_id, created_by)
		SELECT $1, id, $6 FROM new_patient
		ON CONFLICT (id) DO NOTHING
		RETURNING id`,
		dossierID, p.ID, p.FirstName, p.LastName, p.InsuranceNumber, createdBy)
	if err != nil {
		return false, fmt.Errorf("insert placeholder dossier: %w", err)
	}
	created := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("insert placeholder dossier: %w", err)
	}
	if created {
		return true, nil
	}

	if _, err := q.Exec(ctx, `
		DELETE FROM patient
		WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM dossier WHERE patient_id = $1)`, p.ID); err != nil {
		return false, fmt.Errorf("remove unused placeholder patient: %w", err)
	}
	return false, nil
}

// InsertPlaceholderPatient inserts p unless its insurance number is taken.
func (r *RepoPG) InsertPlaceholderPatient(ctx context.Context, p *Patient) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (id, first_name, last_name, insurance_number, is_placeholder)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (insurance_number) WHERE insurance_number <> '' DO NOTHING`,
		p.ID, p.FirstName, p.LastName, p.InsuranceNumber)
	if err != nil {
		return false, fmt.Errorf("insert placeholder patient: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RepoPG) FindByInsurance(ctx context.Context, insurance string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT d.id FROM dossier d JOIN patient p ON p.id = d.patient_id
		WHERE p.insurance_number = $1`, insurance).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("find dossier by insurance number: %w", err)
	}
	return id, true, nil
}

// BackfillInsurance sets the insurance number of the dossier's patient only
// when it is empty and no other patient holds it. Losing a race for the
// number is not an error: the statement runs on a savepoint and reports
// false.
func (r *RepoPG) BackfillInsurance(ctx context.Context, dossierID uuid.UUID, insurance string) (bool, error) {
	var updated bool
	err := db.WithSavepoint(ctx, r.pool, func(q db.Querier) error {
		tag, err := q.Exec(ctx, `
			UPDATE patient SET insurance_number = $2, updated_at = NOW()
			WHERE id = (SELECT patient_id FROM dossier WHERE id = $1)
			  AND insurance_number = ''
			  AND NOT EXISTS (SELECT 1 FROM patient WHERE insurance_number = $2)`,
			dossierID, insurance)
		updated = err == nil && tag.RowsAffected() > 0
		return err
	})
	// a concurrent holder of the number won; the dossier keeps an empty one
	if db.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("backfill insurance number: %w", err)
	}
	return updated, nil
}
