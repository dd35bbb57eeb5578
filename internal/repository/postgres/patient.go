package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/intake-api/internal/model"
	"github.com/jwalitptl/intake-api/internal/repository"
	"github.com/jwalitptl/intake-api/pkg/errors"
)

type patientRepository struct {
	db *sqlx.DB
}

func NewPatientRepository(db *sqlx.DB) repository.PatientRepository {
	return &patientRepository{db: db}
}

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}
	patient.CreatedAt = time.Now()
	patient.UpdatedAt = time.Now()

	if err := patient.MarshalDocs(); err != nil {
		return err
	}

	query := `
		INSERT INTO patients (
			id, acct_no, personal_info, insurance, appointments, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		patient.ID,
		patient.AcctNo,
		patient.PersonalInfoJSON,
		patient.InsuranceJSON,
		patient.Appointments,
		patient.CreatedAt,
		patient.UpdatedAt,
	)
	if err != nil {
		if mapped := mapConstraintError(err, "acctNo", "account number already exists"); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *patientRepository) GetByAcctNo(ctx context.Context, acctNo string) (*model.Patient, error) {
	query := `SELECT * FROM patients WHERE acct_no = $1 AND deleted_at IS NULL`
	var patient model.Patient
	err := r.db.GetContext(ctx, &patient, query, acctNo)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("patient", err)
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	if err := patient.UnmarshalDocs(); err != nil {
		return nil, err
	}
	return &patient, nil
}

func (r *patientRepository) Update(ctx context.Context, patient *model.Patient) error {
	patient.UpdatedAt = time.Now()

	if err := patient.MarshalDocs(); err != nil {
		return err
	}

	query := `
		UPDATE patients SET
			personal_info = $1, insurance = $2, appointments = $3, updated_at = $4
		WHERE acct_no = $5 AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query,
		patient.PersonalInfoJSON,
		patient.InsuranceJSON,
		patient.Appointments,
		patient.UpdatedAt,
		patient.AcctNo,
	)
	if err != nil {
		return fmt.Errorf("failed to update patient: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NotFound("patient", nil)
	}
	return nil
}

func (r *patientRepository) List(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error) {
	query := `SELECT * FROM patients WHERE deleted_at IS NULL`
	args := []interface{}{}

	if filters != nil && filters.SearchTerm != "" {
		query += ` AND (acct_no ILIKE $1 OR personal_info::text ILIKE $1)`
		args = append(args, "%"+filters.SearchTerm+"%")
	}
	query += " ORDER BY created_at DESC"

	var patients []*model.Patient
	if err := r.db.SelectContext(ctx, &patients, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	for _, patient := range patients {
		if err := patient.UnmarshalDocs(); err != nil {
			return nil, err
		}
	}
	return patients, nil
}
