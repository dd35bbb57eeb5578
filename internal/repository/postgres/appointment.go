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

type appointmentRepository struct {
	db *sqlx.DB
}

func NewAppointmentRepository(db *sqlx.DB) repository.AppointmentRepository {
	return &appointmentRepository{db: db}
}

func (r *appointmentRepository) Create(ctx context.Context, appt *model.Appointment) error {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = time.Now()

	if err := appt.MarshalDocs(); err != nil {
		return err
	}

	query := `
		INSERT INTO appointments (
			id, encounter_id, acct_no, source, file_id, file_name, upload_date,
			appointment_date, provider, personal_info, insurance, visit_times,
			kiosk_check_in, extra, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		appt.ID,
		appt.EncounterID,
		appt.AcctNo,
		appt.Source,
		appt.FileID,
		appt.FileName,
		appt.UploadDate,
		appt.AppointmentDate,
		appt.Provider,
		appt.PersonalInfoJSON,
		appt.InsuranceJSON,
		appt.VisitTimesJSON,
		appt.KioskCheckInJSON,
		appt.ExtraJSON,
		appt.CreatedAt,
		appt.UpdatedAt,
	)
	if err != nil {
		if mapped := mapConstraintError(err, "encounterId", "encounter id already exists"); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) GetByEncounterID(ctx context.Context, encounterID string) (*model.Appointment, error) {
	query := `SELECT * FROM appointments WHERE encounter_id = $1 AND deleted_at IS NULL`
	var appt model.Appointment
	err := r.db.GetContext(ctx, &appt, query, encounterID)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("appointment", err)
		}
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	if err := appt.UnmarshalDocs(); err != nil {
		return nil, err
	}
	return &appt, nil
}

func (r *appointmentRepository) ExistsEncounterID(ctx context.Context, encounterID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM appointments WHERE encounter_id = $1 AND deleted_at IS NULL)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, encounterID); err != nil {
		return false, fmt.Errorf("failed to check encounter id: %w", err)
	}
	return exists, nil
}

func (r *appointmentRepository) Update(ctx context.Context, appt *model.Appointment) error {
	appt.UpdatedAt = time.Now()

	if err := appt.MarshalDocs(); err != nil {
		return err
	}

	query := `
		UPDATE appointments SET
			acct_no = $1, appointment_date = $2, provider = $3,
			personal_info = $4, insurance = $5, visit_times = $6,
			kiosk_check_in = $7, extra = $8, updated_at = $9
		WHERE encounter_id = $10 AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query,
		appt.AcctNo,
		appt.AppointmentDate,
		appt.Provider,
		appt.PersonalInfoJSON,
		appt.InsuranceJSON,
		appt.VisitTimesJSON,
		appt.KioskCheckInJSON,
		appt.ExtraJSON,
		appt.UpdatedAt,
		appt.EncounterID,
	)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NotFound("appointment", nil)
	}
	return nil
}

func (r *appointmentRepository) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	query := `SELECT * FROM appointments WHERE deleted_at IS NULL`
	args := []interface{}{}
	idx := 1

	if filters != nil {
		if filters.AcctNo != "" {
			query += fmt.Sprintf(" AND acct_no = $%d", idx)
			args = append(args, filters.AcctNo)
			idx++
		}
		if filters.FileID != "" {
			query += fmt.Sprintf(" AND file_id = $%d", idx)
			args = append(args, filters.FileID)
			idx++
		}
		if filters.Source != "" {
			query += fmt.Sprintf(" AND source = $%d", idx)
			args = append(args, filters.Source)
			idx++
		}
		if !filters.StartDate.IsZero() {
			query += fmt.Sprintf(" AND appointment_date >= $%d", idx)
			args = append(args, filters.StartDate)
			idx++
		}
		if !filters.EndDate.IsZero() {
			query += fmt.Sprintf(" AND appointment_date <= $%d", idx)
			args = append(args, filters.EndDate)
			idx++
		}
	}
	query += " ORDER BY upload_date DESC"

	var appts []*model.Appointment
	if err := r.db.SelectContext(ctx, &appts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	for _, appt := range appts {
		if err := appt.UnmarshalDocs(); err != nil {
			return nil, err
		}
	}
	return appts, nil
}

func (r *appointmentRepository) DeleteByFileID(ctx context.Context, fileID string) (int64, error) {
	query := `DELETE FROM appointments WHERE file_id = $1`
	res, err := r.db.ExecContext(ctx, query, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete batch: %w", err)
	}
	return res.RowsAffected()
}
