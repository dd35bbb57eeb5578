package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/intake-api/internal/model"
)

type AppointmentRepository interface {
	Create(ctx context.Context, appt *model.Appointment) error
	GetByEncounterID(ctx context.Context, encounterID string) (*model.Appointment, error)
	ExistsEncounterID(ctx context.Context, encounterID string) (bool, error)
	Update(ctx context.Context, appt *model.Appointment) error
	List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error)
	DeleteByFileID(ctx context.Context, fileID string) (int64, error)
}

type PatientRepository interface {
	Create(ctx context.Context, patient *model.Patient) error
	GetByAcctNo(ctx context.Context, acctNo string) (*model.Patient, error)
	Update(ctx context.Context, patient *model.Patient) error
	List(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error)
}

type OutboxRepository interface {
	Create(ctx context.Context, event *model.OutboxEvent) error
	GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

type AuditRepository interface {
	Create(ctx context.Context, log *model.AuditLog) error
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}
