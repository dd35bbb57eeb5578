// Package ingest drives a bulk tabular upload through normalization,
// duplicate detection, record creation, and patient reconciliation. Rows are
// processed in input order and row-level failures never abort the batch.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/intake-api/internal/model"
	"github.com/jwalitptl/intake-api/internal/normalizer"
	"github.com/jwalitptl/intake-api/internal/repository"
	"github.com/jwalitptl/intake-api/internal/service/audit"
	"github.com/jwalitptl/intake-api/internal/service/patient"
	"github.com/jwalitptl/intake-api/pkg/metrics"
)

type IngestServicer interface {
	IngestArtifact(ctx context.Context, fileName string, r io.Reader) (*model.IngestReport, error)
	RemoveBatch(ctx context.Context, fileID string) (int64, error)
}

type Service struct {
	apptRepo   repository.AppointmentRepository
	patientSvc patient.PatientServicer
	outboxRepo repository.OutboxRepository
	auditor    *audit.Service
	metrics    *metrics.Metrics
}

func NewService(
	apptRepo repository.AppointmentRepository,
	patientSvc patient.PatientServicer,
	outboxRepo repository.OutboxRepository,
	auditor *audit.Service,
	m *metrics.Metrics,
) *Service {
	return &Service{
		apptRepo:   apptRepo,
		patientSvc: patientSvc,
		outboxRepo: outboxRepo,
		auditor:    auditor,
		metrics:    m,
	}
}

// IngestArtifact normalizes the uploaded artifact and persists as many rows
// as are valid. An unparseable artifact fails the whole call before any row
// is attempted; every other failure is a per-row entry in the report.
func (s *Service) IngestArtifact(ctx context.Context, fileName string, r io.Reader) (*model.IngestReport, error) {
	timer := prometheus.NewTimer(s.metrics.IngestLatency)
	defer timer.ObserveDuration()

	header, rows, err := normalizer.ParseArtifact(r)
	if err != nil {
		return nil, err
	}
	fileID, records := normalizer.Normalize(fileName, header, rows)

	report := &model.IngestReport{
		FileID:   fileID,
		FileName: fileName,
		Total:    len(records),
	}

	for i, rec := range records {
		if err := s.ingestRow(ctx, rec); err != nil {
			report.Errors = append(report.Errors, model.RowError{
				Row:     i,
				Message: err.Error(),
				Data:    rec,
			})
			s.metrics.IngestRowsTotal.WithLabelValues("failed").Inc()
			continue
		}
		report.Inserted++
		s.metrics.IngestRowsTotal.WithLabelValues("inserted").Inc()
	}

	s.metrics.IngestBatchesTotal.Inc()
	s.auditor.Log(ctx, model.AuditActionIngest, model.AuditEntityUpload, fileID, &audit.LogOptions{
		Metadata: map[string]interface{}{
			"file_name": fileName,
			"total":     report.Total,
			"inserted":  report.Inserted,
			"failed":    len(report.Errors),
		},
	})

	return report, nil
}

func (s *Service) ingestRow(ctx context.Context, rec normalizer.Record) error {
	appt := normalizer.BuildAppointment(rec)

	if appt.EncounterID == "" {
		return fmt.Errorf("missing required identifier: encounterId")
	}
	if appt.AcctNo == "" {
		return fmt.Errorf("missing required identifier: acctNo")
	}

	exists, err := s.apptRepo.ExistsEncounterID(ctx, appt.EncounterID)
	if err != nil {
		return fmt.Errorf("failed to check duplicate encounter id: %w", err)
	}
	if exists {
		return fmt.Errorf("duplicate encounter id %q", appt.EncounterID)
	}

	// The duplicate check above and this insert are two separate store
	// operations; under concurrent imports the unique index on encounter_id
	// is the backstop and its violation surfaces here as a row error.
	if err := s.apptRepo.Create(ctx, appt); err != nil {
		return err
	}

	if _, err := s.patientSvc.Reconcile(ctx, appt); err != nil {
		return fmt.Errorf("failed to reconcile patient: %w", err)
	}

	s.emitEvent(ctx, model.EventAppointmentImported, appt)
	return nil
}

// RemoveBatch deletes every appointment created by one bulk-upload call and
// detaches their back-references from the owning patients.
func (s *Service) RemoveBatch(ctx context.Context, fileID string) (int64, error) {
	appts, err := s.apptRepo.List(ctx, &model.AppointmentFilters{FileID: fileID})
	if err != nil {
		return 0, fmt.Errorf("failed to list batch appointments: %w", err)
	}

	removed, err := s.apptRepo.DeleteByFileID(ctx, fileID)
	if err != nil {
		return 0, err
	}

	for _, appt := range appts {
		if appt.AcctNo == "" {
			continue
		}
		if err := s.patientSvc.DetachAppointment(ctx, appt.AcctNo, appt.EncounterID); err != nil {
			log.Warn().Err(err).
				Str("acct_no", appt.AcctNo).
				Str("encounter_id", appt.EncounterID).
				Msg("failed to detach appointment reference")
		}
	}

	s.emitEvent(ctx, model.EventBatchRemoved, map[string]interface{}{
		"file_id": fileID,
		"removed": removed,
	})
	s.auditor.Log(ctx, model.AuditActionDelete, model.AuditEntityUpload, fileID, &audit.LogOptions{
		Metadata: map[string]interface{}{"removed": removed},
	})
	return removed, nil
}

func (s *Service) emitEvent(ctx context.Context, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal outbox payload")
		return
	}
	if err := s.outboxRepo.Create(ctx, &model.OutboxEvent{
		EventType: eventType,
		Payload:   data,
	}); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to create outbox event")
	}
}
