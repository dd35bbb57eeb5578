// Package appointment handles incremental updates to existing encounters:
// kiosk check-in submissions, partial patches, checkpoint-event recording,
// and image attachments. These operations never create an appointment; the
// encounter must already exist.
package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/intake-api/internal/merge"
	"github.com/jwalitptl/intake-api/internal/model"
	"github.com/jwalitptl/intake-api/internal/repository"
	"github.com/jwalitptl/intake-api/internal/service/audit"
	"github.com/jwalitptl/intake-api/internal/service/patient"
	"github.com/jwalitptl/intake-api/internal/storage"
	"github.com/jwalitptl/intake-api/internal/visit"
	"github.com/jwalitptl/intake-api/pkg/errors"
	"github.com/jwalitptl/intake-api/pkg/metrics"
)

// CheckInTimePath is the one always-overwrite merge path: a repeated check-in
// refreshes the timestamp even though every other field is fill-only-empty.
const CheckInTimePath = "kioskCheckIn.checkInTime"

// blockedPrefixes are destination paths partial updates may never touch:
// identity, provenance, and the derived visit-times document.
var blockedPrefixes = []string{
	"id",
	"encounterId",
	"acctNo",
	"source",
	"fileId",
	"fileName",
	"uploadDate",
	"visitTimes",
	"created_at",
	"updated_at",
	"deleted_at",
}

// Image attachment constraints.
const (
	MaxImageSize      = 5 << 20
	maxInsuranceParts = 2
)

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

var allowedImageParts = map[string]bool{
	"photo":     true,
	"id":        true,
	"insurance": true,
}

type ImageUpload struct {
	Type        string
	FileName    string
	ContentType string
	Size        int64
	Data        io.Reader
}

type AppointmentServicer interface {
	GetAppointment(ctx context.Context, encounterID string) (*model.Appointment, error)
	ListAppointments(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error)
	PatchAppointment(ctx context.Context, encounterID string, updates model.JSONMap) (*model.Appointment, model.JSONMap, error)
	KioskCheckIn(ctx context.Context, encounterID string, submission model.JSONMap) (*model.Appointment, error)
	RecordEvents(ctx context.Context, encounterID string, raw []model.RawEvent) (*model.RecordEventsResponse, error)
	AttachImages(ctx context.Context, encounterID string, uploads []ImageUpload) (*model.Appointment, error)
}

type Service struct {
	repo       repository.AppointmentRepository
	patientSvc patient.PatientServicer
	blobs      storage.BlobStore
	outboxRepo repository.OutboxRepository
	auditor    *audit.Service
	metrics    *metrics.Metrics
	// production enables the restricted-day rule: kiosk check-in only for
	// same-day appointments.
	production bool
}

func NewService(
	repo repository.AppointmentRepository,
	patientSvc patient.PatientServicer,
	blobs storage.BlobStore,
	outboxRepo repository.OutboxRepository,
	auditor *audit.Service,
	m *metrics.Metrics,
	production bool,
) *Service {
	return &Service{
		repo:       repo,
		patientSvc: patientSvc,
		blobs:      blobs,
		outboxRepo: outboxRepo,
		auditor:    auditor,
		metrics:    m,
		production: production,
	}
}

func (s *Service) GetAppointment(ctx context.Context, encounterID string) (*model.Appointment, error) {
	return s.repo.GetByEncounterID(ctx, encounterID)
}

func (s *Service) ListAppointments(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	return s.repo.List(ctx, filters)
}

// PatchAppointment applies a merge-if-empty partial update from the API
// surface and returns the updated record plus the sparse tree of fields
// actually set.
func (s *Service) PatchAppointment(ctx context.Context, encounterID string, updates model.JSONMap) (*model.Appointment, model.JSONMap, error) {
	appt, err := s.repo.GetByEncounterID(ctx, encounterID)
	if err != nil {
		return nil, nil, err
	}

	applied, err := s.applyPartial(ctx, appt, updates, nil)
	if err != nil {
		return nil, nil, err
	}

	s.auditor.Log(ctx, model.AuditActionUpdate, model.AuditEntityAppointment, encounterID, &audit.LogOptions{
		Changes: applied,
	})
	s.emitEvent(ctx, model.EventAppointmentUpdated, appt)
	return appt, applied, nil
}

// KioskCheckIn applies a kiosk submission. The check-in timestamp is stamped
// server-side when absent and always overwrites; in production only same-day
// appointments may check in.
func (s *Service) KioskCheckIn(ctx context.Context, encounterID string, submission model.JSONMap) (*model.Appointment, error) {
	appt, err := s.repo.GetByEncounterID(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	if s.production && !sameDay(appt.AppointmentDate, time.Now()) {
		return nil, errors.Precondition("check-in is only permitted on the appointment date")
	}

	if _, ok := merge.Lookup(submission, CheckInTimePath); !ok {
		merge.Apply(submission, merge.Tree{
			"kioskCheckIn": merge.Tree{"checkInTime": time.Now().UTC().Format(time.RFC3339)},
		})
	}

	applied, err := s.applyPartial(ctx, appt, submission, []string{CheckInTimePath})
	if err != nil {
		return nil, err
	}

	// Fold any newly supplied demographics into the patient aggregate.
	if _, err := s.patientSvc.Reconcile(ctx, appt); err != nil {
		log.Warn().Err(err).Str("encounter_id", encounterID).Msg("failed to reconcile patient after check-in")
	}

	s.auditor.Log(ctx, model.AuditActionCheckin, model.AuditEntityAppointment, encounterID, &audit.LogOptions{
		Changes: applied,
	})
	s.emitEvent(ctx, model.EventCheckinCompleted, appt)
	return appt, nil
}

// applyPartial runs the shared merge pipeline: strip blocked paths, plan
// fill-only-empty updates against the canonical representation, apply, and
// persist. The returned tree holds exactly the fields that changed.
func (s *Service) applyPartial(ctx context.Context, appt *model.Appointment, updates model.JSONMap, overwrite []string) (model.JSONMap, error) {
	src := stripBlocked(updates)

	dst, err := toTree(appt)
	if err != nil {
		return nil, err
	}

	plan := merge.Plan(dst, src, overwrite)
	if len(plan) == 0 {
		return model.JSONMap{}, nil
	}
	merge.Apply(dst, plan)

	updated := &model.Appointment{}
	if err := fromTree(dst, updated); err != nil {
		return nil, err
	}
	*appt = *updated

	if err := s.repo.Update(ctx, appt); err != nil {
		return nil, err
	}
	return model.JSONMap(plan), nil
}

// RecordEvents validates and appends a batch of checkpoint events, then
// recomputes all derived durations from the full log. An invalid batch is
// rejected wholesale with per-index errors and nothing is appended.
func (s *Service) RecordEvents(ctx context.Context, encounterID string, raw []model.RawEvent) (*model.RecordEventsResponse, error) {
	if len(raw) == 0 {
		return nil, errors.Validation("events are required", "events")
	}

	events, errs := visit.ValidateRawEvents(raw)
	if len(errs) > 0 {
		return nil, errors.Validation("invalid event batch", errs...)
	}

	appt, err := s.repo.GetByEncounterID(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	appt.VisitTimes.RawEvents = append(appt.VisitTimes.RawEvents, events...)

	durations := visit.Compute(appt.VisitTimes.RawEvents)
	appt.VisitTimes.PatientDuration = durations.Patient
	appt.VisitTimes.DoctorDuration = durations.Doctor
	appt.VisitTimes.StaffDuration = durations.Staff

	if err := s.repo.Update(ctx, appt); err != nil {
		return nil, err
	}

	s.metrics.EventsAppendedTotal.Add(float64(len(events)))
	s.metrics.DurationRecomputesTotal.Inc()

	return &model.RecordEventsResponse{
		EncounterID:     encounterID,
		RawEvents:       appt.VisitTimes.RawEvents,
		PatientDuration: appt.VisitTimes.PatientDuration,
		DoctorDuration:  appt.VisitTimes.DoctorDuration,
		StaffDuration:   appt.VisitTimes.StaffDuration,
	}, nil
}

// AttachImages stores uploaded check-in images and appends their references
// to the appointment's check-in record.
func (s *Service) AttachImages(ctx context.Context, encounterID string, uploads []ImageUpload) (*model.Appointment, error) {
	if len(uploads) == 0 {
		return nil, errors.Validation("at least one image part is required")
	}
	if err := validateUploads(uploads); err != nil {
		return nil, err
	}

	appt, err := s.repo.GetByEncounterID(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	for _, up := range uploads {
		key := fmt.Sprintf("checkin/%s/%s-%s%s", encounterID, up.Type, uuid.New().String(), path.Ext(up.FileName))
		url, err := s.blobs.Put(ctx, key, up.ContentType, up.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to store %s image: %w", up.Type, err)
		}
		appt.KioskCheckIn.Images = append(appt.KioskCheckIn.Images, model.ImageRef{
			Type: up.Type,
			URL:  url,
		})
	}

	if err := s.repo.Update(ctx, appt); err != nil {
		return nil, err
	}

	s.auditor.Log(ctx, model.AuditActionUpdate, model.AuditEntityAppointment, encounterID, &audit.LogOptions{
		Metadata: map[string]interface{}{"images": len(uploads)},
	})
	return appt, nil
}

func validateUploads(uploads []ImageUpload) error {
	insurance := 0
	for _, up := range uploads {
		if !allowedImageParts[up.Type] {
			return errors.Validation(fmt.Sprintf("unknown image part %q", up.Type), up.Type)
		}
		if !allowedImageTypes[up.ContentType] {
			return errors.Validation(fmt.Sprintf("unsupported image content type %q", up.ContentType), up.Type)
		}
		if up.Size > MaxImageSize {
			return errors.Validation(fmt.Sprintf("%s image exceeds %d bytes", up.Type, MaxImageSize), up.Type)
		}
		if up.Type == "insurance" {
			insurance++
		}
	}
	if insurance > maxInsuranceParts {
		return errors.Validation("at most 2 insurance images are allowed", "insurance")
	}
	return nil
}

func stripBlocked(updates model.JSONMap) merge.Tree {
	flat := merge.Flatten(merge.Tree(updates))
	out := make(merge.Tree)
	for p, v := range flat {
		if blockedPath(p) {
			continue
		}
		segs := strings.Split(p, ".")
		node := out
		for _, seg := range segs[:len(segs)-1] {
			child, ok := node[seg].(map[string]interface{})
			if !ok {
				child = make(merge.Tree)
				node[seg] = child
			}
			node = child
		}
		node[segs[len(segs)-1]] = v
	}
	return out
}

func blockedPath(p string) bool {
	for _, prefix := range blockedPrefixes {
		if p == prefix || strings.HasPrefix(p, prefix+".") {
			return true
		}
	}
	return false
}

func sameDay(appointmentDate *time.Time, now time.Time) bool {
	if appointmentDate == nil {
		return false
	}
	y1, m1, d1 := appointmentDate.Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
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

func toTree(v interface{}) (merge.Tree, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to build merge tree: %w", err)
	}
	var tree merge.Tree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to build merge tree: %w", err)
	}
	return tree, nil
}

func fromTree(tree merge.Tree, v interface{}) error {
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to read merge tree: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to read merge tree: %w", err)
	}
	return nil
}
