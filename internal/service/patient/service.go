// Package patient reconciles patient identity across repeated submissions.
// Lookup is by account number exactly; facts from appointment data are folded
// in under merge-if-empty semantics so a populated demographic field is never
// overwritten.
package patient

import (
	"context"
	"encoding/json"
	"fmt"

	stderrors "errors"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/intake-api/internal/merge"
	"github.com/jwalitptl/intake-api/internal/model"
	"github.com/jwalitptl/intake-api/internal/repository"
	"github.com/jwalitptl/intake-api/internal/service/audit"
	"github.com/jwalitptl/intake-api/pkg/errors"
)

type PatientServicer interface {
	Reconcile(ctx context.Context, facts *model.Appointment) (*model.Patient, error)
	GetPatient(ctx context.Context, acctNo string) (*model.Patient, error)
	ListPatients(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error)
	DetachAppointment(ctx context.Context, acctNo, encounterID string) error
}

type Service struct {
	repo       repository.PatientRepository
	outboxRepo repository.OutboxRepository
	auditor    *audit.Service
}

func NewService(repo repository.PatientRepository, outboxRepo repository.OutboxRepository, auditor *audit.Service) *Service {
	return &Service{repo: repo, outboxRepo: outboxRepo, auditor: auditor}
}

// demographics is the slice of the patient aggregate the merge engine
// operates on.
type demographics struct {
	PersonalInfo model.PersonalInfo `json:"personalInfo"`
	Insurance    model.Insurance    `json:"insurance"`
}

// Reconcile returns the patient aggregate that reflects the given
// appointment-shaped facts, creating it if no match exists. Find-then-create
// is not atomic against a concurrent identical call; the store's uniqueness
// constraint on acct_no is the backstop and a create conflict falls back to
// the merge path.
func (s *Service) Reconcile(ctx context.Context, facts *model.Appointment) (*model.Patient, error) {
	if facts.AcctNo == "" {
		return nil, errors.Validation("account number is required", "acctNo")
	}

	existing, err := s.repo.GetByAcctNo(ctx, facts.AcctNo)
	if err != nil {
		var appErr *errors.AppError
		if !stderrors.As(err, &appErr) || appErr.Code != errors.ErrNotFound {
			return nil, fmt.Errorf("failed to look up patient: %w", err)
		}

		created, createErr := s.createFromFacts(ctx, facts)
		if createErr == nil {
			return created, nil
		}
		// Lost the create race: another import of the same new account
		// number got there first. Re-read and merge into the winner.
		if stderrors.As(createErr, &appErr) && appErr.Code == errors.ErrConflict {
			existing, err = s.repo.GetByAcctNo(ctx, facts.AcctNo)
			if err != nil {
				return nil, fmt.Errorf("failed to re-read patient after create conflict: %w", err)
			}
		} else {
			return nil, createErr
		}
	}

	return s.fold(ctx, existing, facts)
}

func (s *Service) createFromFacts(ctx context.Context, facts *model.Appointment) (*model.Patient, error) {
	patient := &model.Patient{
		AcctNo:       facts.AcctNo,
		PersonalInfo: facts.PersonalInfo,
		Insurance:    facts.Insurance,
	}
	if facts.EncounterID != "" {
		patient.Appointments = append(patient.Appointments, facts.EncounterID)
	}

	if err := s.repo.Create(ctx, patient); err != nil {
		return nil, err
	}

	s.auditor.Log(ctx, model.AuditActionCreate, model.AuditEntityPatient, patient.AcctNo, &audit.LogOptions{
		Changes: patient,
	})
	s.emitEvent(ctx, model.EventPatientCreated, patient)
	return patient, nil
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

// fold merges new facts into an existing patient: empty demographic fields
// are filled, populated ones left alone, and the appointment back-reference
// is appended if not already present.
func (s *Service) fold(ctx context.Context, patient *model.Patient, facts *model.Appointment) (*model.Patient, error) {
	dst, err := toTree(demographics{PersonalInfo: patient.PersonalInfo, Insurance: patient.Insurance})
	if err != nil {
		return nil, err
	}
	src, err := toTree(demographics{PersonalInfo: facts.PersonalInfo, Insurance: facts.Insurance})
	if err != nil {
		return nil, err
	}

	plan := merge.Plan(dst, src, nil)
	changed := len(plan) > 0
	if changed {
		merge.Apply(dst, plan)
		var demo demographics
		if err := fromTree(dst, &demo); err != nil {
			return nil, err
		}
		patient.PersonalInfo = demo.PersonalInfo
		patient.Insurance = demo.Insurance
	}

	if facts.EncounterID != "" && !patient.HasAppointment(facts.EncounterID) {
		patient.Appointments = append(patient.Appointments, facts.EncounterID)
		changed = true
	}

	if changed {
		if err := s.repo.Update(ctx, patient); err != nil {
			return nil, fmt.Errorf("failed to update patient: %w", err)
		}
		s.auditor.Log(ctx, model.AuditActionUpdate, model.AuditEntityPatient, patient.AcctNo, &audit.LogOptions{
			Changes: plan,
		})
	}
	return patient, nil
}

func (s *Service) GetPatient(ctx context.Context, acctNo string) (*model.Patient, error) {
	return s.repo.GetByAcctNo(ctx, acctNo)
}

func (s *Service) ListPatients(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error) {
	return s.repo.List(ctx, filters)
}

// DetachAppointment removes one encounter id from the back-reference set.
// Deleting appointments never deletes the patient itself.
func (s *Service) DetachAppointment(ctx context.Context, acctNo, encounterID string) error {
	patient, err := s.repo.GetByAcctNo(ctx, acctNo)
	if err != nil {
		return err
	}

	kept := patient.Appointments[:0]
	removed := false
	for _, id := range patient.Appointments {
		if id == encounterID {
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	if !removed {
		return nil
	}
	patient.Appointments = kept
	return s.repo.Update(ctx, patient)
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
