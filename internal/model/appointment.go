package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type RecordSource string

const (
	SourceTabularImport RecordSource = "tabular-import"
	SourceKiosk         RecordSource = "kiosk"
	SourceAPI           RecordSource = "api"
)

type EventLabel string

const (
	EventPatientStart EventLabel = "patient_start"
	EventPatientEnd   EventLabel = "patient_end"
	EventDoctorStart  EventLabel = "doctor_start"
	EventDoctorEnd    EventLabel = "doctor_end"
	EventStaffStart   EventLabel = "staff_start"
	EventStaffEnd     EventLabel = "staff_end"
)

// ValidEventLabels is the closed set of checkpoint labels accepted by the
// event-recording endpoint.
var ValidEventLabels = map[EventLabel]bool{
	EventPatientStart: true,
	EventPatientEnd:   true,
	EventDoctorStart:  true,
	EventDoctorEnd:    true,
	EventStaffStart:   true,
	EventStaffEnd:     true,
}

// CheckpointEvent marks entry or exit of patient, doctor, or staff involvement
// in a visit. Events are append-only and never mutated once recorded.
type CheckpointEvent struct {
	Label EventLabel `json:"label"`
	Time  time.Time  `json:"time"`
}

// VisitTimes holds the raw checkpoint log plus derived durations in whole
// minutes. Durations are recomputed from RawEvents and never hand-edited.
type VisitTimes struct {
	RawEvents       []CheckpointEvent `json:"rawEvents,omitempty"`
	PatientDuration int               `json:"patientDuration"`
	DoctorDuration  int               `json:"doctorDuration"`
	StaffDuration   int               `json:"staffDuration"`
}

type ImageRef struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type KioskCheckIn struct {
	CheckInTime   *time.Time `json:"checkInTime,omitempty"`
	ConsentSigned *bool      `json:"consentSigned,omitempty"`
	HIPAASigned   *bool      `json:"hipaaSigned,omitempty"`
	Images        []ImageRef `json:"images,omitempty"`
}

// PersonalInfo is the demographic snapshot captured at import time and later
// enriched by kiosk/portal submissions under merge-if-empty semantics.
type PersonalInfo struct {
	FirstName  string     `json:"firstName,omitempty"`
	MiddleName string     `json:"middleName,omitempty"`
	LastName   string     `json:"lastName,omitempty"`
	DOB        *time.Time `json:"dob,omitempty"`
	Sex        string     `json:"sex,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Email      string     `json:"email,omitempty"`
	Address    string     `json:"address,omitempty"`
	City       string     `json:"city,omitempty"`
	State      string     `json:"state,omitempty"`
	Zip        string     `json:"zip,omitempty"`
}

type Insurance struct {
	Name           string `json:"name,omitempty"`
	MemberID       string `json:"memberId,omitempty"`
	GroupNo        string `json:"groupNo,omitempty"`
	SubscriberName string `json:"subscriberName,omitempty"`
}

// Appointment is one scheduled/visited encounter. EncounterID is globally
// unique and immutable once created.
type Appointment struct {
	Base
	EncounterID     string       `json:"encounterId" db:"encounter_id"`
	AcctNo          string       `json:"acctNo" db:"acct_no"`
	Source          RecordSource `json:"source" db:"source"`
	FileID          string       `json:"fileId,omitempty" db:"file_id"`
	FileName        string       `json:"fileName,omitempty" db:"file_name"`
	UploadDate      time.Time    `json:"uploadDate" db:"upload_date"`
	AppointmentDate *time.Time   `json:"appointmentDate,omitempty" db:"appointment_date"`
	Provider        string       `json:"provider,omitempty" db:"provider"`

	PersonalInfo PersonalInfo `json:"personalInfo" db:"-"`
	Insurance    Insurance    `json:"insurance" db:"-"`
	VisitTimes   VisitTimes   `json:"visitTimes" db:"-"`
	KioskCheckIn KioskCheckIn `json:"kioskCheckIn" db:"-"`
	// Extra carries normalized fields with no dedicated column, keyed by
	// canonical field name.
	Extra JSONMap `json:"extra,omitempty" db:"-"`

	PersonalInfoJSON string `json:"-" db:"personal_info"`
	InsuranceJSON    string `json:"-" db:"insurance"`
	VisitTimesJSON   string `json:"-" db:"visit_times"`
	KioskCheckInJSON string `json:"-" db:"kiosk_check_in"`
	ExtraJSON        string `json:"-" db:"extra"`
}

// MarshalDocs serializes the nested document fields into their storage
// columns. Repositories call this before every write.
func (a *Appointment) MarshalDocs() error {
	for _, f := range []struct {
		v    interface{}
		dest *string
	}{
		{a.PersonalInfo, &a.PersonalInfoJSON},
		{a.Insurance, &a.InsuranceJSON},
		{a.VisitTimes, &a.VisitTimesJSON},
		{a.KioskCheckIn, &a.KioskCheckInJSON},
		{a.Extra, &a.ExtraJSON},
	} {
		data, err := json.Marshal(f.v)
		if err != nil {
			return fmt.Errorf("failed to marshal appointment document: %w", err)
		}
		*f.dest = string(data)
	}
	return nil
}

// UnmarshalDocs deserializes the storage columns back into the nested
// document fields. Repositories call this after every read.
func (a *Appointment) UnmarshalDocs() error {
	for _, f := range []struct {
		src string
		v   interface{}
	}{
		{a.PersonalInfoJSON, &a.PersonalInfo},
		{a.InsuranceJSON, &a.Insurance},
		{a.VisitTimesJSON, &a.VisitTimes},
		{a.KioskCheckInJSON, &a.KioskCheckIn},
		{a.ExtraJSON, &a.Extra},
	} {
		if f.src == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.src), f.v); err != nil {
			return fmt.Errorf("failed to unmarshal appointment document: %w", err)
		}
	}
	return nil
}

// RecordEventsRequest is the event-recording payload. Times arrive as
// arbitrary strings from untrusted front-ends and are validated before any
// event is appended.
type RecordEventsRequest struct {
	Events []RawEvent `json:"events" binding:"required"`
}

type RawEvent struct {
	Label string `json:"label"`
	Time  string `json:"time"`
}

// RecordEventsResponse returns the full log plus recomputed durations.
type RecordEventsResponse struct {
	EncounterID     string            `json:"encounterId"`
	RawEvents       []CheckpointEvent `json:"rawEvents"`
	PatientDuration int               `json:"patientDuration"`
	DoctorDuration  int               `json:"doctorDuration"`
	StaffDuration   int               `json:"staffDuration"`
}

type AppointmentFilters struct {
	AcctNo    string    `json:"acct_no" form:"acct_no"`
	FileID    string    `json:"file_id" form:"file_id"`
	Source    string    `json:"source" form:"source"`
	StartDate time.Time `json:"start_date" form:"start_date"`
	EndDate   time.Time `json:"end_date" form:"end_date"`
}
