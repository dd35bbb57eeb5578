package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Patient is one person, deduplicated by account number. AcctNo is unique and
// immutable; demographic fields are folded in from appointment facts under
// merge-if-empty semantics and a populated field is never overwritten.
type Patient struct {
	Base
	AcctNo       string       `json:"acctNo" db:"acct_no"`
	PersonalInfo PersonalInfo `json:"personalInfo" db:"-"`
	Insurance    Insurance    `json:"insurance" db:"-"`
	// Appointments is the back-reference set of encounter ids belonging to
	// this patient. No duplicates.
	Appointments pq.StringArray `json:"appointments" db:"appointments"`

	PersonalInfoJSON string `json:"-" db:"personal_info"`
	InsuranceJSON    string `json:"-" db:"insurance"`
}

func (p *Patient) MarshalDocs() error {
	pi, err := json.Marshal(p.PersonalInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal patient documents: %w", err)
	}
	ins, err := json.Marshal(p.Insurance)
	if err != nil {
		return fmt.Errorf("failed to marshal patient documents: %w", err)
	}
	p.PersonalInfoJSON = string(pi)
	p.InsuranceJSON = string(ins)
	return nil
}

func (p *Patient) UnmarshalDocs() error {
	if p.PersonalInfoJSON != "" {
		if err := json.Unmarshal([]byte(p.PersonalInfoJSON), &p.PersonalInfo); err != nil {
			return fmt.Errorf("failed to unmarshal patient documents: %w", err)
		}
	}
	if p.InsuranceJSON != "" {
		if err := json.Unmarshal([]byte(p.InsuranceJSON), &p.Insurance); err != nil {
			return fmt.Errorf("failed to unmarshal patient documents: %w", err)
		}
	}
	return nil
}

// HasAppointment reports whether the back-reference set already contains the
// given encounter id.
func (p *Patient) HasAppointment(encounterID string) bool {
	for _, id := range p.Appointments {
		if id == encounterID {
			return true
		}
	}
	return false
}

type PatientFilters struct {
	SearchTerm string `json:"search_term" form:"search_term"`
}

// Credential is a short-lived one-time code issued to a patient. At most one
// live credential exists per account number; issuing a new one supersedes any
// prior code and successful verification clears it.
type Credential struct {
	AcctNo    string    `json:"acct_no"`
	CodeHash  string    `json:"code_hash"`
	ExpiresAt time.Time `json:"expires_at"`
}
