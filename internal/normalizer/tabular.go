package normalizer

import (
	"encoding/csv"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/intake-api/internal/model"
	"github.com/jwalitptl/intake-api/pkg/errors"
)

// Record is one normalized data row: canonical field names mapped to typed
// values, plus the uniform per-row batch metadata.
type Record = model.JSONMap

// Batch metadata keys stamped on every record of one upload call.
const (
	FieldSource     = "source"
	FieldFileID     = "fileId"
	FieldFileName   = "fileName"
	FieldUploadDate = "uploadDate"
)

// ParseArtifact reads the uploaded tabular artifact: first row headers,
// subsequent rows data. An unreadable or catastrophically malformed artifact
// fails the whole call; no partial batch is ever returned.
func ParseArtifact(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, errors.Parse("failed to parse uploaded artifact", err)
	}
	if len(rows) == 0 {
		return nil, nil, errors.Parse("uploaded artifact is empty", nil)
	}
	return rows[0], rows[1:], nil
}

// Normalize produces one record per data row and the batch identifier shared
// by all of them. Empty cells are skipped entirely so the canonical field is
// absent rather than null.
func Normalize(fileName string, header []string, rows [][]string) (string, []Record) {
	fileID := uuid.New().String()
	uploadDate := time.Now().UTC()

	canon := make([]string, len(header))
	for i, h := range header {
		canon[i] = CanonicalName(h)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := Record{
			FieldSource:     string(model.SourceTabularImport),
			FieldFileID:     fileID,
			FieldFileName:   fileName,
			FieldUploadDate: uploadDate,
		}
		for i, cell := range row {
			if i >= len(canon) || canon[i] == "" || cell == "" {
				continue
			}
			rec[canon[i]] = CoerceValue(canon[i], cell)
		}
		records = append(records, rec)
	}
	return fileID, records
}

// BuildAppointment converts one normalized record into a typed candidate
// appointment. Only values the coercion step actually typed land in typed
// fields; a date that stayed a raw string remains in Extra under its
// canonical key so nothing is lost and persistence never sees an untyped
// date.
func BuildAppointment(rec Record) *model.Appointment {
	appt := &model.Appointment{
		Source: model.SourceTabularImport,
		Extra:  model.JSONMap{},
	}

	for key, val := range rec {
		switch key {
		case "encounterId":
			appt.EncounterID = asString(val)
		case "acctNo":
			appt.AcctNo = asString(val)
		case FieldSource:
			appt.Source = model.RecordSource(asString(val))
		case FieldFileID:
			appt.FileID = asString(val)
		case FieldFileName:
			appt.FileName = asString(val)
		case FieldUploadDate:
			if t, ok := val.(time.Time); ok {
				appt.UploadDate = t
			}
		case "appointmentDate":
			if t, ok := val.(time.Time); ok {
				appt.AppointmentDate = &t
			} else {
				appt.Extra[key] = val
			}
		case "dob":
			if t, ok := val.(time.Time); ok {
				appt.PersonalInfo.DOB = &t
			} else {
				appt.Extra[key] = val
			}
		case "firstName":
			appt.PersonalInfo.FirstName = asString(val)
		case "middleName":
			appt.PersonalInfo.MiddleName = asString(val)
		case "lastName":
			appt.PersonalInfo.LastName = asString(val)
		case "sex":
			appt.PersonalInfo.Sex = asString(val)
		case "phone":
			appt.PersonalInfo.Phone = asString(val)
		case "email":
			appt.PersonalInfo.Email = asString(val)
		case "address":
			appt.PersonalInfo.Address = asString(val)
		case "city":
			appt.PersonalInfo.City = asString(val)
		case "state":
			appt.PersonalInfo.State = asString(val)
		case "zip":
			appt.PersonalInfo.Zip = asString(val)
		case "provider":
			appt.Provider = asString(val)
		case "insuranceName":
			appt.Insurance.Name = asString(val)
		case "insuranceMemberId":
			appt.Insurance.MemberID = asString(val)
		case "insuranceGroupNo":
			appt.Insurance.GroupNo = asString(val)
		case "insuranceSubscriberName":
			appt.Insurance.SubscriberName = asString(val)
		default:
			appt.Extra[key] = val
		}
	}
	return appt
}

func asString(val interface{}) string {
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}
