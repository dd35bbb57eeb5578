package normalizer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/intake-api/internal/model"
	apperrors "github.com/jwalitptl/intake-api/pkg/errors"
)

const sampleCSV = `Acct No,Encounter ID,First Name,Last Name,DOB,Appointment Date,Primary Insurance
A100,E200,Jane,Doe,11/02/1985,03/09/2026,Acme Health
A101,E201,John,,bad-date,03/10/2026,
`

func TestParseArtifact(t *testing.T) {
	header, rows, err := ParseArtifact(strings.NewReader(sampleCSV))

	require.NoError(t, err)
	assert.Equal(t, "Acct No", header[0])
	require.Len(t, rows, 2)
	assert.Equal(t, "A100", rows[0][0])
}

func TestParseArtifactEmpty(t *testing.T) {
	_, _, err := ParseArtifact(strings.NewReader(""))

	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrParse, appErr.Code)
}

func TestParseArtifactMalformed(t *testing.T) {
	_, _, err := ParseArtifact(strings.NewReader("a,\"unterminated\nb,c"))

	require.Error(t, err)
}

func TestNormalizeStampsBatchMetadata(t *testing.T) {
	header, rows, err := ParseArtifact(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	fileID, records := Normalize("roster.csv", header, rows)

	require.NotEmpty(t, fileID)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, fileID, rec[FieldFileID])
		assert.Equal(t, "roster.csv", rec[FieldFileName])
		assert.Equal(t, string(model.SourceTabularImport), rec[FieldSource])
		assert.IsType(t, time.Time{}, rec[FieldUploadDate])
	}
}

func TestNormalizeSkipsEmptyCells(t *testing.T) {
	header, rows, err := ParseArtifact(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	_, records := Normalize("roster.csv", header, rows)

	_, hasLast := records[1]["lastName"]
	assert.False(t, hasLast, "empty cell must leave the field absent")
	_, hasIns := records[1]["insuranceName"]
	assert.False(t, hasIns)
}

func TestNormalizeKeepsUnparseableDates(t *testing.T) {
	header, rows, err := ParseArtifact(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	_, records := Normalize("roster.csv", header, rows)

	_, typed := records[0]["dob"].(time.Time)
	assert.True(t, typed)
	assert.Equal(t, "bad-date", records[1]["dob"])
}

func TestBuildAppointment(t *testing.T) {
	header, rows, err := ParseArtifact(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	_, records := Normalize("roster.csv", header, rows)

	appt := BuildAppointment(records[0])

	assert.Equal(t, "A100", appt.AcctNo)
	assert.Equal(t, "E200", appt.EncounterID)
	assert.Equal(t, model.SourceTabularImport, appt.Source)
	assert.Equal(t, "Jane", appt.PersonalInfo.FirstName)
	require.NotNil(t, appt.PersonalInfo.DOB)
	assert.Equal(t, 1985, appt.PersonalInfo.DOB.Year())
	require.NotNil(t, appt.AppointmentDate)
	assert.Equal(t, "Acme Health", appt.Insurance.Name)
	assert.Equal(t, "roster.csv", appt.FileName)
}

func TestBuildAppointmentUntypedDateGoesToExtra(t *testing.T) {
	header, rows, err := ParseArtifact(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	_, records := Normalize("roster.csv", header, rows)

	appt := BuildAppointment(records[1])

	assert.Nil(t, appt.PersonalInfo.DOB)
	assert.Equal(t, "bad-date", appt.Extra["dob"])
}

func TestBuildAppointmentUnknownColumnsToExtra(t *testing.T) {
	csvText := "Acct No,Encounter ID,Referral Source\nA100,E200,Website\n"
	header, rows, err := ParseArtifact(strings.NewReader(csvText))
	require.NoError(t, err)
	_, records := Normalize("roster.csv", header, rows)

	appt := BuildAppointment(records[0])

	assert.Equal(t, "Website", appt.Extra["referralSource"])
}
