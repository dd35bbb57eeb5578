// Package visit derives billing/staffing durations from an appointment's
// checkpoint-event log. The persisted log order is never relied upon:
// computation sorts a working copy by time and reprocesses the entire log on
// every call, so recomputation is idempotent and order-independent.
package visit

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/intake-api/internal/model"
)

var validate = validator.New()

const labelOneOf = "oneof=patient_start patient_end doctor_start doctor_end staff_start staff_end"

// Durations are whole minutes, rounded to nearest, each defaulting to 0 when
// insufficient events exist.
type Durations struct {
	Patient int
	Doctor  int
	Staff   int
}

// Compute returns the derived durations for the full event log of one
// appointment. Patient duration is the single span from the first
// patient_start to the last patient_end. Doctor and staff durations are
// summed over successive positional pairs of same-category events in sorted
// order; a pair only contributes when it reads start-then-end.
func Compute(events []model.CheckpointEvent) Durations {
	sorted := make([]model.CheckpointEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	return Durations{
		Patient: patientSpan(sorted),
		Doctor:  pairedMinutes(sorted, model.EventDoctorStart, model.EventDoctorEnd),
		Staff:   pairedMinutes(sorted, model.EventStaffStart, model.EventStaffEnd),
	}
}

func patientSpan(sorted []model.CheckpointEvent) int {
	var start, end *time.Time
	for i := range sorted {
		switch sorted[i].Label {
		case model.EventPatientStart:
			if start == nil {
				start = &sorted[i].Time
			}
		case model.EventPatientEnd:
			end = &sorted[i].Time
		}
	}
	if start == nil || end == nil || !end.After(*start) {
		return 0
	}
	return roundMinutes(end.Sub(*start))
}

// pairedMinutes pairs the 1st and 2nd category events, the 3rd and 4th, and
// so on. A pair whose labels are not literally start-then-end contributes 0
// and is skipped. Two starts before any end therefore produce degenerate
// zero-contribution pairs rather than an error.
func pairedMinutes(sorted []model.CheckpointEvent, start, end model.EventLabel) int {
	var category []model.CheckpointEvent
	for _, e := range sorted {
		if e.Label == start || e.Label == end {
			category = append(category, e)
		}
	}

	total := 0
	for i := 0; i+1 < len(category); i += 2 {
		if category[i].Label != start || category[i+1].Label != end {
			continue
		}
		total += roundMinutes(category[i+1].Time.Sub(category[i].Time))
	}
	return total
}

func roundMinutes(d time.Duration) int {
	return int(math.Round(d.Minutes()))
}

// ValidateRawEvents checks a submitted batch before anything is appended.
// Every event must carry a label from the fixed enumeration and a time
// parseable as a point in time; otherwise the whole batch is rejected with
// one message per offending index and no events are returned.
func ValidateRawEvents(raw []model.RawEvent) ([]model.CheckpointEvent, []string) {
	var errs []string
	events := make([]model.CheckpointEvent, 0, len(raw))

	for i, e := range raw {
		if err := validate.Var(e.Label, labelOneOf); err != nil {
			errs = append(errs, fmt.Sprintf("events[%d]: invalid label %q", i, e.Label))
			continue
		}
		t, err := parseTime(e.Time)
		if err != nil {
			errs = append(errs, fmt.Sprintf("events[%d]: invalid time %q", i, e.Time))
			continue
		}
		events = append(events, model.CheckpointEvent{Label: model.EventLabel(e.Label), Time: t})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return events, nil
}

var eventTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	// Kiosk front-ends historically sent epoch milliseconds.
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}
