package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten(t *testing.T) {
	src := Tree{
		"a": "1",
		"b": Tree{
			"c": 2,
			"d": Tree{"e": "3"},
		},
		"list": []interface{}{"x", "y"},
	}

	flat := Flatten(src)

	assert.Equal(t, "1", flat["a"])
	assert.Equal(t, 2, flat["b.c"])
	assert.Equal(t, "3", flat["b.d.e"])
	assert.Equal(t, []interface{}{"x", "y"}, flat["list"])
	assert.Len(t, flat, 4)
}

func TestPlanFillsOnlyEmptySpots(t *testing.T) {
	dst := Tree{
		"firstName": "Jane",
		"lastName":  "",
		"personalInfo": Tree{
			"email": "jane@example.com",
		},
	}
	src := Tree{
		"firstName": "Janet",
		"lastName":  "Doe",
		"personalInfo": Tree{
			"email": "new@example.com",
			"phone": "555-0101",
		},
	}

	plan := Plan(dst, src, nil)

	_, hasFirst := Lookup(plan, "firstName")
	assert.False(t, hasFirst, "occupied field must not be planned")
	_, hasEmail := Lookup(plan, "personalInfo.email")
	assert.False(t, hasEmail, "occupied nested field must not be planned")

	last, ok := Lookup(plan, "lastName")
	require.True(t, ok)
	assert.Equal(t, "Doe", last)
	phone, ok := Lookup(plan, "personalInfo.phone")
	require.True(t, ok)
	assert.Equal(t, "555-0101", phone)
}

func TestPlanSkipsNilValues(t *testing.T) {
	dst := Tree{"firstName": ""}
	src := Tree{"firstName": nil, "lastName": nil}

	plan := Plan(dst, src, nil)

	assert.Empty(t, plan, "nil proposals never clear or set fields")
}

func TestPlanOverwritePaths(t *testing.T) {
	dst := Tree{
		"kioskCheckIn": Tree{"checkInTime": "2026-01-05T09:00:00Z"},
	}
	src := Tree{
		"kioskCheckIn": Tree{"checkInTime": "2026-01-05T09:30:00Z"},
	}

	plan := Plan(dst, src, []string{"kioskCheckIn.checkInTime"})

	v, ok := Lookup(plan, "kioskCheckIn.checkInTime")
	require.True(t, ok)
	assert.Equal(t, "2026-01-05T09:30:00Z", v)
}

func TestApplyCreatesIntermediateObjects(t *testing.T) {
	dst := Tree{"acctNo": "A100"}
	plan := Tree{
		"insurance": Tree{"name": "Acme Health"},
	}

	out := Apply(dst, plan)

	name, ok := Lookup(out, "insurance.name")
	require.True(t, ok)
	assert.Equal(t, "Acme Health", name)
	assert.Equal(t, "A100", out["acctNo"])
}

func TestApplyLeavesSiblingsIntact(t *testing.T) {
	dst := Tree{
		"personalInfo": Tree{
			"firstName": "Jane",
			"email":     "",
		},
	}
	plan := Plan(dst, Tree{
		"personalInfo": Tree{"email": "jane@example.com"},
	}, nil)

	Apply(dst, plan)

	first, _ := Lookup(dst, "personalInfo.firstName")
	assert.Equal(t, "Jane", first)
	email, _ := Lookup(dst, "personalInfo.email")
	assert.Equal(t, "jane@example.com", email)
}

func TestPlanTreatsArraysAsLeaves(t *testing.T) {
	dst := Tree{}
	src := Tree{
		"visitTimes": Tree{
			"rawEvents": []interface{}{Tree{"label": "patient_start"}},
		},
	}

	plan := Plan(dst, src, nil)

	v, ok := Lookup(plan, "visitTimes.rawEvents")
	require.True(t, ok)
	assert.Len(t, v, 1)
}

func TestLookupMissingIntermediate(t *testing.T) {
	dst := Tree{"a": "x"}

	_, ok := Lookup(dst, "a.b")
	assert.False(t, ok)
	_, ok = Lookup(dst, "missing.path")
	assert.False(t, ok)
}
