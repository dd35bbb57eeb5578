// Package normalizer maps raw tabular header/value pairs to typed,
// canonically-named fields. It never fails a whole batch for a single bad
// cell: a value that cannot be coerced keeps its original form under the
// canonical key.
package normalizer

import (
	"strings"
	"time"
)

// headerMap is the fixed table of known header strings (matched
// case-insensitively after trimming) to canonical field names.
var headerMap = map[string]string{
	"acct no":             "acctNo",
	"acct #":              "acctNo",
	"account number":      "acctNo",
	"account no":          "acctNo",
	"encounter id":        "encounterId",
	"encounter #":         "encounterId",
	"visit #":             "encounterId",
	"visit number":        "encounterId",
	"first name":          "firstName",
	"patient first name":  "firstName",
	"middle name":         "middleName",
	"last name":           "lastName",
	"patient last name":   "lastName",
	"dob":                 "dob",
	"date of birth":       "dob",
	"birth date":          "dob",
	"appointment date":    "appointmentDate",
	"appt date":           "appointmentDate",
	"date of service":     "appointmentDate",
	"sex":                 "sex",
	"gender":              "sex",
	"phone":               "phone",
	"phone number":        "phone",
	"home phone":          "phone",
	"email":               "email",
	"email address":       "email",
	"address":             "address",
	"address 1":           "address",
	"street address":      "address",
	"city":                "city",
	"state":               "state",
	"zip":                 "zip",
	"zip code":            "zip",
	"provider":            "provider",
	"physician":           "provider",
	"rendering provider":  "provider",
	"insurance":           "insuranceName",
	"insurance name":      "insuranceName",
	"primary insurance":   "insuranceName",
	"insurance id":        "insuranceMemberId",
	"member id":           "insuranceMemberId",
	"policy #":            "insuranceMemberId",
	"group no":            "insuranceGroupNo",
	"group number":        "insuranceGroupNo",
	"subscriber name":     "insuranceSubscriberName",
	"self pay":            "isSelfPay",
	"is self pay":         "isSelfPay",
	"dont send statements": "dontSendStatements",
	"do not send statements": "dontSendStatements",
	"deceased":    "deceased",
	"is deceased": "deceased",
}

// CanonicalName resolves a raw header to its canonical field name. Unmapped
// headers fall back to a deterministic transform; two distinct raw headers
// can normalize to the same canonical name, in which case the later column
// wins for that row.
func CanonicalName(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if canon, ok := headerMap[key]; ok {
		return canon
	}
	return fallbackName(raw)
}

// fallbackName strips everything outside letters, digits, and spaces, then
// camel-cases the remaining tokens: first token lower-cased, the rest with
// their first letter capitalized.
func fallbackName(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == ' ' {
			b.WriteRune(r)
		}
	}
	tokens := strings.Fields(b.String())
	if len(tokens) == 0 {
		return ""
	}
	var out strings.Builder
	out.WriteString(strings.ToLower(tokens[0]))
	for _, tok := range tokens[1:] {
		out.WriteString(strings.ToUpper(tok[:1]))
		if len(tok) > 1 {
			out.WriteString(tok[1:])
		}
	}
	return out.String()
}

// Typing policy: the canonical name, not the cell, decides coercion.
func dateLike(canon string) bool {
	lower := strings.ToLower(canon)
	return strings.Contains(lower, "date") || strings.Contains(lower, "dob")
}

func boolLike(canon string) bool {
	lower := strings.ToLower(canon)
	return strings.Contains(lower, "is") ||
		strings.Contains(lower, "dont") ||
		strings.Contains(lower, "deceased")
}

// datePatterns is the fixed ordered list tried first for date-like fields.
var datePatterns = []string{
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"2006-01-02",
	"20060102",
	"Jan 2, 2006",
	"January 2, 2006",
	"02 Jan 2006",
}

// generalPatterns is the wider second-chance set applied when the fixed list
// fails.
var generalPatterns = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006 15:04:05",
	"01/02/2006 3:04 PM",
	time.RFC1123,
	time.ANSIC,
}

var truthyStrings = map[string]bool{
	"yes":  true,
	"true": true,
	"y":    true,
	"1":    true,
}

// CoerceValue applies the canonical-name typing heuristic. Date-like fields
// parse to time.Time (already-structured dates pass through; an unparseable
// string is kept as-is, never dropped). Bool-like fields coerce the known
// string forms to true and any other string to false; non-strings go through
// generic truthiness. Everything else passes through unchanged.
func CoerceValue(canon string, val interface{}) interface{} {
	if dateLike(canon) {
		return coerceDate(val)
	}
	if boolLike(canon) {
		return coerceBool(val)
	}
	return val
}

func coerceDate(val interface{}) interface{} {
	switch v := val.(type) {
	case time.Time:
		return v
	case *time.Time:
		if v == nil {
			return val
		}
		return *v
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range datePatterns {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		for _, layout := range generalPatterns {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return val
	default:
		return val
	}
}

func coerceBool(val interface{}) interface{} {
	switch v := val.(type) {
	case bool:
		return v
	case string:
		return truthyStrings[strings.ToLower(strings.TrimSpace(v))]
	case nil:
		return false
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	default:
		return true
	}
}
