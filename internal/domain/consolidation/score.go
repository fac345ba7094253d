package consolidation

import (
	"strings"
	"time"
)

// completenessFields is the fixed required-field set the score is computed
// over: phone, name, date of birth, sex, a contact method, an address line.
const completenessFields = 6

// Rescore recomputes the derived display fields and the completeness score.
// It runs as the last step of every create, merge, and identifier reset.
// Because merges only ever add data, the score is monotonically
// non-decreasing across merges.
func Rescore(p *CanonicalPatient, now time.Time) {
	p.FullName = buildFullName(p)
	p.Age = ageAt(p.DateOfBirth, now)

	populated := 0
	if p.NormalizedPhone != "" {
		populated++
	}
	if deref(p.FirstName) != "" && deref(p.LastName) != "" {
		populated++
	}
	if p.DateOfBirth != nil {
		populated++
	}
	if deref(p.Sex) != "" {
		populated++
	}
	// One contact method beyond the matching key: email or phone.
	if deref(p.Email) != "" || p.NormalizedPhone != "" {
		populated++
	}
	if deref(p.AddressLine1) != "" {
		populated++
	}
	p.CompletenessScore = float64(populated) / float64(completenessFields)
}

// buildFullName renders "First M. Last" from whichever parts exist.
func buildFullName(p *CanonicalPatient) string {
	parts := make([]string, 0, 3)
	if v := deref(p.FirstName); v != "" {
		parts = append(parts, v)
	}
	if v := deref(p.MiddleInitial); v != "" {
		parts = append(parts, v+".")
	}
	if v := deref(p.LastName); v != "" {
		parts = append(parts, v)
	}
	return strings.Join(parts, " ")
}

// ageAt returns completed years between dob and now, nil without a dob.
func ageAt(dob *time.Time, now time.Time) *int {
	if dob == nil {
		return nil
	}
	years := now.Year() - dob.Year()
	anniversary := time.Date(now.Year(), dob.Month(), dob.Day(), 0, 0, 0, 0, time.UTC)
	if now.Before(anniversary) {
		years--
	}
	if years < 0 {
		years = 0
	}
	age := years
	return &age
}
