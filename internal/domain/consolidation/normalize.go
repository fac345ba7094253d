package consolidation

import (
	"strings"
	"time"
	"unicode"
)

// NormalizePhone reduces a raw phone string to its canonical digits-only
// form. An 11-digit number with a leading 1 (NANP trunk prefix) drops the 1.
// Fewer than 10 digits after stripping is a ValidationError: too short to
// be a reliable matching key.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) < 10 {
		return "", &ValidationError{Field: "source_phone", Reason: "fewer than 10 digits"}
	}
	return digits, nil
}

// CleanName trims a name and collapses internal runs of whitespace, keeping
// the original casing for storage.
func CleanName(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// FoldName produces the case- and whitespace-insensitive form of a name
// used for comparison only, never stored.
func FoldName(raw string) string {
	return strings.ToLower(CleanName(raw))
}

var dobLayouts = []string{"2006-01-02", "01/02/2006"}

// ParseDateOfBirth parses a date of birth from MM/DD/YYYY or YYYY-MM-DD.
// Anything else, including impossible dates like 02/30/1990, fails with a
// ValidationError rather than guessing.
func ParseDateOfBirth(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dobLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ValidationError{Field: "date_of_birth", Reason: "not a valid MM/DD/YYYY or YYYY-MM-DD date"}
}

// NormalizeMention produces the dedup key for a clinical mention: trimmed,
// case-folded, inner whitespace collapsed.
func NormalizeMention(raw string) string {
	fields := strings.FieldsFunc(strings.ToLower(raw), unicode.IsSpace)
	return strings.Join(fields, " ")
}

// normalizedCandidate is a CandidateRecord after boundary normalization:
// canonical phone, cleaned names, parsed date of birth, deduplicated
// mentions. The engine's internal logic only ever sees this shape.
type normalizedCandidate struct {
	phone         string // "" when the candidate carried none
	externalID    string
	firstName     string
	lastName      string
	middleInitial string
	dob           *time.Time
	sex           string
	email         string
	addressLine1  string
	addressLine2  string
	mentions      []ClinicalMention
	sourceTag     string
	sourceTime    time.Time
}

// normalizeCandidate canonicalizes every provided field of a candidate.
// A present-but-invalid phone or date of birth is a ValidationError; absent
// fields stay absent. A missing source tag is also rejected; every
// candidate must say where it came from.
func normalizeCandidate(c CandidateRecord) (*normalizedCandidate, error) {
	if strings.TrimSpace(c.SourceTag) == "" {
		return nil, &ValidationError{Field: "source_tag", Reason: "required"}
	}

	nc := &normalizedCandidate{
		externalID:    strings.TrimSpace(c.SourceExternalID),
		firstName:     CleanName(c.FirstName),
		lastName:      CleanName(c.LastName),
		middleInitial: strings.ToUpper(strings.TrimSpace(c.MiddleInitial)),
		sex:           strings.ToLower(strings.TrimSpace(c.Sex)),
		email:         strings.ToLower(strings.TrimSpace(c.Email)),
		sourceTag:     strings.TrimSpace(c.SourceTag),
		sourceTime:    c.SourceTimestamp,
	}
	if nc.sourceTime.IsZero() {
		nc.sourceTime = time.Now().UTC()
	}

	if strings.TrimSpace(c.SourcePhone) != "" {
		phone, err := NormalizePhone(c.SourcePhone)
		if err != nil {
			return nil, err
		}
		nc.phone = phone
	}

	if strings.TrimSpace(c.DateOfBirth) != "" {
		dob, err := ParseDateOfBirth(c.DateOfBirth)
		if err != nil {
			return nil, err
		}
		nc.dob = &dob
	}

	if len(c.AddressLines) > 0 {
		nc.addressLine1 = strings.TrimSpace(c.AddressLines[0])
	}
	if len(c.AddressLines) > 1 {
		nc.addressLine2 = strings.TrimSpace(c.AddressLines[1])
	}

	nc.mentions = normalizeMentions(c.Clinical, nc.sourceTag, nc.sourceTime)
	return nc, nil
}

// normalizeMentions flattens the per-category collections into deduplicated
// ClinicalMention entries keyed by normalized text.
func normalizeMentions(cm ClinicalMentions, sourceTag string, at time.Time) []ClinicalMention {
	var out []ClinicalMention
	seen := make(map[string]bool)

	add := func(category string, texts []string) {
		for _, raw := range texts {
			text := strings.TrimSpace(raw)
			norm := NormalizeMention(text)
			if norm == "" {
				continue
			}
			key := category + "|" + norm
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, ClinicalMention{
				Category:   category,
				Text:       text,
				Normalized: norm,
				SourceTag:  sourceTag,
				RecordedAt: at,
			})
		}
	}

	add(CategoryCondition, cm.Conditions)
	add(CategoryMedication, cm.Medications)
	add(CategoryAllergy, cm.Allergies)
	return out
}
