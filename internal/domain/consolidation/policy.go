package consolidation

// fieldPolicy is the merge behavior for one demographic field.
type fieldPolicy int

const (
	// policyFillOnly writes the incoming value only when the canonical field
	// is currently empty. Populated demographics are never overwritten by
	// the automatic merge path.
	policyFillOnly fieldPolicy = iota
	// policyAlwaysRefresh overwrites whenever the candidate supplies a
	// value. Reserved for identifiers owned by an authoritative external
	// system.
	policyAlwaysRefresh
)

const dobWireFormat = "2006-01-02"

// fieldRule binds one demographic field to its merge policy. incoming and
// current expose the candidate/canonical values as (string, present) pairs
// so the same table drives both the merge and the before/after diff;
// assign performs the actual typed write.
type fieldRule struct {
	name     string
	policy   fieldPolicy
	incoming func(nc *normalizedCandidate) (string, bool)
	current  func(p *CanonicalPatient) (string, bool)
	assign   func(p *CanonicalPatient, nc *normalizedCandidate)
}

func strField(v string) (string, bool) { return v, v != "" }

func ptrField(v *string) (string, bool) {
	if v == nil || *v == "" {
		return "", false
	}
	return *v, true
}

func setPtr(dst **string, v string) {
	val := v
	*dst = &val
}

// demographicRules is the declarative merge policy. Every rule except
// external_id is fill-only; external IDs are expected to be corrected by
// the external system over time, unlike patient-entered demographics, so
// each import refreshes them.
var demographicRules = []fieldRule{
	{
		name:     "first_name",
		policy:   policyFillOnly,
		incoming: func(nc *normalizedCandidate) (string, bool) { return strField(nc.firstName) },
		current:  func(p *CanonicalPatient) (string, bool) { return ptrField(p.FirstName) },
		assign:   func(p *CanonicalPatient, nc *normalizedCandidate) { setPtr(&p.FirstName, nc.firstName) },
	},
	{
		name:     "last_name",
		policy:   policyFillOnly,
		incoming: func(nc *normalizedCandidate) (string, bool) { return strField(nc.lastName) },
		current:  func(p *CanonicalPatient) (string, bool) { return ptrField(p.LastName) },
		assign:   func(p *CanonicalPatient, nc *normalizedCandidate) { setPtr(&p.LastName, nc.lastName) },
	},
	{
		name:     "middle_initial",
		policy:   policyFillOnly,
		incoming: func(nc *normalizedCandidate) (string, bool) { return strField(nc.middleInitial) },
		current:  func(p *CanonicalPatient) (string, bool) { return ptrField(p.MiddleInitial) },
		assign:   func(p *CanonicalPatient, nc *normalizedCandidate) { setPtr(&p.MiddleInitial, nc.middleInitial) },
	},
	{
		name:   "date_of_birth",
		policy: policyFillOnly,
		incoming: func(nc *normalizedCandidate) (string, bool) {
			if nc.dob == nil {
				return "", false
			}
			return nc.dob.Format(dobWireFormat), true
		},
		current: func(p *CanonicalPatient) (string, bool) {
			if p.DateOfBirth == nil {
				return "", false
			}
			return p.DateOfBirth.Format(dobWireFormat), true
		},
		assign: func(p *CanonicalPatient, nc *normalizedCandidate) {
			dob := *nc.dob
			p.DateOfBirth = &dob
		},
	},
	{
		name:     "sex",
		policy:   policyFillOnly,
		incoming: func(nc *normalizedCandidate) (string, bool) { return strField(nc.sex) },
		current:  func(p *CanonicalPatient) (string, bool) { return ptrField(p.Sex) },
		assign:   func(p *CanonicalPatient, nc *normalizedCandidate) { setPtr(&p.Sex, nc.sex) },
	},
	{
		name:     "email",
		policy:   policyFillOnly,
		incoming: func(nc *normalizedCandidate) (string, bool) { return strField(nc.email) },
		current:  func(p *CanonicalPatient) (string, bool) { return ptrField(p.Email) },
		assign:   func(p *CanonicalPatient, nc *normalizedCandidate) { setPtr(&p.Email, nc.email) },
	},
	{
		name:     "address_line1",
		policy:   policyFillOnly,
		incoming: func(nc *normalizedCandidate) (string, bool) { return strField(nc.addressLine1) },
		current:  func(p *CanonicalPatient) (string, bool) { return ptrField(p.AddressLine1) },
		assign:   func(p *CanonicalPatient, nc *normalizedCandidate) { setPtr(&p.AddressLine1, nc.addressLine1) },
	},
	{
		name:     "address_line2",
		policy:   policyFillOnly,
		incoming: func(nc *normalizedCandidate) (string, bool) { return strField(nc.addressLine2) },
		current:  func(p *CanonicalPatient) (string, bool) { return ptrField(p.AddressLine2) },
		assign:   func(p *CanonicalPatient, nc *normalizedCandidate) { setPtr(&p.AddressLine2, nc.addressLine2) },
	},
	{
		name:     "external_id",
		policy:   policyAlwaysRefresh,
		incoming: func(nc *normalizedCandidate) (string, bool) { return strField(nc.externalID) },
		current:  func(p *CanonicalPatient) (string, bool) { return ptrField(p.ExternalID) },
		assign:   func(p *CanonicalPatient, nc *normalizedCandidate) { setPtr(&p.ExternalID, nc.externalID) },
	},
}

// applyDemographics runs the merge rule table against a canonical patient
// and returns the field-level diff of what actually changed.
func applyDemographics(p *CanonicalPatient, nc *normalizedCandidate) map[string]FieldChange {
	diff := make(map[string]FieldChange)
	for _, rule := range demographicRules {
		incoming, has := rule.incoming(nc)
		if !has {
			continue
		}
		before, populated := rule.current(p)
		switch rule.policy {
		case policyFillOnly:
			if populated {
				continue
			}
		case policyAlwaysRefresh:
			if populated && before == incoming {
				continue
			}
		}
		rule.assign(p, nc)
		change := FieldChange{After: strPtr(incoming)}
		if populated {
			change.Before = strPtr(before)
		}
		diff[rule.name] = change
	}
	return diff
}

// nameConflict reports whether a phone-matched candidate carries a name
// that differs from the canonical one beyond case and whitespace. Parts are
// compared individually and only when both sides supply them: a candidate
// carrying just a first name that agrees with the canonical first name is
// not a conflict, even though it cannot be compared against the last name.
func nameConflict(p *CanonicalPatient, nc *normalizedCandidate) (FieldConflict, bool) {
	differs := func(incoming, current string) bool {
		return incoming != "" && current != "" && FoldName(incoming) != FoldName(current)
	}
	if !differs(nc.firstName, deref(p.FirstName)) && !differs(nc.lastName, deref(p.LastName)) {
		return FieldConflict{}, false
	}
	return FieldConflict{
		Field:    "name",
		Current:  CleanName(deref(p.FirstName) + " " + deref(p.LastName)),
		Incoming: CleanName(nc.firstName + " " + nc.lastName),
	}, true
}

func strPtr(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
