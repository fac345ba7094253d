package consolidation

import (
	"testing"
	"time"
)

func TestRescore_Completeness(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	dob := time.Date(1990, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		p    CanonicalPatient
		want float64
	}{
		{
			name: "empty record",
			p:    CanonicalPatient{},
			want: 0,
		},
		{
			// Phone satisfies both the phone field and the contact method.
			name: "phone only",
			p:    CanonicalPatient{NormalizedPhone: "5551234567"},
			want: 2.0 / 6.0,
		},
		{
			name: "first name without last does not count",
			p:    CanonicalPatient{FirstName: strPtr("Jane")},
			want: 0,
		},
		{
			name: "fully populated",
			p: CanonicalPatient{
				NormalizedPhone: "5551234567",
				FirstName:       strPtr("Jane"),
				LastName:        strPtr("Doe"),
				DateOfBirth:     &dob,
				Sex:             strPtr("f"),
				Email:           strPtr("jane@example.com"),
				AddressLine1:    strPtr("12 Main St"),
			},
			want: 1,
		},
		{
			name: "email counts as contact without phone",
			p:    CanonicalPatient{Email: strPtr("jane@example.com")},
			want: 1.0 / 6.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Rescore(&tt.p, now)
			if tt.p.CompletenessScore != tt.want {
				t.Errorf("score = %v, want %v", tt.p.CompletenessScore, tt.want)
			}
		})
	}
}

func TestRescore_MonotonicAcrossFills(t *testing.T) {
	now := time.Now().UTC()
	p := &CanonicalPatient{NormalizedPhone: "5551234567"}
	Rescore(p, now)
	prev := p.CompletenessScore

	p.FirstName = strPtr("Jane")
	p.LastName = strPtr("Doe")
	Rescore(p, now)
	if p.CompletenessScore < prev {
		t.Fatalf("score decreased: %v -> %v", prev, p.CompletenessScore)
	}
	prev = p.CompletenessScore

	p.AddressLine1 = strPtr("12 Main St")
	Rescore(p, now)
	if p.CompletenessScore < prev {
		t.Fatalf("score decreased: %v -> %v", prev, p.CompletenessScore)
	}
}

func TestBuildFullName(t *testing.T) {
	tests := []struct {
		name string
		p    CanonicalPatient
		want string
	}{
		{"full", CanonicalPatient{FirstName: strPtr("Jane"), MiddleInitial: strPtr("Q"), LastName: strPtr("Doe")}, "Jane Q. Doe"},
		{"no middle", CanonicalPatient{FirstName: strPtr("Jane"), LastName: strPtr("Doe")}, "Jane Doe"},
		{"first only", CanonicalPatient{FirstName: strPtr("Jane")}, "Jane"},
		{"empty", CanonicalPatient{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildFullName(&tt.p); got != tt.want {
				t.Errorf("buildFullName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAgeAt(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	birthday := time.Date(1990, 3, 15, 0, 0, 0, 0, time.UTC)
	if got := ageAt(&birthday, now); got == nil || *got != 36 {
		t.Errorf("ageAt past birthday = %v, want 36", got)
	}

	notYet := time.Date(1990, 11, 20, 0, 0, 0, 0, time.UTC)
	if got := ageAt(&notYet, now); got == nil || *got != 35 {
		t.Errorf("ageAt before birthday = %v, want 35", got)
	}

	if got := ageAt(nil, now); got != nil {
		t.Errorf("ageAt(nil) = %v, want nil", got)
	}

	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := ageAt(&future, now); got == nil || *got != 0 {
		t.Errorf("ageAt future dob = %v, want 0", got)
	}
}
