package consolidation

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"formatted", "(555) 123-4567", "5551234567", false},
		{"dotted", "555.123.4567", "5551234567", false},
		{"plain digits", "5551234567", "5551234567", false},
		{"nanp trunk prefix", "1-555-123-4567", "5551234567", false},
		{"plus one", "+1 (555) 123-4567", "5551234567", false},
		{"eleven digits no leading one", "25551234567", "25551234567", false},
		{"too short", "123-4567", "", true},
		{"empty", "", "", true},
		{"letters only", "call me", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizePhone(%q) expected error, got %q", tt.input, got)
				}
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("expected ValidationError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizePhone(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("NormalizePhone(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizePhone_EquivalentFormsAgree(t *testing.T) {
	forms := []string{"(555) 123-4567", "555.123.4567", "5551234567", "1-555-123-4567"}
	first, err := NormalizePhone(forms[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range forms[1:] {
		got, err := NormalizePhone(f)
		if err != nil {
			t.Fatalf("NormalizePhone(%q) error: %v", f, err)
		}
		if got != first {
			t.Errorf("NormalizePhone(%q) = %q, want %q", f, got, first)
		}
	}
}

func TestParseDateOfBirth(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"iso", "1990-03-15", "1990-03-15", false},
		{"us", "03/15/1990", "1990-03-15", false},
		{"padded", "  1990-03-15 ", "1990-03-15", false},
		{"impossible date", "02/30/1990", "", true},
		{"wrong separator", "15.03.1990", "", true},
		{"garbage", "not a date", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDateOfBirth(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDateOfBirth(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDateOfBirth(%q) error: %v", tt.input, err)
			}
			if got.Format("2006-01-02") != tt.want {
				t.Errorf("ParseDateOfBirth(%q) = %s, want %s", tt.input, got.Format("2006-01-02"), tt.want)
			}
		})
	}
}

func TestCleanName(t *testing.T) {
	if got := CleanName("  Mary   Anne  "); got != "Mary Anne" {
		t.Errorf("CleanName = %q, want %q", got, "Mary Anne")
	}
	if got := CleanName(""); got != "" {
		t.Errorf("CleanName(empty) = %q", got)
	}
}

func TestFoldName(t *testing.T) {
	if FoldName("  MARY  smith ") != FoldName("mary Smith") {
		t.Error("expected folded names to compare equal")
	}
}

func TestNormalizeMention(t *testing.T) {
	if got := NormalizeMention("  Type 2   DIABETES "); got != "type 2 diabetes" {
		t.Errorf("NormalizeMention = %q", got)
	}
}

func TestNormalizeCandidate_RequiresSourceTag(t *testing.T) {
	_, err := normalizeCandidate(CandidateRecord{SourcePhone: "5551234567"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if vErr.Field != "source_tag" {
		t.Errorf("expected source_tag field, got %s", vErr.Field)
	}
}

func TestNormalizeCandidate_InvalidPhoneRejected(t *testing.T) {
	_, err := normalizeCandidate(CandidateRecord{
		SourcePhone: "123",
		SourceTag:   SourceDictation,
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestNormalizeCandidate_AbsentFieldsStayAbsent(t *testing.T) {
	nc, err := normalizeCandidate(CandidateRecord{
		SourceExternalID: "EXT-1",
		SourceTag:        SourceExternalImport,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nc.phone != "" {
		t.Errorf("expected empty phone, got %q", nc.phone)
	}
	if nc.dob != nil {
		t.Error("expected nil dob")
	}
	if nc.externalID != "EXT-1" {
		t.Errorf("expected external id EXT-1, got %q", nc.externalID)
	}
}

func TestNormalizeCandidate_DedupsMentions(t *testing.T) {
	nc, err := normalizeCandidate(CandidateRecord{
		SourcePhone: "5551234567",
		SourceTag:   SourceDictation,
		Clinical: ClinicalMentions{
			Conditions:  []string{"Hypertension", " HYPERTENSION ", "Asthma"},
			Medications: []string{"Lisinopril 10mg"},
			Allergies:   []string{"Penicillin", "penicillin"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	counts := map[string]int{}
	for _, m := range nc.mentions {
		counts[m.Category]++
	}
	if counts[CategoryCondition] != 2 {
		t.Errorf("expected 2 conditions, got %d", counts[CategoryCondition])
	}
	if counts[CategoryMedication] != 1 {
		t.Errorf("expected 1 medication, got %d", counts[CategoryMedication])
	}
	if counts[CategoryAllergy] != 1 {
		t.Errorf("expected 1 allergy, got %d", counts[CategoryAllergy])
	}
}

func TestNormalizeCandidate_DefaultsSourceTime(t *testing.T) {
	nc, err := normalizeCandidate(CandidateRecord{
		SourcePhone: "5551234567",
		SourceTag:   SourceSelfRegistration,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nc.sourceTime.IsZero() {
		t.Error("expected source time to be defaulted")
	}
	if time.Since(nc.sourceTime) > time.Minute {
		t.Error("expected source time close to now")
	}
}

func TestNormalizeCandidate_AddressLines(t *testing.T) {
	nc, err := normalizeCandidate(CandidateRecord{
		SourcePhone:  "5551234567",
		SourceTag:    SourceScheduleImport,
		AddressLines: []string{" 12 Main St ", "Apt 4B", "ignored third line"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nc.addressLine1 != "12 Main St" {
		t.Errorf("address line 1 = %q", nc.addressLine1)
	}
	if nc.addressLine2 != "Apt 4B" {
		t.Errorf("address line 2 = %q", nc.addressLine2)
	}
}
