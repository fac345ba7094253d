package consolidation

import (
	"time"

	"github.com/google/uuid"
)

// Source tags identify the ingestion channel that produced a candidate.
const (
	SourceExternalImport   = "external-import"
	SourceDictation        = "dictation"
	SourceScheduleImport   = "schedule-import"
	SourceSelfRegistration = "self-registration"
)

// Clinical mention categories.
const (
	CategoryCondition  = "condition"
	CategoryMedication = "medication"
	CategoryAllergy    = "allergy"
)

// CandidateRecord is a partial, unvalidated patient-data submission from one
// ingestion source. Everything except SourceTag and SourceTimestamp is
// optional; partial data is the norm. It is never persisted as-is.
type CandidateRecord struct {
	SourcePhone      string           `json:"source_phone,omitempty"`
	SourceExternalID string           `json:"source_external_id,omitempty"`
	FirstName        string           `json:"first_name,omitempty"`
	LastName         string           `json:"last_name,omitempty"`
	MiddleInitial    string           `json:"middle_initial,omitempty"`
	DateOfBirth      string           `json:"date_of_birth,omitempty"` // MM/DD/YYYY or YYYY-MM-DD
	Sex              string           `json:"sex,omitempty"`
	Email            string           `json:"email,omitempty"`
	AddressLines     []string         `json:"address_lines,omitempty"`
	Clinical         ClinicalMentions `json:"clinical_mentions,omitempty"`
	SourceTag        string           `json:"source_tag"`
	SourceTimestamp  time.Time        `json:"source_timestamp"`
}

// ClinicalMentions groups free-text clinical collections by category.
type ClinicalMentions struct {
	Conditions  []string `json:"conditions,omitempty"`
	Medications []string `json:"medications,omitempty"`
	Allergies   []string `json:"allergies,omitempty"`
}

// ClinicalMention is one persisted, deduplicated clinical entry on a
// canonical patient, tagged with the source that contributed it.
type ClinicalMention struct {
	Category   string    `db:"category" json:"category"`
	Text       string    `db:"text" json:"text"`
	Normalized string    `db:"normalized_text" json:"-"`
	SourceTag  string    `db:"source_tag" json:"source_tag"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// CanonicalPatient is the single, persisted, merged representation of one
// real person. InternalID is assigned exactly once at creation and never
// changes; AccessID may be reset; NormalizedPhone is the primary matching
// key and is unique among active patients.
type CanonicalPatient struct {
	InternalID      string     `db:"internal_id" json:"internal_id"`
	AccessID        string     `db:"access_id" json:"access_id"`
	ExternalID      *string    `db:"external_id" json:"external_id,omitempty"`
	NormalizedPhone string     `db:"normalized_phone" json:"normalized_phone"`
	FirstName       *string    `db:"first_name" json:"first_name,omitempty"`
	LastName        *string    `db:"last_name" json:"last_name,omitempty"`
	MiddleInitial   *string    `db:"middle_initial" json:"middle_initial,omitempty"`
	DateOfBirth     *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Sex             *string    `db:"sex" json:"sex,omitempty"`
	Email           *string    `db:"email" json:"email,omitempty"`
	AddressLine1    *string    `db:"address_line1" json:"address_line1,omitempty"`
	AddressLine2    *string    `db:"address_line2" json:"address_line2,omitempty"`
	Active          bool       `db:"active" json:"active"`

	// Derived fields, recomputed on every mutation.
	FullName          string  `db:"full_name" json:"full_name"`
	Age               *int    `db:"age" json:"age,omitempty"`
	CompletenessScore float64 `db:"completeness_score" json:"completeness_score"`

	Mentions []ClinicalMention `db:"-" json:"clinical_mentions,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Merge event types.
const (
	EventCreate          = "create"
	EventMerge           = "merge"
	EventIdentifierReset = "identifier-reset"
	EventConflictFlagged = "conflict-flagged"
)

// FieldChange records the before/after values of one demographic field.
type FieldChange struct {
	Before *string `json:"before"`
	After  *string `json:"after"`
}

// FieldConflict records a secondary mismatch (e.g. a name) that was noticed
// during a merge whose primary key still matched.
type FieldConflict struct {
	Field    string `json:"field"`
	Current  string `json:"current"`
	Incoming string `json:"incoming"`
}

// MergeEvent is one immutable audit-trail entry. Rows are append-only; no
// update or delete path exists for them anywhere in this codebase.
type MergeEvent struct {
	ID            uuid.UUID              `db:"id" json:"id"`
	PatientID     string                 `db:"patient_id" json:"patient_id"`
	EventType     string                 `db:"event_type" json:"event_type"`
	SourceTag     string                 `db:"source_tag" json:"source_tag"`
	Actor         *string                `db:"actor" json:"actor,omitempty"`
	FieldsChanged map[string]FieldChange `db:"fields_changed" json:"fields_changed,omitempty"`
	Conflicts     []FieldConflict        `db:"conflicts" json:"conflicts,omitempty"`
	CreatedAt     time.Time              `db:"created_at" json:"created_at"`
}
