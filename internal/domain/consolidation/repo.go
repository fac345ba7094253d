package consolidation

import "context"

// PatientRepository is the persistence surface for canonical patients.
// Lookups that match nothing return ErrNotFound. Create translates an
// active-phone uniqueness violation to ErrDuplicatePhone and an access-ID
// violation to ErrDuplicateAccessID.
type PatientRepository interface {
	Create(ctx context.Context, p *CanonicalPatient) error
	Update(ctx context.Context, p *CanonicalPatient) error

	GetByInternalID(ctx context.Context, internalID string) (*CanonicalPatient, error)
	// GetByInternalIDForUpdate locks the patient row for the duration of the
	// surrounding transaction so concurrent merges against the same patient
	// serialize instead of clobbering each other's fill-gap writes.
	GetByInternalIDForUpdate(ctx context.Context, internalID string) (*CanonicalPatient, error)
	FindActiveByPhone(ctx context.Context, phone string) (*CanonicalPatient, error)
	FindActiveByExternalID(ctx context.Context, externalID string) (*CanonicalPatient, error)
	FindActiveByAccessID(ctx context.Context, accessID string) (*CanonicalPatient, error)
	AccessIDInUse(ctx context.Context, accessID string) (bool, error)

	// NextSequence atomically increments and returns the year-scoped
	// internal-ID counter. Values are never reused, even for patients that
	// are later deactivated.
	NextSequence(ctx context.Context, year int) (int64, error)

	// AddMentions appends clinical mentions, silently skipping entries whose
	// (category, normalized text) pair the patient already has. Mentions are
	// never removed.
	AddMentions(ctx context.Context, internalID string, mentions []ClinicalMention) error
	GetMentions(ctx context.Context, internalID string) ([]ClinicalMention, error)
}

// EventRepository is the append-only audit trail. There is deliberately no
// update or delete operation.
type EventRepository interface {
	Append(ctx context.Context, e *MergeEvent) error
	ListByPatient(ctx context.Context, internalID string, limit, offset int) ([]*MergeEvent, int, error)
}

// Store bundles the repositories with transactional execution. InTx runs fn
// so that either every write inside it is durable or none is; repositories
// invoked with the ctx passed to fn participate in that transaction.
type Store interface {
	Patients() PatientRepository
	Events() EventRepository
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
