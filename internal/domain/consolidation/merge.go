package consolidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MergeEngine builds fresh canonical records for unmatched candidates and
// applies the non-destructive merge policy to matched ones. It assumes it
// runs inside a transaction established by the facade.
type MergeEngine struct {
	patients PatientRepository
	alloc    *Allocator
	now      func() time.Time
}

func NewMergeEngine(patients PatientRepository, alloc *Allocator) *MergeEngine {
	return &MergeEngine{patients: patients, alloc: alloc, now: time.Now}
}

// Create allocates both identifiers, populates every provided field, and
// returns the new patient plus its create event. A candidate without a
// phone cannot create an identity; callers queue it for manual resolution.
// ErrDuplicatePhone passes through untouched so the facade can collapse the
// creation race into a merge.
func (m *MergeEngine) Create(ctx context.Context, nc *normalizedCandidate) (*CanonicalPatient, *MergeEvent, error) {
	if nc.phone == "" {
		return nil, nil, &ValidationError{Field: "source_phone", Reason: "a phone is required to create a new patient"}
	}

	internalID, err := m.alloc.InternalID(ctx)
	if err != nil {
		return nil, nil, err
	}
	accessID, err := m.alloc.AccessID(ctx)
	if err != nil {
		return nil, nil, err
	}

	now := m.now().UTC()
	p := &CanonicalPatient{
		InternalID:      internalID,
		AccessID:        accessID,
		NormalizedPhone: nc.phone,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	diff := applyDemographics(p, nc)
	Rescore(p, now)

	for attempt := 0; ; attempt++ {
		err := m.patients.Create(ctx, p)
		if err == nil {
			break
		}
		// The in-use check and the insert are not atomic; a concurrent
		// creation can claim the code in between. A fresh code closes the
		// window.
		if errors.Is(err, ErrDuplicateAccessID) && attempt < 1 {
			code, allocErr := m.alloc.AccessID(ctx)
			if allocErr != nil {
				return nil, nil, allocErr
			}
			p.AccessID = code
			continue
		}
		return nil, nil, err
	}
	if len(nc.mentions) > 0 {
		if err := m.patients.AddMentions(ctx, p.InternalID, nc.mentions); err != nil {
			return nil, nil, fmt.Errorf("store mentions: %w", err)
		}
		p.Mentions = nc.mentions
	}

	event := &MergeEvent{
		ID:            uuid.New(),
		PatientID:     p.InternalID,
		EventType:     EventCreate,
		SourceTag:     nc.sourceTag,
		FieldsChanged: diff,
		CreatedAt:     now,
	}
	return p, event, nil
}

// Merge re-reads the matched patient under a row lock, fills demographic
// gaps, refreshes the external ID, unions clinical mentions, and returns
// the updated patient plus its merge event. A name mismatch on a phone
// match downgrades nothing; the merge proceeds with the event flagged for
// manual review instead.
func (m *MergeEngine) Merge(ctx context.Context, internalID string, nc *normalizedCandidate) (*CanonicalPatient, *MergeEvent, error) {
	p, err := m.patients.GetByInternalIDForUpdate(ctx, internalID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock patient %s: %w", internalID, err)
	}

	eventType := EventMerge
	var conflicts []FieldConflict
	if nc.phone != "" && nc.phone == p.NormalizedPhone {
		if c, ok := nameConflict(p, nc); ok {
			eventType = EventConflictFlagged
			conflicts = append(conflicts, c)
		}
	}

	diff := applyDemographics(p, nc)

	if err := m.mergeMentions(ctx, p, nc.mentions); err != nil {
		return nil, nil, err
	}

	now := m.now().UTC()
	p.UpdatedAt = now
	Rescore(p, now)
	if err := m.patients.Update(ctx, p); err != nil {
		return nil, nil, fmt.Errorf("update patient %s: %w", p.InternalID, err)
	}

	event := &MergeEvent{
		ID:            uuid.New(),
		PatientID:     p.InternalID,
		EventType:     eventType,
		SourceTag:     nc.sourceTag,
		FieldsChanged: diff,
		Conflicts:     conflicts,
		CreatedAt:     now,
	}
	return p, event, nil
}

// mergeMentions unions candidate mentions into the patient's append-only
// clinical collections, keyed by (category, normalized text). Existing
// entries are never touched.
func (m *MergeEngine) mergeMentions(ctx context.Context, p *CanonicalPatient, incoming []ClinicalMention) error {
	existing, err := m.patients.GetMentions(ctx, p.InternalID)
	if err != nil {
		return fmt.Errorf("load mentions: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, mention := range existing {
		have[mention.Category+"|"+mention.Normalized] = true
	}

	var fresh []ClinicalMention
	for _, mention := range incoming {
		if have[mention.Category+"|"+mention.Normalized] {
			continue
		}
		fresh = append(fresh, mention)
	}
	if len(fresh) > 0 {
		if err := m.patients.AddMentions(ctx, p.InternalID, fresh); err != nil {
			return fmt.Errorf("store mentions: %w", err)
		}
	}
	p.Mentions = append(existing, fresh...)
	return nil
}
