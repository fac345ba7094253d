package consolidation

import (
	"context"
	"errors"
	"fmt"
)

// Resolver decides whether a candidate is an already-known patient. Matching
// is attempted in strict priority order, stopping at the first hit:
//
//  1. exact normalized-phone match against active patients,
//  2. exact external-ID match against active patients,
//  3. no match.
//
// Fuzzy name or date-of-birth matching is deliberately absent: a near-miss
// on spelling must never silently fuse two different people. A missed merge
// leaves a recoverable duplicate; a wrong merge is unrecoverable.
type Resolver struct {
	patients PatientRepository
}

func NewResolver(patients PatientRepository) *Resolver {
	return &Resolver{patients: patients}
}

// Resolve returns the matching canonical patient, or (nil, nil) when the
// candidate matches nobody.
func (r *Resolver) Resolve(ctx context.Context, nc *normalizedCandidate) (*CanonicalPatient, error) {
	if nc.phone != "" {
		p, err := r.patients.FindActiveByPhone(ctx, nc.phone)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("resolve by phone: %w", err)
		}
	}

	if nc.externalID != "" {
		p, err := r.patients.FindActiveByExternalID(ctx, nc.externalID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("resolve by external id: %w", err)
		}
	}

	return nil, nil
}
