package consolidation

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// maxAccessIDAttempts bounds access-ID generation. Exhausting it means the
// active-code space is close to saturated, which is an operational problem,
// not a retry-harder problem.
const maxAccessIDAttempts = 5

// Allocator produces the two identifiers a new patient needs. Internal-ID
// uniqueness comes from the store's atomic year-scoped counter; access-ID
// uniqueness from generate-and-check with a bounded retry.
type Allocator struct {
	patients PatientRepository
	now      func() time.Time
}

func NewAllocator(patients PatientRepository) *Allocator {
	return &Allocator{patients: patients, now: time.Now}
}

// InternalID allocates a permanent, sequential, year-scoped identifier:
// 4-digit year followed by a zero-padded per-year counter, e.g. "20260001".
// Safe under arbitrary concurrent invocation; the counter increment is
// atomic in the store.
func (a *Allocator) InternalID(ctx context.Context) (string, error) {
	year := a.now().UTC().Year()
	seq, err := a.patients.NextSequence(ctx, year)
	if err != nil {
		return "", fmt.Errorf("allocate internal id: %w", err)
	}
	return fmt.Sprintf("%04d%04d", year, seq), nil
}

// AccessID allocates a random, human-copyable code for patient-facing
// lookup, unique among active patients. Collisions trigger regeneration up
// to maxAccessIDAttempts before AllocationExhaustedError.
func (a *Allocator) AccessID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxAccessIDAttempts; attempt++ {
		code, err := randomAccessID()
		if err != nil {
			return "", fmt.Errorf("generate access id: %w", err)
		}
		inUse, err := a.patients.AccessIDInUse(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check access id: %w", err)
		}
		if !inUse {
			return code, nil
		}
	}
	return "", &AllocationExhaustedError{Attempts: maxAccessIDAttempts}
}

// randomAccessID draws 9 digits from crypto/rand, grouped XXX-XXX-XXX so the
// code survives being read over the phone.
func randomAccessID() (string, error) {
	digits := make([]byte, 9)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return fmt.Sprintf("%s-%s-%s", digits[0:3], digits[3:6], digits[6:9]), nil
}
