package consolidation

import (
	"context"
	"errors"
	"testing"
)

func TestMemStore_UpdateUnknownPatient(t *testing.T) {
	store := NewMemStore()
	err := store.Patients().Update(context.Background(), &CanonicalPatient{InternalID: "20269999"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_CreateDuplicateActivePhone(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	seedPatient(t, store, &CanonicalPatient{
		InternalID:      "20260001",
		AccessID:        "111-222-333",
		NormalizedPhone: "5551234567",
	})

	err := store.Patients().Create(ctx, &CanonicalPatient{
		InternalID:      "20260002",
		AccessID:        "444-555-666",
		NormalizedPhone: "5551234567",
		Active:          true,
	})
	if !errors.Is(err, ErrDuplicatePhone) {
		t.Fatalf("expected ErrDuplicatePhone, got %v", err)
	}
}

func TestMemStore_CreateDuplicateActiveAccessID(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	seedPatient(t, store, &CanonicalPatient{
		InternalID:      "20260001",
		AccessID:        "111-222-333",
		NormalizedPhone: "5551234567",
	})

	err := store.Patients().Create(ctx, &CanonicalPatient{
		InternalID:      "20260002",
		AccessID:        "111-222-333",
		NormalizedPhone: "5559990000",
		Active:          true,
	})
	if !errors.Is(err, ErrDuplicateAccessID) {
		t.Fatalf("expected ErrDuplicateAccessID, got %v", err)
	}
}
