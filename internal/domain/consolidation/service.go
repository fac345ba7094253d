package consolidation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// maxCreateAttempts bounds the create-race retry loop: resolve, try to
	// create, and on a phone-uniqueness collision re-resolve (the winner's
	// row is now visible) and merge instead.
	maxCreateAttempts = 3

	// maxTransientRetries bounds retries of transient store failures
	// (connection loss, serialization conflicts) per facade call.
	maxTransientRetries = 3

	transientBackoffBase = 25 * time.Millisecond
)

// Service is the consolidation facade: the single entry point ingestion
// adapters call. Each call runs resolver, merge engine, scorer, and audit
// writer inside one store transaction, so the canonical record and its
// audit event are durable together or not at all.
type Service struct {
	store    Store
	resolver *Resolver
	engine   *MergeEngine
	audit    *AuditWriter
	log      zerolog.Logger
}

func NewService(store Store, log zerolog.Logger) *Service {
	patients := store.Patients()
	alloc := NewAllocator(patients)
	return &Service{
		store:    store,
		resolver: NewResolver(patients),
		engine:   NewMergeEngine(patients, alloc),
		audit:    NewAuditWriter(store.Events(), log),
		log:      log,
	}
}

// ResolveAndMerge consolidates one candidate into the canonical store:
// an existing patient is merged into non-destructively, an unmatched
// candidate with a phone becomes a new patient, and a lost creation race
// collapses into a merge against the winner's record.
func (s *Service) ResolveAndMerge(ctx context.Context, cand CandidateRecord) (*CanonicalPatient, error) {
	nc, err := normalizeCandidate(cand)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		patient, eventType, err := s.attempt(ctx, nc)
		if errors.Is(err, ErrDuplicatePhone) {
			// Another caller created the patient between our resolve and our
			// insert. Re-resolving will find it and we merge instead.
			s.log.Debug().Str("phone", nc.phone).Int("attempt", attempt+1).
				Msg("creation race lost; re-resolving")
			continue
		}
		if err != nil {
			return nil, err
		}
		s.log.Info().
			Str("patient_id", patient.InternalID).
			Str("event_type", eventType).
			Str("source_tag", nc.sourceTag).
			Msg("candidate consolidated")
		return patient, nil
	}
	return nil, &ConcurrencyExhaustedError{Attempts: maxCreateAttempts}
}

// attempt runs one resolve-then-create-or-merge transaction.
func (s *Service) attempt(ctx context.Context, nc *normalizedCandidate) (*CanonicalPatient, string, error) {
	var (
		patient   *CanonicalPatient
		eventType string
	)
	err := s.inTxRetry(ctx, func(ctx context.Context) error {
		match, err := s.resolver.Resolve(ctx, nc)
		if err != nil {
			return err
		}

		var event *MergeEvent
		if match == nil {
			patient, event, err = s.engine.Create(ctx, nc)
		} else {
			patient, event, err = s.engine.Merge(ctx, match.InternalID, nc)
		}
		if err != nil {
			return err
		}
		eventType = event.EventType
		return s.audit.Record(ctx, event)
	})
	if err != nil {
		return nil, "", err
	}
	return patient, eventType, nil
}

// ResetAccessID invalidates a patient's current access ID and allocates a
// fresh one. The internal ID and all clinical data are untouched; the swap
// is recorded as an identifier-reset audit event attributed to actor.
func (s *Service) ResetAccessID(ctx context.Context, internalID, actor string) (string, error) {
	if internalID == "" {
		return "", &ValidationError{Field: "internal_id", Reason: "required"}
	}

	var newAccessID string
	err := s.inTxRetry(ctx, func(ctx context.Context) error {
		patients := s.store.Patients()
		p, err := patients.GetByInternalIDForUpdate(ctx, internalID)
		if err != nil {
			return err
		}

		alloc := NewAllocator(patients)
		code, err := alloc.AccessID(ctx)
		if err != nil {
			return err
		}

		old := p.AccessID
		p.AccessID = code
		now := time.Now().UTC()
		p.UpdatedAt = now
		Rescore(p, now)
		if err := patients.Update(ctx, p); err != nil {
			return fmt.Errorf("update patient %s: %w", internalID, err)
		}

		event := &MergeEvent{
			ID:        uuid.New(),
			PatientID: p.InternalID,
			EventType: EventIdentifierReset,
			SourceTag: "manual",
			Actor:     strPtr(actor),
			FieldsChanged: map[string]FieldChange{
				"access_id": {Before: strPtr(old), After: strPtr(code)},
			},
			CreatedAt: now,
		}
		if err := s.audit.Record(ctx, event); err != nil {
			return err
		}
		newAccessID = code
		return nil
	})
	if err != nil {
		return "", err
	}
	s.log.Info().Str("patient_id", internalID).Str("actor", actor).Msg("access id reset")
	return newAccessID, nil
}

// LookupByAccessID finds the active patient a self-service code belongs to.
// A reset code stops resolving immediately.
func (s *Service) LookupByAccessID(ctx context.Context, accessID string) (*CanonicalPatient, error) {
	return s.loadWithMentions(ctx, func(ctx context.Context) (*CanonicalPatient, error) {
		return s.store.Patients().FindActiveByAccessID(ctx, accessID)
	})
}

// GetPatient fetches one canonical record by internal ID, mentions included.
func (s *Service) GetPatient(ctx context.Context, internalID string) (*CanonicalPatient, error) {
	return s.loadWithMentions(ctx, func(ctx context.Context) (*CanonicalPatient, error) {
		return s.store.Patients().GetByInternalID(ctx, internalID)
	})
}

// ListEvents returns a page of the patient's audit trail, newest first.
func (s *Service) ListEvents(ctx context.Context, internalID string, limit, offset int) ([]*MergeEvent, int, error) {
	return s.store.Events().ListByPatient(ctx, internalID, limit, offset)
}

func (s *Service) loadWithMentions(ctx context.Context, get func(context.Context) (*CanonicalPatient, error)) (*CanonicalPatient, error) {
	p, err := get(ctx)
	if err != nil {
		return nil, err
	}
	mentions, err := s.store.Patients().GetMentions(ctx, p.InternalID)
	if err != nil {
		return nil, err
	}
	p.Mentions = mentions
	return p, nil
}

// BatchRowResult is the outcome of one row of a batch submission.
type BatchRowResult struct {
	Index      int    `json:"index"`
	InternalID string `json:"internal_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BatchResult summarizes a batch submission.
type BatchResult struct {
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Rows      []BatchRowResult `json:"rows"`
}

// ProcessBatch consolidates many candidates with partial-failure semantics:
// a bad row is recorded and the batch continues. A thousand-row import
// never fails wholesale over one malformed entry. Rows run concurrently up
// to workers; context cancellation stops scheduling new rows.
func (s *Service) ProcessBatch(ctx context.Context, cands []CandidateRecord, workers int) *BatchResult {
	if workers < 1 {
		workers = 1
	}
	result := &BatchResult{Rows: make([]BatchRowResult, len(cands))}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, cand := range cands {
		i, cand := i, cand
		g.Go(func() error {
			row := BatchRowResult{Index: i}
			p, err := s.ResolveAndMerge(ctx, cand)
			if err != nil {
				row.Error = err.Error()
				s.log.Warn().Int("row", i).Err(err).Msg("batch row failed")
			} else {
				row.InternalID = p.InternalID
			}

			mu.Lock()
			result.Rows[i] = row
			if err != nil {
				result.Failed++
			} else {
				result.Succeeded++
			}
			mu.Unlock()
			// Row errors never abort the batch.
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// inTxRetry wraps a transactional unit with bounded exponential backoff on
// transient store failures. Non-transient errors surface immediately.
func (s *Service) inTxRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = s.store.InTx(ctx, fn)
		if err == nil || !IsTransient(err) || attempt >= maxTransientRetries {
			return err
		}
		backoff := transientBackoffBase << attempt
		s.log.Warn().Err(err).Dur("backoff", backoff).Msg("transient store failure; retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
