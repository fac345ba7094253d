package consolidation

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store with the same uniqueness and transaction
// semantics the PostgreSQL store gets from its schema. Transactions are
// serialized and snapshot-rollback, so a failed unit leaves no partial
// state. Used by tests and local development.
type MemStore struct {
	mu        sync.RWMutex
	txMu      sync.Mutex
	patients  map[string]*CanonicalPatient       // by internal ID
	mentions  map[string][]ClinicalMention       // by internal ID
	sequences map[int]int64                      // by year
	events    []*MergeEvent

	patientRepo *memPatientRepo
	eventRepo   *memEventRepo
}

func NewMemStore() *MemStore {
	s := &MemStore{
		patients:  make(map[string]*CanonicalPatient),
		mentions:  make(map[string][]ClinicalMention),
		sequences: make(map[int]int64),
	}
	s.patientRepo = &memPatientRepo{store: s}
	s.eventRepo = &memEventRepo{store: s}
	return s
}

func (s *MemStore) Patients() PatientRepository { return s.patientRepo }
func (s *MemStore) Events() EventRepository     { return s.eventRepo }

// InTx serializes transactional units and rolls state back when fn fails.
func (s *MemStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	patients  map[string]*CanonicalPatient
	mentions  map[string][]ClinicalMention
	sequences map[int]int64
	events    []*MergeEvent
}

func (s *MemStore) snapshot() memSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := memSnapshot{
		patients:  make(map[string]*CanonicalPatient, len(s.patients)),
		mentions:  make(map[string][]ClinicalMention, len(s.mentions)),
		sequences: make(map[int]int64, len(s.sequences)),
		events:    append([]*MergeEvent(nil), s.events...),
	}
	for id, p := range s.patients {
		snap.patients[id] = clonePatient(p)
	}
	for id, ms := range s.mentions {
		snap.mentions[id] = append([]ClinicalMention(nil), ms...)
	}
	for y, v := range s.sequences {
		snap.sequences[y] = v
	}
	return snap
}

func (s *MemStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients = snap.patients
	s.mentions = snap.mentions
	s.sequences = snap.sequences
	s.events = snap.events
}

type memPatientRepo struct {
	store *MemStore
}

func (r *memPatientRepo) Create(ctx context.Context, p *CanonicalPatient) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.patients {
		if existing.Active && existing.NormalizedPhone == p.NormalizedPhone {
			return ErrDuplicatePhone
		}
		if existing.Active && existing.AccessID == p.AccessID {
			return ErrDuplicateAccessID
		}
	}
	s.patients[p.InternalID] = clonePatient(p)
	return nil
}

func (r *memPatientRepo) Update(ctx context.Context, p *CanonicalPatient) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patients[p.InternalID]; !ok {
		return ErrNotFound
	}
	s.patients[p.InternalID] = clonePatient(p)
	return nil
}

func (r *memPatientRepo) GetByInternalID(ctx context.Context, internalID string) (*CanonicalPatient, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patients[internalID]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePatient(p), nil
}

func (r *memPatientRepo) GetByInternalIDForUpdate(ctx context.Context, internalID string) (*CanonicalPatient, error) {
	// Transactions are already serialized; a row lock adds nothing here.
	return r.GetByInternalID(ctx, internalID)
}

func (r *memPatientRepo) FindActiveByPhone(ctx context.Context, phone string) (*CanonicalPatient, error) {
	return r.findActive(func(p *CanonicalPatient) bool { return p.NormalizedPhone == phone })
}

func (r *memPatientRepo) FindActiveByExternalID(ctx context.Context, externalID string) (*CanonicalPatient, error) {
	return r.findActive(func(p *CanonicalPatient) bool {
		return p.ExternalID != nil && *p.ExternalID == externalID
	})
}

func (r *memPatientRepo) FindActiveByAccessID(ctx context.Context, accessID string) (*CanonicalPatient, error) {
	return r.findActive(func(p *CanonicalPatient) bool { return p.AccessID == accessID })
}

func (r *memPatientRepo) findActive(match func(*CanonicalPatient) bool) (*CanonicalPatient, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.patients {
		if p.Active && match(p) {
			return clonePatient(p), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memPatientRepo) AccessIDInUse(ctx context.Context, accessID string) (bool, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.patients {
		if p.Active && p.AccessID == accessID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memPatientRepo) NextSequence(ctx context.Context, year int) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[year]++
	return s.sequences[year], nil
}

func (r *memPatientRepo) AddMentions(ctx context.Context, internalID string, mentions []ClinicalMention) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	have := make(map[string]bool)
	for _, m := range s.mentions[internalID] {
		have[m.Category+"|"+m.Normalized] = true
	}
	for _, m := range mentions {
		key := m.Category + "|" + m.Normalized
		if have[key] {
			continue
		}
		have[key] = true
		s.mentions[internalID] = append(s.mentions[internalID], m)
	}
	return nil
}

func (r *memPatientRepo) GetMentions(ctx context.Context, internalID string) ([]ClinicalMention, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ClinicalMention(nil), s.mentions[internalID]...), nil
}

type memEventRepo struct {
	store *MemStore
}

func (r *memEventRepo) Append(ctx context.Context, e *MergeEvent) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *e
	s.events = append(s.events, &copied)
	return nil
}

func (r *memEventRepo) ListByPatient(ctx context.Context, internalID string, limit, offset int) ([]*MergeEvent, int, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*MergeEvent
	// Newest first.
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].PatientID == internalID {
			matched = append(matched, s.events[i])
		}
	}
	total := len(matched)

	if offset >= total {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]*MergeEvent, len(matched))
	for i, e := range matched {
		copied := *e
		out[i] = &copied
	}
	return out, total, nil
}

func clonePatient(p *CanonicalPatient) *CanonicalPatient {
	copied := *p
	copied.ExternalID = cloneStr(p.ExternalID)
	copied.FirstName = cloneStr(p.FirstName)
	copied.LastName = cloneStr(p.LastName)
	copied.MiddleInitial = cloneStr(p.MiddleInitial)
	copied.Sex = cloneStr(p.Sex)
	copied.Email = cloneStr(p.Email)
	copied.AddressLine1 = cloneStr(p.AddressLine1)
	copied.AddressLine2 = cloneStr(p.AddressLine2)
	if p.DateOfBirth != nil {
		dob := *p.DateOfBirth
		copied.DateOfBirth = &dob
	}
	if p.Age != nil {
		age := *p.Age
		copied.Age = &age
	}
	copied.Mentions = append([]ClinicalMention(nil), p.Mentions...)
	return &copied
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
