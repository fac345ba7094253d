package consolidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intake/intake/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PGStore is the PostgreSQL-backed Store. Uniqueness invariants live in the
// schema (partial unique indexes on active phone/access ID, the year-scoped
// sequence table); this layer translates constraint violations into the
// engine's typed errors.
type PGStore struct {
	pool     *pgxpool.Pool
	patients *patientRepoPG
	events   *eventRepoPG
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{
		pool:     pool,
		patients: &patientRepoPG{pool: pool},
		events:   &eventRepoPG{pool: pool},
	}
}

func (s *PGStore) Patients() PatientRepository { return s.patients }
func (s *PGStore) Events() EventRepository     { return s.events }

// InTx runs fn inside one transaction, carried to the repositories through
// the context.
func (s *PGStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapPGError("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(db.ContextWithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapPGError("commit tx", err)
	}
	return nil
}

// -- Patient repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func (r *patientRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `internal_id, access_id, external_id, normalized_phone,
	first_name, last_name, middle_initial, date_of_birth, sex, email,
	address_line1, address_line2, active,
	full_name, age, completeness_score, created_at, updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *CanonicalPatient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (
			internal_id, access_id, external_id, normalized_phone,
			first_name, last_name, middle_initial, date_of_birth, sex, email,
			address_line1, address_line2, active,
			full_name, age, completeness_score, created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
		)`,
		p.InternalID, p.AccessID, p.ExternalID, p.NormalizedPhone,
		p.FirstName, p.LastName, p.MiddleInitial, p.DateOfBirth, p.Sex, p.Email,
		p.AddressLine1, p.AddressLine2, p.Active,
		p.FullName, p.Age, p.CompletenessScore, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if name, ok := uniqueViolation(err); ok {
			switch name {
			case "patient_active_phone_idx":
				return ErrDuplicatePhone
			case "patient_active_access_id_idx":
				return ErrDuplicateAccessID
			}
		}
		return wrapPGError("insert patient", err)
	}
	return nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *CanonicalPatient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET
			access_id=$2, external_id=$3,
			first_name=$4, last_name=$5, middle_initial=$6, date_of_birth=$7,
			sex=$8, email=$9, address_line1=$10, address_line2=$11, active=$12,
			full_name=$13, age=$14, completeness_score=$15, updated_at=$16
		WHERE internal_id = $1`,
		p.InternalID, p.AccessID, p.ExternalID,
		p.FirstName, p.LastName, p.MiddleInitial, p.DateOfBirth,
		p.Sex, p.Email, p.AddressLine1, p.AddressLine2, p.Active,
		p.FullName, p.Age, p.CompletenessScore, p.UpdatedAt,
	)
	if err != nil {
		return wrapPGError("update patient", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) GetByInternalID(ctx context.Context, internalID string) (*CanonicalPatient, error) {
	return r.one(ctx, `SELECT `+patientCols+` FROM patient WHERE internal_id = $1`, internalID)
}

func (r *patientRepoPG) GetByInternalIDForUpdate(ctx context.Context, internalID string) (*CanonicalPatient, error) {
	return r.one(ctx, `SELECT `+patientCols+` FROM patient WHERE internal_id = $1 FOR UPDATE`, internalID)
}

func (r *patientRepoPG) FindActiveByPhone(ctx context.Context, phone string) (*CanonicalPatient, error) {
	return r.one(ctx, `SELECT `+patientCols+` FROM patient WHERE normalized_phone = $1 AND active`, phone)
}

func (r *patientRepoPG) FindActiveByExternalID(ctx context.Context, externalID string) (*CanonicalPatient, error) {
	return r.one(ctx, `SELECT `+patientCols+` FROM patient WHERE external_id = $1 AND active`, externalID)
}

func (r *patientRepoPG) FindActiveByAccessID(ctx context.Context, accessID string) (*CanonicalPatient, error) {
	return r.one(ctx, `SELECT `+patientCols+` FROM patient WHERE access_id = $1 AND active`, accessID)
}

func (r *patientRepoPG) AccessIDInUse(ctx context.Context, accessID string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patient WHERE access_id = $1 AND active)`, accessID).Scan(&exists)
	if err != nil {
		return false, wrapPGError("check access id", err)
	}
	return exists, nil
}

func (r *patientRepoPG) NextSequence(ctx context.Context, year int) (int64, error) {
	var value int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_id_sequence (year, value) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET value = patient_id_sequence.value + 1
		RETURNING value`, year).Scan(&value)
	if err != nil {
		return 0, wrapPGError("next internal id sequence", err)
	}
	return value, nil
}

func (r *patientRepoPG) AddMentions(ctx context.Context, internalID string, mentions []ClinicalMention) error {
	for _, m := range mentions {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO patient_clinical_mention
				(internal_id, category, text, normalized_text, source_tag, recorded_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (internal_id, category, normalized_text) DO NOTHING`,
			internalID, m.Category, m.Text, m.Normalized, m.SourceTag, m.RecordedAt,
		)
		if err != nil {
			return wrapPGError("insert clinical mention", err)
		}
	}
	return nil
}

func (r *patientRepoPG) GetMentions(ctx context.Context, internalID string) ([]ClinicalMention, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT category, text, normalized_text, source_tag, recorded_at
		FROM patient_clinical_mention
		WHERE internal_id = $1
		ORDER BY recorded_at, category, normalized_text`, internalID)
	if err != nil {
		return nil, wrapPGError("list clinical mentions", err)
	}
	defer rows.Close()

	var mentions []ClinicalMention
	for rows.Next() {
		var m ClinicalMention
		if err := rows.Scan(&m.Category, &m.Text, &m.Normalized, &m.SourceTag, &m.RecordedAt); err != nil {
			return nil, wrapPGError("scan clinical mention", err)
		}
		mentions = append(mentions, m)
	}
	return mentions, rows.Err()
}

func (r *patientRepoPG) one(ctx context.Context, sql string, args ...interface{}) (*CanonicalPatient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapPGError("query patient", err)
	}
	return p, nil
}

func scanPatient(row pgx.Row) (*CanonicalPatient, error) {
	var p CanonicalPatient
	err := row.Scan(
		&p.InternalID, &p.AccessID, &p.ExternalID, &p.NormalizedPhone,
		&p.FirstName, &p.LastName, &p.MiddleInitial, &p.DateOfBirth, &p.Sex, &p.Email,
		&p.AddressLine1, &p.AddressLine2, &p.Active,
		&p.FullName, &p.Age, &p.CompletenessScore, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// -- Merge event repository (append-only) --

type eventRepoPG struct {
	pool *pgxpool.Pool
}

func (r *eventRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *eventRepoPG) Append(ctx context.Context, e *MergeEvent) error {
	fields, err := json.Marshal(e.FieldsChanged)
	if err != nil {
		return fmt.Errorf("encode fields changed: %w", err)
	}
	conflicts, err := json.Marshal(e.Conflicts)
	if err != nil {
		return fmt.Errorf("encode conflicts: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO merge_event
			(id, patient_id, event_type, source_tag, actor, fields_changed, conflicts, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.PatientID, e.EventType, e.SourceTag, e.Actor,
		string(fields), string(conflicts), e.CreatedAt,
	)
	if err != nil {
		return wrapPGError("insert merge event", err)
	}
	return nil
}

func (r *eventRepoPG) ListByPatient(ctx context.Context, internalID string, limit, offset int) ([]*MergeEvent, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM merge_event WHERE patient_id = $1`, internalID).Scan(&total)
	if err != nil {
		return nil, 0, wrapPGError("count merge events", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, event_type, source_tag, actor, fields_changed, conflicts, created_at
		FROM merge_event
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, internalID, limit, offset)
	if err != nil {
		return nil, 0, wrapPGError("list merge events", err)
	}
	defer rows.Close()

	var events []*MergeEvent
	for rows.Next() {
		var (
			e         MergeEvent
			fields    []byte
			conflicts []byte
		)
		if err := rows.Scan(&e.ID, &e.PatientID, &e.EventType, &e.SourceTag, &e.Actor,
			&fields, &conflicts, &e.CreatedAt); err != nil {
			return nil, 0, wrapPGError("scan merge event", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &e.FieldsChanged); err != nil {
				return nil, 0, fmt.Errorf("decode fields changed: %w", err)
			}
		}
		if len(conflicts) > 0 {
			if err := json.Unmarshal(conflicts, &e.Conflicts); err != nil {
				return nil, 0, fmt.Errorf("decode conflicts: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, total, rows.Err()
}

// -- Error translation --

func uniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// wrapPGError classifies a pgx failure. Connection-class (08xxx) and
// serialization/deadlock (40001, 40P01) conditions are transient and worth
// a retry; everything else surfaces as-is.
func wrapPGError(op string, err error) error {
	transient := false
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		transient = len(code) >= 2 && code[:2] == "08" || code == "40001" || code == "40P01"
	}
	return &PersistenceError{Op: op, Err: err, Transient: transient}
}
