package consolidation

import (
	"context"

	"github.com/rs/zerolog"
)

// AuditWriter appends immutable merge events. A failed append is fatal for
// the enclosing operation: the engine never leaves a patient mutation
// without its audit entry, so the facade rolls the transaction back.
type AuditWriter struct {
	events EventRepository
	log    zerolog.Logger
}

func NewAuditWriter(events EventRepository, log zerolog.Logger) *AuditWriter {
	return &AuditWriter{events: events, log: log}
}

func (w *AuditWriter) Record(ctx context.Context, e *MergeEvent) error {
	if err := w.events.Append(ctx, e); err != nil {
		w.log.Error().
			Err(err).
			Str("patient_id", e.PatientID).
			Str("event_type", e.EventType).
			Str("source_tag", e.SourceTag).
			Msg("audit event write failed; rolling back operation")
		return &AuditWriteFailure{Err: err}
	}
	return nil
}
