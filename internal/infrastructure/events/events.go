// Package events streams governance happenings to Kafka for downstream
// consumers. The audit log and the obligation tables are the systems of
// record; these streams are fan-out on top of them.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/audit"
)

// AuditStreamer fans appended audit entries out to downstream SIEM
// consumers. Implementations must not fail the append path: a broker
// outage costs the stream, never the log.
type AuditStreamer interface {
	StreamEntry(ctx context.Context, entry *audit.Entry) error
}

// ErasureNotifier announces completed erasures so secondary stores can
// purge their copies and report back against their obligations.
type ErasureNotifier interface {
	NotifyErasure(ctx context.Context, notice ErasureNotice) error
}

// ErasureNotice is the wire message for one completed erasure. It
// carries the subject identifier because downstream stores need to know
// whom to purge; it never carries field values.
type ErasureNotice struct {
	RequestID   uuid.UUID `json:"request_id"`
	SubjectID   string    `json:"subject_id"`
	CompletedAt time.Time `json:"completed_at"`
	Targets     []string  `json:"targets,omitempty"`
}

// Fanout forwards every entry and notice to each registered sink, so
// the live WebSocket feed can ride alongside Kafka without either
// knowing about the other. Every sink is offered the message even when
// an earlier one fails; the first error is what comes back.
type Fanout struct {
	streamers []AuditStreamer
	notifiers []ErasureNotifier
}

func NewFanout() *Fanout {
	return &Fanout{}
}

// AddStreamer registers an entry sink. Not safe to call after the
// fanout is in use.
func (f *Fanout) AddStreamer(s AuditStreamer) {
	f.streamers = append(f.streamers, s)
}

// AddNotifier registers a notice sink.
func (f *Fanout) AddNotifier(n ErasureNotifier) {
	f.notifiers = append(f.notifiers, n)
}

func (f *Fanout) StreamEntry(ctx context.Context, entry *audit.Entry) error {
	var first error
	for _, s := range f.streamers {
		if err := s.StreamEntry(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f *Fanout) NotifyErasure(ctx context.Context, notice ErasureNotice) error {
	var first error
	for _, n := range f.notifiers {
		if err := n.NotifyErasure(ctx, notice); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NoopPublisher drops everything. It stands in for the Kafka publisher
// when streaming is disabled.
type NoopPublisher struct{}

// StreamEntry discards the entry.
func (NoopPublisher) StreamEntry(ctx context.Context, entry *audit.Entry) error {
	return nil
}

// NotifyErasure discards the notice.
func (NoopPublisher) NotifyErasure(ctx context.Context, notice ErasureNotice) error {
	return nil
}

// Close is a no-op.
func (NoopPublisher) Close() {}

var (
	_ AuditStreamer   = (*Fanout)(nil)
	_ ErasureNotifier = (*Fanout)(nil)
)
