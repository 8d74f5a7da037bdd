// Package audit owns the append path of the audit log. Every governed
// mutation in the engine flows through Service.Append before it is
// allowed to commit: the append is synchronous, totally ordered, and
// fail-closed, so an entry that cannot be made durable vetoes the
// operation it was about to record.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/infrastructure/events"
)

// Service is the audit log engine. A single process-wide mutex orders
// appends; the database sequence makes the order durable. Reads never
// take the mutex.
type Service struct {
	repo     audit.EntryRepository
	streamer events.AuditStreamer
	logger   *zap.Logger

	service     string
	environment string

	// chainMu serializes appends. lastHash and lastSeq mirror the tail
	// of the stored chain and are only touched under the mutex.
	chainMu  sync.Mutex
	lastHash string
	lastSeq  int64
}

// NewService builds the audit service and recovers the chain tail from
// storage. An empty log starts the chain at sequence zero with an empty
// previous hash.
func NewService(ctx context.Context, repo audit.EntryRepository, streamer events.AuditStreamer, logger *zap.Logger, service, environment string) (*Service, error) {
	if repo == nil {
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "entry repository is required")
	}
	if logger == nil {
		return nil, errors.NewValidationError("MISSING_LOGGER", "logger is required")
	}
	if streamer == nil {
		streamer = events.NoopPublisher{}
	}

	s := &Service{
		repo:        repo,
		streamer:    streamer,
		logger:      logger,
		service:     service,
		environment: environment,
	}
	if err := s.recoverChain(ctx); err != nil {
		return nil, err
	}

	logger.Info("audit log ready",
		zap.Int64("last_sequence", s.lastSeq),
	)
	return s, nil
}

// recoverChain loads the highest stored sequence and its hash so the
// next append links to the real tail, not to whatever this process
// remembered before a restart.
func (s *Service) recoverChain(ctx context.Context) error {
	latest, err := s.repo.LatestSequence(ctx)
	if err != nil {
		return errors.NewStorageError("recover_chain", err)
	}
	if latest == 0 {
		s.lastSeq = 0
		s.lastHash = ""
		return nil
	}

	tail, err := s.repo.GetBySequence(ctx, latest)
	if err != nil {
		return errors.NewStorageError("recover_chain", err)
	}
	if tail.EntryHash == "" {
		return errors.NewInternalError(
			fmt.Sprintf("stored entry %d carries no hash; log is unusable", latest))
	}

	s.lastSeq = latest
	s.lastHash = tail.EntryHash
	return nil
}

// Append validates, sequences, hashes, and stores the entry, returning
// its sequence number. The entry must still be mutable; Append freezes
// it. Storage failure is returned as-is and must abort the caller's
// operation: if the action cannot be recorded, it does not happen.
func (s *Service) Append(ctx context.Context, entry *audit.Entry) (int64, error) {
	if entry == nil {
		return 0, errors.NewValidationError("MISSING_ENTRY", "audit entry is required")
	}
	if entry.IsImmutable() {
		return 0, errors.NewConflictError("audit entry is already appended")
	}

	entry.Service = s.service
	entry.Environment = s.environment

	if err := entry.Validate(); err != nil {
		return 0, err
	}

	start := time.Now()

	s.chainMu.Lock()
	defer s.chainMu.Unlock()

	seq, err := s.repo.NextSequence(ctx)
	if err != nil {
		return 0, errors.NewStorageError("next_sequence", err)
	}
	if seq <= s.lastSeq {
		// The database sequence moved backwards relative to what this
		// writer appended. Another writer is loose on the same log.
		return 0, errors.NewInternalError(
			fmt.Sprintf("sequence %d not after chain tail %d", seq, s.lastSeq))
	}

	entry.SequenceNum = seq
	hash, err := entry.ComputeHash(s.lastHash)
	if err != nil {
		return 0, err
	}

	if err := s.repo.Store(ctx, entry); err != nil {
		// The reserved sequence number is burned, never reused. Chain
		// state stays at the last stored entry.
		return 0, errors.NewStorageError("store_entry", err)
	}

	s.lastSeq = seq
	s.lastHash = hash

	s.stream(entry)

	s.logger.Debug("audit entry appended",
		zap.Int64("sequence", seq),
		zap.String("type", string(entry.Type)),
		zap.String("outcome", string(entry.Outcome)),
		zap.Duration("took", time.Since(start)),
	)
	return seq, nil
}

// stream hands the stored entry to the downstream publisher. A stream
// failure is logged and dropped; the entry is already durable and the
// caller's operation must not notice.
func (s *Service) stream(entry *audit.Entry) {
	streamCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.streamer.StreamEntry(streamCtx, entry); err != nil {
		s.logger.Warn("audit entry not streamed",
			zap.Int64("sequence", entry.SequenceNum),
			zap.Error(err),
		)
	}
}

// Query returns a lazy iterator over entries matching the filter in
// sequence order. The iterator pages through storage on demand; setting
// Filter.AfterSequence to a previous Cursor resumes an interrupted scan.
func (s *Service) Query(ctx context.Context, filter audit.Filter) *audit.Iterator {
	return audit.NewIterator(ctx, s.repo, filter)
}

// Count returns the number of entries matching the filter.
func (s *Service) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	n, err := s.repo.Count(ctx, filter)
	if err != nil {
		return 0, errors.NewStorageError("count_entries", err)
	}
	return n, nil
}

// GetBySequence returns one entry by its sequence number.
func (s *Service) GetBySequence(ctx context.Context, seq int64) (*audit.Entry, error) {
	return s.repo.GetBySequence(ctx, seq)
}

// LastSequence returns the sequence number of the most recent append.
func (s *Service) LastSequence() int64 {
	s.chainMu.Lock()
	defer s.chainMu.Unlock()
	return s.lastSeq
}

// VerifyChain re-walks stored entries from sequence from through to and
// checks hash linkage, sequence order, and per-entry integrity. The
// anchor is the entry before from when one exists, so a cut at from
// cannot hide a break across the boundary. Passing to=0 verifies
// through the current tail.
func (s *Service) VerifyChain(ctx context.Context, from, to int64) (*audit.ChainVerification, error) {
	if from < 1 {
		from = 1
	}
	if to == 0 {
		to = s.LastSequence()
	}
	if to < from {
		return nil, errors.NewValidationError("INVALID_RANGE",
			fmt.Sprintf("verification range %d..%d is empty", from, to))
	}

	previousHash := ""
	if from > 1 {
		anchor, err := s.repo.GetBySequence(ctx, from-1)
		if err != nil {
			if errors.IsNotFound(err) {
				return nil, errors.NewValidationError("MISSING_ANCHOR",
					fmt.Sprintf("entry %d is needed to anchor verification at %d", from-1, from))
			}
			return nil, errors.NewStorageError("load_anchor", err)
		}
		previousHash = anchor.EntryHash
	}

	entries, err := s.repo.GetSequenceRange(ctx, from, to)
	if err != nil {
		return nil, errors.NewStorageError("load_range", err)
	}

	result, err := audit.VerifyChain(entries, previousHash)
	if err != nil {
		return nil, err
	}

	s.logger.Info("audit chain verified",
		zap.Int64("from", from),
		zap.Int64("to", to),
		zap.Int64("entries", result.EntriesVerified),
		zap.Bool("intact", result.IsValid),
		zap.Int("breaks", len(result.Breaks)),
	)
	return result, nil
}

// RecordStartup appends the system startup marker. Called once from the
// composition root after the services are wired.
func (s *Service) RecordStartup(ctx context.Context, version string) error {
	entry, err := audit.NewEntry(audit.EntrySystemStartup, s.service, "system", "startup")
	if err != nil {
		return err
	}
	entry.WithActor("", audit.ActorTypeSystem)
	if err := entry.WithMetadata("version", version); err != nil {
		return err
	}
	_, err = s.Append(ctx, entry)
	return err
}

// RecordShutdown appends the system shutdown marker.
func (s *Service) RecordShutdown(ctx context.Context) error {
	entry, err := audit.NewEntry(audit.EntrySystemShutdown, s.service, "system", "shutdown")
	if err != nil {
		return err
	}
	entry.WithActor("", audit.ActorTypeSystem)
	_, err = s.Append(ctx, entry)
	return err
}
