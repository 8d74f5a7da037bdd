package audit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/infrastructure/events"
)

// fakeRepo is an in-memory EntryRepository with injectable failures.
type fakeRepo struct {
	mu       sync.Mutex
	entries  map[int64]*audit.Entry
	seq      int64
	storeErr error
	seqErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{entries: make(map[int64]*audit.Entry)}
}

func (r *fakeRepo) Store(ctx context.Context, entry *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.storeErr != nil {
		return r.storeErr
	}
	if _, dup := r.entries[entry.SequenceNum]; dup {
		return errors.NewConflictError("duplicate sequence")
	}
	r.entries[entry.SequenceNum] = entry
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, errors.NewNotFoundError("audit entry")
}

func (r *fakeRepo) GetBySequence(ctx context.Context, seq int64) (*audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[seq]
	if !ok {
		return nil, errors.NewNotFoundError("audit entry")
	}
	return e, nil
}

func (r *fakeRepo) LatestSequence(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest int64
	for seq := range r.entries {
		if seq > latest {
			latest = seq
		}
	}
	return latest, nil
}

func (r *fakeRepo) NextSequence(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seqErr != nil {
		return 0, r.seqErr
	}
	r.seq++
	return r.seq, nil
}

func (r *fakeRepo) GetSequenceRange(ctx context.Context, from, to int64) ([]*audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*audit.Entry
	for seq, e := range r.entries {
		if seq >= from && seq <= to {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNum < out[j].SequenceNum })
	return out, nil
}

func (r *fakeRepo) QueryPage(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*audit.Entry
	for _, e := range r.entries {
		if filter.Matches(e) {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SequenceNum < all[j].SequenceNum })
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, nil
}

func (r *fakeRepo) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.entries {
		if filter.Matches(e) {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) GetExpired(ctx context.Context, before time.Time, limit int) ([]*audit.Entry, error) {
	return nil, nil
}

func (r *fakeRepo) MarkArchived(ctx context.Context, ids []uuid.UUID, location string) (int64, error) {
	return 0, nil
}

// failingStreamer always refuses the entry.
type failingStreamer struct {
	calls int
}

func (f *failingStreamer) StreamEntry(ctx context.Context, entry *audit.Entry) error {
	f.calls++
	return errors.NewExternalError("kafka", "broker unreachable")
}

func testService(t *testing.T, repo *fakeRepo, streamer events.AuditStreamer) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), repo, streamer, zaptest.NewLogger(t), "governance-api", "test")
	require.NoError(t, err)
	return svc
}

func testEntry(t *testing.T) *audit.Entry {
	t.Helper()
	entry, err := audit.NewEntry(audit.EntryConsentRecorded, "svc-consent", "consent/records", "record")
	require.NoError(t, err)
	entry.WithSubject("subj-1")
	require.NoError(t, entry.WithMetadata("purpose", "marketing"))
	return entry
}

func TestAppendAssignsSequenceAndFreezes(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(t, repo, nil)

	entry := testEntry(t)
	seq, err := svc.Append(context.Background(), entry)
	require.NoError(t, err)

	assert.Equal(t, int64(1), seq)
	assert.True(t, entry.IsImmutable())
	assert.Equal(t, "governance-api", entry.Service)
	assert.Equal(t, "test", entry.Environment)
	assert.Empty(t, entry.PreviousHash)
	assert.NotEmpty(t, entry.EntryHash)

	second := testEntry(t)
	seq2, err := svc.Append(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq2)
	assert.Equal(t, entry.EntryHash, second.PreviousHash)
}

func TestAppendRejectsFrozenEntry(t *testing.T) {
	svc := testService(t, newFakeRepo(), nil)

	entry := testEntry(t)
	_, err := svc.Append(context.Background(), entry)
	require.NoError(t, err)

	_, err = svc.Append(context.Background(), entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")
}

func TestAppendFailsClosedOnStorage(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(t, repo, nil)

	_, err := svc.Append(context.Background(), testEntry(t))
	require.NoError(t, err)

	repo.storeErr = errors.NewInternalError("disk full")
	_, err = svc.Append(context.Background(), testEntry(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORAGE_FAILURE")
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, int64(1), svc.LastSequence())

	// The failed append burned sequence 2. The next append takes 3 and
	// still links to entry 1's hash.
	repo.storeErr = nil
	entry := testEntry(t)
	seq, err := svc.Append(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)

	first, err := repo.GetBySequence(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, first.EntryHash, entry.PreviousHash)
}

func TestAppendRejectsSecretMetadata(t *testing.T) {
	svc := testService(t, newFakeRepo(), nil)

	entry := testEntry(t)
	entry.Metadata["api_key"] = "sk_live_abcdef"

	_, err := svc.Append(context.Background(), entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLICY_VIOLATION")
	assert.Equal(t, int64(0), svc.LastSequence())
}

func TestStreamFailureDoesNotFailAppend(t *testing.T) {
	streamer := &failingStreamer{}
	svc := testService(t, newFakeRepo(), streamer)

	seq, err := svc.Append(context.Background(), testEntry(t))
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
	assert.Equal(t, 1, streamer.calls)
}

func TestNewServiceRecoversChainTail(t *testing.T) {
	repo := newFakeRepo()
	first := testService(t, repo, nil)
	for i := 0; i < 3; i++ {
		_, err := first.Append(context.Background(), testEntry(t))
		require.NoError(t, err)
	}

	// A fresh service over the same store must continue the chain, not
	// restart it.
	second := testService(t, repo, nil)
	assert.Equal(t, int64(3), second.LastSequence())

	entry := testEntry(t)
	seq, err := second.Append(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)

	tail, err := repo.GetBySequence(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, tail.EntryHash, entry.PreviousHash)
}

func TestQueryFiltersAndResumes(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(t, repo, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Append(ctx, testEntry(t))
		require.NoError(t, err)
	}
	denied, err := audit.NewEntry(audit.EntryAccessDenied, "user-9", "privacy/records/r1", "reveal")
	require.NoError(t, err)
	denied.WithOutcome(audit.OutcomeDenied, "FORBIDDEN")
	_, err = svc.Append(ctx, denied)
	require.NoError(t, err)

	it := svc.Query(ctx, audit.Filter{Types: []audit.EntryType{audit.EntryConsentRecorded}, Limit: 2})
	var seen []int64
	for it.Next() {
		seen = append(seen, it.Entry().SequenceNum)
		if len(seen) == 2 {
			break
		}
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []int64{1, 2}, seen)

	// Resume from the cursor and drain the rest.
	resumed := svc.Query(ctx, audit.Filter{
		Types:         []audit.EntryType{audit.EntryConsentRecorded},
		AfterSequence: it.Cursor(),
	})
	seen = seen[:0]
	for resumed.Next() {
		seen = append(seen, resumed.Entry().SequenceNum)
	}
	require.NoError(t, resumed.Err())
	assert.Equal(t, []int64{3, 4, 5}, seen)

	n, err := svc.Count(ctx, audit.Filter{Outcomes: []audit.Outcome{audit.OutcomeDenied}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(t, repo, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := svc.Append(ctx, testEntry(t))
		require.NoError(t, err)
	}

	result, err := svc.VerifyChain(ctx, 1, 0)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, int64(4), result.EntriesVerified)

	// Edit a stored entry behind the service's back.
	tampered, err := repo.GetBySequence(ctx, 2)
	require.NoError(t, err)
	tampered.ActorID = "someone-else"

	result, err = svc.VerifyChain(ctx, 1, 0)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	require.NotEmpty(t, result.Breaks)
	assert.Equal(t, int64(2), result.Breaks[0].SequenceNum)
}

func TestVerifyChainAnchorsMidLog(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(t, repo, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Append(ctx, testEntry(t))
		require.NoError(t, err)
	}

	// A mid-log slice verifies against the entry before it.
	result, err := svc.VerifyChain(ctx, 3, 5)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, int64(3), result.EntriesVerified)

	_, err = svc.VerifyChain(ctx, 5, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_RANGE")
}

func TestRecordStartupAndShutdown(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(t, repo, nil)
	ctx := context.Background()

	require.NoError(t, svc.RecordStartup(ctx, "v1.2.3"))
	require.NoError(t, svc.RecordShutdown(ctx))

	startup, err := repo.GetBySequence(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, audit.EntrySystemStartup, startup.Type)
	assert.Equal(t, audit.ActorTypeSystem, startup.ActorType)
	assert.Equal(t, "v1.2.3", startup.Metadata["version"])
}
