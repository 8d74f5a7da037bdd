package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slicePageSource serves iterator pages from an in-memory slice
type slicePageSource struct {
	entries []*Entry
	calls   int
}

func (s *slicePageSource) QueryPage(_ context.Context, filter Filter) ([]*Entry, error) {
	s.calls++

	page := make([]*Entry, 0, filter.Limit)
	for _, e := range s.entries {
		if !filter.Matches(e) {
			continue
		}
		page = append(page, e)
		if filter.Limit > 0 && len(page) >= filter.Limit {
			break
		}
	}
	return page, nil
}

func TestFilterMatches(t *testing.T) {
	entry, err := NewEntry(EntryAccessDenied, "analyst-2", "sensitive_record/subj-9", "unprotect_field")
	require.NoError(t, err)
	entry.SequenceNum = 10
	entry.WithSubject("subj-9").WithOutcome(OutcomeDenied, "FORBIDDEN")

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "empty filter matches", filter: Filter{}, want: true},
		{name: "type match", filter: Filter{Types: []EntryType{EntryAccessDenied}}, want: true},
		{name: "type mismatch", filter: Filter{Types: []EntryType{EntryConsentRecorded}}, want: false},
		{name: "category match", filter: Filter{Categories: []string{"access"}}, want: true},
		{name: "outcome match", filter: Filter{Outcomes: []Outcome{OutcomeDenied}}, want: true},
		{name: "outcome mismatch", filter: Filter{Outcomes: []Outcome{OutcomeSuccess}}, want: false},
		{name: "actor match", filter: Filter{ActorID: "analyst-2"}, want: true},
		{name: "actor mismatch", filter: Filter{ActorID: "someone-else"}, want: false},
		{name: "subject match", filter: Filter{SubjectID: "subj-9"}, want: true},
		{name: "cursor excludes seen", filter: Filter{AfterSequence: 10}, want: false},
		{name: "cursor includes unseen", filter: Filter{AfterSequence: 9}, want: true},
		{name: "since excludes future filter", filter: Filter{Since: time.Now().Add(time.Hour)}, want: false},
		{name: "until excludes past filter", filter: Filter{Until: time.Now().Add(-time.Hour)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(entry))
		})
	}
}

func TestIterator(t *testing.T) {
	source := &slicePageSource{entries: buildChain(t, 10)}

	t.Run("walks all entries in order", func(t *testing.T) {
		it := NewIterator(context.Background(), source, Filter{Limit: 3})

		var seen []int64
		for it.Next() {
			seen = append(seen, it.Entry().SequenceNum)
		}
		require.NoError(t, it.Err())
		assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seen)
	})

	t.Run("fetches lazily in pages", func(t *testing.T) {
		paged := &slicePageSource{entries: buildChain(t, 10)}
		it := NewIterator(context.Background(), paged, Filter{Limit: 4})

		require.True(t, it.Next())
		assert.Equal(t, 1, paged.calls)

		for it.Next() {
		}
		require.NoError(t, it.Err())
		// 4 + 4 + 2: the short page ends the walk
		assert.Equal(t, 3, paged.calls)
	})

	t.Run("cursor restarts where it stopped", func(t *testing.T) {
		it := NewIterator(context.Background(), source, Filter{Limit: 3})

		for i := 0; i < 4; i++ {
			require.True(t, it.Next())
		}
		cursor := it.Cursor()
		assert.Equal(t, int64(4), cursor)

		resumed := NewIterator(context.Background(), source, Filter{Limit: 3, AfterSequence: cursor})
		var seen []int64
		for resumed.Next() {
			seen = append(seen, resumed.Entry().SequenceNum)
		}
		require.NoError(t, resumed.Err())
		assert.Equal(t, []int64{5, 6, 7, 8, 9, 10}, seen)
	})

	t.Run("empty result", func(t *testing.T) {
		it := NewIterator(context.Background(), source, Filter{ActorID: "nobody", Limit: 3})
		assert.False(t, it.Next())
		require.NoError(t, it.Err())
	})
}
