package audit

import (
	"context"
	"time"
)

// Filter narrows an audit log query. Zero values mean "no constraint".
// AfterSequence doubles as the restart cursor: a query resumed with the
// cursor of a previous iterator continues exactly where it stopped.
type Filter struct {
	Types         []EntryType `json:"types,omitempty"`
	Categories    []string    `json:"categories,omitempty"`
	Outcomes      []Outcome   `json:"outcomes,omitempty"`
	ActorID       string      `json:"actor_id,omitempty"`
	SubjectID     string      `json:"subject_id,omitempty"`
	Resource      string      `json:"resource,omitempty"`
	Since         time.Time   `json:"since,omitempty"`
	Until         time.Time   `json:"until,omitempty"`
	AfterSequence int64       `json:"after_sequence,omitempty"`
	Limit         int         `json:"limit,omitempty"`
}

// Matches reports whether the entry satisfies every set constraint. Shared by
// the in-memory repository and filter tests; the SQL repository compiles the
// same semantics into its WHERE clause.
func (f Filter) Matches(e *Entry) bool {
	if e.SequenceNum <= f.AfterSequence {
		return false
	}

	if len(f.Types) > 0 && !containsType(f.Types, e.Type) {
		return false
	}

	if len(f.Categories) > 0 && !containsString(f.Categories, e.Category) {
		return false
	}

	if len(f.Outcomes) > 0 && !containsOutcome(f.Outcomes, e.Outcome) {
		return false
	}

	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}

	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}

	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}

	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}

	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}

	return true
}

// PageSource fetches one ascending page of entries for an iterator. The
// returned slice is ordered by sequence number and holds at most Filter.Limit
// entries.
type PageSource interface {
	QueryPage(ctx context.Context, filter Filter) ([]*Entry, error)
}

const defaultPageSize = 256

// Iterator walks matching entries in sequence order, fetching pages lazily.
// It is not safe for concurrent use.
type Iterator struct {
	ctx      context.Context
	source   PageSource
	filter   Filter
	pageSize int

	buffer  []*Entry
	pos     int
	lastSeq int64
	done    bool
	err     error
}

// NewIterator creates a lazy iterator over entries matching the filter,
// starting after filter.AfterSequence.
func NewIterator(ctx context.Context, source PageSource, filter Filter) *Iterator {
	pageSize := filter.Limit
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &Iterator{
		ctx:      ctx,
		source:   source,
		filter:   filter,
		pageSize: pageSize,
		lastSeq:  filter.AfterSequence,
	}
}

// Next advances to the next entry, returning false when the stream is
// exhausted or failed. Check Err after a false return.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}

	it.pos++
	if it.pos < len(it.buffer) {
		it.lastSeq = it.buffer[it.pos].SequenceNum
		return true
	}

	if it.done {
		return false
	}

	pageFilter := it.filter
	pageFilter.AfterSequence = it.lastSeq
	pageFilter.Limit = it.pageSize

	page, err := it.source.QueryPage(it.ctx, pageFilter)
	if err != nil {
		it.err = err
		return false
	}

	if len(page) < it.pageSize {
		it.done = true
	}

	if len(page) == 0 {
		return false
	}

	it.buffer = page
	it.pos = 0
	it.lastSeq = page[0].SequenceNum
	return true
}

// Entry returns the current entry. Only valid after a true Next.
func (it *Iterator) Entry() *Entry {
	if it.pos < 0 || it.pos >= len(it.buffer) {
		return nil
	}
	return it.buffer[it.pos]
}

// Err returns the first error the iterator hit, if any
func (it *Iterator) Err() error {
	return it.err
}

// Cursor returns the sequence number of the last entry seen. Passing it as
// Filter.AfterSequence in a new iterator resumes the walk.
func (it *Iterator) Cursor() int64 {
	return it.lastSeq
}

func containsType(types []EntryType, t EntryType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func containsOutcome(outcomes []Outcome, o Outcome) bool {
	for _, candidate := range outcomes {
		if candidate == o {
			return true
		}
	}
	return false
}
