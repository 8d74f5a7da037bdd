package audit

import (
	"fmt"
	"sort"
	"time"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// ChainVerification reports the outcome of walking a span of the hash chain
type ChainVerification struct {
	IsValid         bool          `json:"is_valid"`
	EntriesVerified int64         `json:"entries_verified"`
	Breaks          []*ChainBreak `json:"breaks,omitempty"`
	StartSequence   int64         `json:"start_sequence,omitempty"`
	EndSequence     int64         `json:"end_sequence,omitempty"`
	Elapsed         time.Duration `json:"elapsed"`
}

// ChainBreak pinpoints one detected integrity failure
type ChainBreak struct {
	EntryID      string    `json:"entry_id"`
	SequenceNum  int64     `json:"sequence_num"`
	BreakType    BreakType `json:"break_type"`
	ExpectedHash string    `json:"expected_hash,omitempty"`
	ActualHash   string    `json:"actual_hash,omitempty"`
	Description  string    `json:"description"`
}

// BreakType categorizes the kind of chain break
type BreakType string

const (
	BreakTypeHashMismatch BreakType = "hash_mismatch"
	BreakTypeSequenceGap  BreakType = "sequence_gap"
	BreakTypeTampered     BreakType = "tampered_entry"
	BreakTypeNotFrozen    BreakType = "entry_not_frozen"
)

// VerifyChain walks entries in sequence order and checks linkage, sequence
// continuity, and per-entry hash integrity. previousHash anchors the first
// entry; pass the empty string when the span starts at the beginning of the
// log.
func VerifyChain(entries []*Entry, previousHash string) (*ChainVerification, error) {
	start := time.Now()

	result := &ChainVerification{
		IsValid: true,
		Breaks:  make([]*ChainBreak, 0),
	}

	if len(entries) == 0 {
		result.Elapsed = time.Since(start)
		return result, nil
	}

	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SequenceNum < sorted[j].SequenceNum
	})

	result.StartSequence = sorted[0].SequenceNum
	result.EndSequence = sorted[len(sorted)-1].SequenceNum

	expectedPrevious := previousHash
	for i, entry := range sorted {
		result.EntriesVerified++

		if !entry.IsImmutable() || entry.EntryHash == "" {
			result.IsValid = false
			result.Breaks = append(result.Breaks, &ChainBreak{
				EntryID:     entry.ID.String(),
				SequenceNum: entry.SequenceNum,
				BreakType:   BreakTypeNotFrozen,
				Description: "entry was never hashed and frozen",
			})
			expectedPrevious = entry.EntryHash
			continue
		}

		if i > 0 && entry.SequenceNum != sorted[i-1].SequenceNum+1 {
			result.IsValid = false
			result.Breaks = append(result.Breaks, &ChainBreak{
				EntryID:     entry.ID.String(),
				SequenceNum: entry.SequenceNum,
				BreakType:   BreakTypeSequenceGap,
				Description: fmt.Sprintf("expected sequence %d, got %d", sorted[i-1].SequenceNum+1, entry.SequenceNum),
			})
		}

		if entry.PreviousHash != expectedPrevious {
			result.IsValid = false
			result.Breaks = append(result.Breaks, &ChainBreak{
				EntryID:      entry.ID.String(),
				SequenceNum:  entry.SequenceNum,
				BreakType:    BreakTypeHashMismatch,
				ExpectedHash: expectedPrevious,
				ActualHash:   entry.PreviousHash,
				Description:  "previous-hash linkage broken",
			})
		}

		tampered, err := entryTampered(entry)
		if err != nil {
			return nil, err
		}
		if tampered {
			result.IsValid = false
			result.Breaks = append(result.Breaks, &ChainBreak{
				EntryID:     entry.ID.String(),
				SequenceNum: entry.SequenceNum,
				BreakType:   BreakTypeTampered,
				ActualHash:  entry.EntryHash,
				Description: "stored hash does not match entry contents",
			})
		}

		expectedPrevious = entry.EntryHash
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// entryTampered recomputes the entry hash from its contents and compares with
// the stored value.
func entryTampered(entry *Entry) (bool, error) {
	clone := entry.Clone()
	clone.EntryHash = ""

	recomputed, err := clone.ComputeHash(entry.PreviousHash)
	if err != nil {
		return false, errors.NewInternalError("failed to recompute entry hash").WithCause(err)
	}

	return recomputed != entry.EntryHash, nil
}
