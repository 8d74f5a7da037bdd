package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildChain constructs a frozen chain of n entries anchored at the empty hash
func buildChain(t *testing.T, n int) []*Entry {
	t.Helper()

	entries := make([]*Entry, 0, n)
	previousHash := ""
	for i := 0; i < n; i++ {
		entry, err := NewEntry(EntryConsentRecorded, "admin-1", "consent/subj-1/marketing", "record_consent")
		require.NoError(t, err)
		entry.SequenceNum = int64(i + 1)

		hash, err := entry.ComputeHash(previousHash)
		require.NoError(t, err)
		previousHash = hash
		entries = append(entries, entry)
	}
	return entries
}

func TestVerifyChain(t *testing.T) {
	t.Run("empty chain is valid", func(t *testing.T) {
		result, err := VerifyChain(nil, "")
		require.NoError(t, err)
		assert.True(t, result.IsValid)
		assert.Equal(t, int64(0), result.EntriesVerified)
	})

	t.Run("intact chain verifies", func(t *testing.T) {
		entries := buildChain(t, 5)
		result, err := VerifyChain(entries, "")
		require.NoError(t, err)
		assert.True(t, result.IsValid)
		assert.Equal(t, int64(5), result.EntriesVerified)
		assert.Empty(t, result.Breaks)
		assert.Equal(t, int64(1), result.StartSequence)
		assert.Equal(t, int64(5), result.EndSequence)
	})

	t.Run("verifies out-of-order input by sorting", func(t *testing.T) {
		entries := buildChain(t, 4)
		shuffled := []*Entry{entries[2], entries[0], entries[3], entries[1]}

		result, err := VerifyChain(shuffled, "")
		require.NoError(t, err)
		assert.True(t, result.IsValid)
	})

	t.Run("detects tampered content", func(t *testing.T) {
		entries := buildChain(t, 3)

		tampered := make([]*Entry, 3)
		copy(tampered, entries)
		doctored := entries[1].Clone()
		doctored.Action = "doctored"
		doctored.immutable = true
		doctored.EntryHash = entries[1].EntryHash
		doctored.PreviousHash = entries[1].PreviousHash
		tampered[1] = doctored

		result, err := VerifyChain(tampered, "")
		require.NoError(t, err)
		assert.False(t, result.IsValid)

		foundTamper := false
		for _, b := range result.Breaks {
			if b.BreakType == BreakTypeTampered && b.SequenceNum == 2 {
				foundTamper = true
			}
		}
		assert.True(t, foundTamper)
	})

	t.Run("detects sequence gap", func(t *testing.T) {
		entries := buildChain(t, 4)
		gapped := []*Entry{entries[0], entries[1], entries[3]}

		result, err := VerifyChain(gapped, "")
		require.NoError(t, err)
		assert.False(t, result.IsValid)

		foundGap := false
		for _, b := range result.Breaks {
			if b.BreakType == BreakTypeSequenceGap {
				foundGap = true
			}
		}
		assert.True(t, foundGap)
	})

	t.Run("detects broken linkage", func(t *testing.T) {
		entries := buildChain(t, 3)

		rebuilt := entries[1].Clone()
		_, err := rebuilt.ComputeHash("forged-previous")
		require.NoError(t, err)

		result, err := VerifyChain([]*Entry{entries[0], rebuilt, entries[2]}, "")
		require.NoError(t, err)
		assert.False(t, result.IsValid)

		foundLink := false
		for _, b := range result.Breaks {
			if b.BreakType == BreakTypeHashMismatch {
				foundLink = true
			}
		}
		assert.True(t, foundLink)
	})

	t.Run("detects unfrozen entry", func(t *testing.T) {
		entries := buildChain(t, 2)
		raw, err := NewEntry(EntryConsentRecorded, "admin-1", "consent/subj-2/marketing", "record_consent")
		require.NoError(t, err)
		raw.SequenceNum = 3

		result, err := VerifyChain(append(entries, raw), "")
		require.NoError(t, err)
		assert.False(t, result.IsValid)

		foundRaw := false
		for _, b := range result.Breaks {
			if b.BreakType == BreakTypeNotFrozen {
				foundRaw = true
			}
		}
		assert.True(t, foundRaw)
	})

	t.Run("anchor mismatch is a break", func(t *testing.T) {
		entries := buildChain(t, 2)
		result, err := VerifyChain(entries, "wrong-anchor")
		require.NoError(t, err)
		assert.False(t, result.IsValid)
	})
}
