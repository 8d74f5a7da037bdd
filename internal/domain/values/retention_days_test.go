package values

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRetentionDays(t *testing.T) {
	tests := []struct {
		name    string
		days    int
		wantErr bool
		errCode string
	}{
		{name: "one day minimum", days: 1},
		{name: "typical window", days: 90},
		{name: "maximum", days: MaxRetentionDays},
		{name: "zero", days: 0, wantErr: true, errCode: "RETENTION_TOO_SHORT"},
		{name: "negative", days: -5, wantErr: true, errCode: "RETENTION_TOO_SHORT"},
		{name: "over maximum", days: MaxRetentionDays + 1, wantErr: true, errCode: "RETENTION_TOO_LONG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rd, err := NewRetentionDays(tt.days)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errCode)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.days, rd.Days())
		})
	}
}

func TestNewRetentionDaysFromDuration(t *testing.T) {
	t.Run("whole days", func(t *testing.T) {
		rd, err := NewRetentionDaysFromDuration(72 * time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 3, rd.Days())
	})

	t.Run("partial day rounds up", func(t *testing.T) {
		rd, err := NewRetentionDaysFromDuration(25 * time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 2, rd.Days())
	})

	t.Run("non positive rejected", func(t *testing.T) {
		_, err := NewRetentionDaysFromDuration(0)
		assert.Error(t, err)
	})
}

func TestRetentionDaysExpiry(t *testing.T) {
	rd := MustNewRetentionDays(30)
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("inside window", func(t *testing.T) {
		now := created.Add(29 * 24 * time.Hour)
		assert.False(t, rd.ExpiredAt(created, now))
	})

	t.Run("past window", func(t *testing.T) {
		now := created.Add(31 * 24 * time.Hour)
		assert.True(t, rd.ExpiredAt(created, now))
	})

	t.Run("expiry boundary", func(t *testing.T) {
		assert.Equal(t, created.Add(30*24*time.Hour), rd.ExpiresAt(created))
	})
}

func TestRetentionDaysComparison(t *testing.T) {
	short := MustNewRetentionDays(30)
	long := MustNewRetentionDays(365)

	assert.True(t, short.LessThan(long))
	assert.False(t, long.LessThan(short))
	assert.True(t, short.Equal(MustNewRetentionDays(30)))
}
