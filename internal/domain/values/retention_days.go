package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// RetentionDays represents a day-granular retention window for a data
// category. Governance policies express retention in whole days; the sweep
// compares record age in days against this value.
type RetentionDays struct {
	days int
}

const (
	MinRetentionDays = 1
	MaxRetentionDays = 36500 // 100 years
)

// NewRetentionDays creates a new RetentionDays value object with validation
func NewRetentionDays(days int) (RetentionDays, error) {
	if days < MinRetentionDays {
		return RetentionDays{}, errors.NewValidationError("RETENTION_TOO_SHORT",
			fmt.Sprintf("retention must be at least %d day", MinRetentionDays))
	}

	if days > MaxRetentionDays {
		return RetentionDays{}, errors.NewValidationError("RETENTION_TOO_LONG",
			fmt.Sprintf("retention cannot exceed %d days", MaxRetentionDays))
	}

	return RetentionDays{days: days}, nil
}

// NewRetentionDaysFromDuration converts a duration to whole days, rounding up
// so a partial day never shortens the window.
func NewRetentionDaysFromDuration(d time.Duration) (RetentionDays, error) {
	if d <= 0 {
		return RetentionDays{}, errors.NewValidationError("INVALID_RETENTION_DURATION",
			"retention duration must be positive")
	}

	days := int((d + 24*time.Hour - 1) / (24 * time.Hour))
	return NewRetentionDays(days)
}

// MustNewRetentionDays creates RetentionDays and panics on error (for constants/tests)
func MustNewRetentionDays(days int) RetentionDays {
	rd, err := NewRetentionDays(days)
	if err != nil {
		panic(err)
	}
	return rd
}

// Days returns the retention window in days
func (rd RetentionDays) Days() int {
	return rd.days
}

// Duration returns the retention window as a time.Duration
func (rd RetentionDays) Duration() time.Duration {
	return time.Duration(rd.days) * 24 * time.Hour
}

// String returns a human-readable string representation
func (rd RetentionDays) String() string {
	if rd.days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", rd.days)
}

// IsZero checks if the retention window is unset (invalid state)
func (rd RetentionDays) IsZero() bool {
	return rd.days == 0
}

// Equal checks if two RetentionDays values are equal
func (rd RetentionDays) Equal(other RetentionDays) bool {
	return rd.days == other.days
}

// LessThan checks if this retention window is shorter than other
func (rd RetentionDays) LessThan(other RetentionDays) bool {
	return rd.days < other.days
}

// ExpiresAt calculates when data created at the given time leaves its window
func (rd RetentionDays) ExpiresAt(createdAt time.Time) time.Time {
	return createdAt.Add(rd.Duration())
}

// ExpiredAt checks whether data created at createdAt is past its window as of now
func (rd RetentionDays) ExpiredAt(createdAt, now time.Time) bool {
	return now.After(rd.ExpiresAt(createdAt))
}

// MarshalJSON implements JSON marshaling
func (rd RetentionDays) MarshalJSON() ([]byte, error) {
	return json.Marshal(rd.days)
}

// UnmarshalJSON implements JSON unmarshaling
func (rd *RetentionDays) UnmarshalJSON(data []byte) error {
	var days int
	if err := json.Unmarshal(data, &days); err != nil {
		return err
	}

	parsed, err := NewRetentionDays(days)
	if err != nil {
		return err
	}

	*rd = parsed
	return nil
}

// Value implements driver.Valuer for database storage
func (rd RetentionDays) Value() (driver.Value, error) {
	if rd.days == 0 {
		return nil, nil
	}
	return int64(rd.days), nil
}

// Scan implements sql.Scanner for database retrieval
func (rd *RetentionDays) Scan(value interface{}) error {
	if value == nil {
		*rd = RetentionDays{}
		return nil
	}

	var days int
	switch v := value.(type) {
	case int64:
		days = int(v)
	case int:
		days = v
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("cannot parse retention days string '%s': %w", v, err)
		}
		days = parsed
	default:
		return fmt.Errorf("cannot scan %T into RetentionDays", value)
	}

	if days == 0 {
		*rd = RetentionDays{}
		return nil
	}

	parsed, err := NewRetentionDays(days)
	if err != nil {
		return err
	}

	*rd = parsed
	return nil
}
