package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// ExportFormat represents a supported serialization format for subject data
// exports and accounting extracts.
type ExportFormat struct {
	format string
}

// Supported export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var (
	formatMimeTypes = map[string]string{
		FormatJSON: "application/json",
		FormatCSV:  "text/csv",
	}

	formatExtensions = map[string]string{
		FormatJSON: ".json",
		FormatCSV:  ".csv",
	}

	supportedFormats = map[string]bool{
		FormatJSON: true,
		FormatCSV:  true,
	}
)

// NewExportFormat creates a new ExportFormat value object with validation
func NewExportFormat(format string) (ExportFormat, error) {
	if format == "" {
		return ExportFormat{}, errors.NewValidationError("EMPTY_FORMAT",
			"export format cannot be empty")
	}

	normalized := strings.ToLower(strings.TrimSpace(format))
	normalized = strings.TrimPrefix(normalized, ".")

	if !supportedFormats[normalized] {
		return ExportFormat{}, errors.NewValidationError("UNSUPPORTED_FORMAT",
			fmt.Sprintf("export format '%s' is not supported", format))
	}

	return ExportFormat{format: normalized}, nil
}

// MustNewExportFormat creates ExportFormat and panics on error (for constants/tests)
func MustNewExportFormat(format string) ExportFormat {
	ef, err := NewExportFormat(format)
	if err != nil {
		panic(err)
	}
	return ef
}

// DefaultExportFormat returns the JSON format used when a request does not
// specify one.
func DefaultExportFormat() ExportFormat {
	return ExportFormat{format: FormatJSON}
}

// String returns the normalized format name
func (ef ExportFormat) String() string {
	return ef.format
}

// MimeType returns the MIME type for the format
func (ef ExportFormat) MimeType() string {
	return formatMimeTypes[ef.format]
}

// Extension returns the file extension including the dot
func (ef ExportFormat) Extension() string {
	return formatExtensions[ef.format]
}

// FileName builds a file name with the format's extension
func (ef ExportFormat) FileName(base string) string {
	return base + ef.Extension()
}

// IsZero checks if the format is unset
func (ef ExportFormat) IsZero() bool {
	return ef.format == ""
}

// Equal checks if two ExportFormat values are equal
func (ef ExportFormat) Equal(other ExportFormat) bool {
	return ef.format == other.format
}

// MarshalJSON implements JSON marshaling
func (ef ExportFormat) MarshalJSON() ([]byte, error) {
	return json.Marshal(ef.format)
}

// UnmarshalJSON implements JSON unmarshaling
func (ef *ExportFormat) UnmarshalJSON(data []byte) error {
	var format string
	if err := json.Unmarshal(data, &format); err != nil {
		return err
	}

	parsed, err := NewExportFormat(format)
	if err != nil {
		return err
	}

	*ef = parsed
	return nil
}

// Value implements driver.Valuer for database storage
func (ef ExportFormat) Value() (driver.Value, error) {
	if ef.format == "" {
		return nil, nil
	}
	return ef.format, nil
}

// Scan implements sql.Scanner for database retrieval
func (ef *ExportFormat) Scan(value interface{}) error {
	if value == nil {
		*ef = ExportFormat{}
		return nil
	}

	var format string
	switch v := value.(type) {
	case string:
		format = v
	case []byte:
		format = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ExportFormat", value)
	}

	parsed, err := NewExportFormat(format)
	if err != nil {
		return err
	}

	*ef = parsed
	return nil
}
