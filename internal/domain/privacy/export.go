package privacy

import (
	"strings"
	"time"
)

// FieldPolicy classifies which stored field names belong in a
// subject-facing export. Internal scoring and tracking fields are
// withheld unless the policy explicitly discloses them; everything
// else the subject's records hold is theirs to see.
type FieldPolicy struct {
	// InternalPrefixes withhold any field starting with one of these.
	InternalPrefixes []string
	// InternalFields withhold exact field names.
	InternalFields map[string]bool
	// DisclosedFields override both lists for exact field names.
	DisclosedFields map[string]bool
}

// DefaultFieldPolicy withholds the scoring and segmentation fields the
// dashboard computes about subjects but never shows them.
func DefaultFieldPolicy() FieldPolicy {
	return FieldPolicy{
		InternalPrefixes: []string{"internal_", "score_"},
		InternalFields: map[string]bool{
			"risk_score":       true,
			"fraud_score":      true,
			"churn_risk":       true,
			"behavior_segment": true,
			"lifetime_value":   true,
		},
	}
}

// IsExportable reports whether a field name may appear in an export.
func (p FieldPolicy) IsExportable(name string) bool {
	if p.DisclosedFields[name] {
		return true
	}
	if p.InternalFields[name] {
		return false
	}
	for _, prefix := range p.InternalPrefixes {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	return true
}

// ExportBundle is the portable result of a right-to-access request.
// It carries only the subject's own primary-purpose data; the field
// policy has already been applied by the time a bundle exists.
type ExportBundle struct {
	SubjectID    string              `json:"subject_id"`
	GeneratedAt  time.Time           `json:"generated_at"`
	Consents     []ConsentExport     `json:"consents"`
	Records      []RecordExport      `json:"records"`
	Transactions []TransactionExport `json:"transactions,omitempty"`
}

// ConsentExport is one consent decision as disclosed to the subject.
type ConsentExport struct {
	Purpose    string    `json:"purpose"`
	Granted    bool      `json:"granted"`
	Version    int       `json:"version"`
	Source     string    `json:"source"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecordExport is one stored record as disclosed to the subject.
// Fields holds plain values plus any protected values the processor
// chose to reveal for the export.
type RecordExport struct {
	RecordID  string            `json:"record_id"`
	Category  string            `json:"category"`
	CreatedAt time.Time         `json:"created_at"`
	Fields    map[string]string `json:"fields"`
}

// TransactionExport is one payment as disclosed to the subject. The
// instrument appears as its last four digits only.
type TransactionExport struct {
	TransactionID   string    `json:"transaction_id"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	InstrumentLast4 string    `json:"instrument_last4,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// RecordTotal returns the number of disclosed items across sections.
func (b *ExportBundle) RecordTotal() int {
	return len(b.Consents) + len(b.Records) + len(b.Transactions)
}
