package rest

import (
	"time"

	"github.com/google/uuid"
)

// Request bodies. These stay separate from the engine's own request
// structs so the wire format can hold still while internals move.

type recordConsentBody struct {
	SubjectID string     `json:"subject_id"`
	Purpose   string     `json:"purpose"`
	Granted   bool       `json:"granted"`
	Source    string     `json:"source"`
	Note      string     `json:"note,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type storeRecordBody struct {
	SubjectID       string            `json:"subject_id"`
	Category        string            `json:"category"`
	PlainFields     map[string]string `json:"plain_fields,omitempty"`
	ProtectedFields map[string]string `json:"protected_fields,omitempty"`
}

type protectFieldBody struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type revealFieldBody struct {
	RecordID uuid.UUID `json:"record_id"`
	Field    string    `json:"field"`
}

type deletionBody struct {
	SubjectID string `json:"subject_id"`
}

type exportBody struct {
	SubjectID string `json:"subject_id"`
	Format    string `json:"format,omitempty"`
}

type rotateKeyBody struct {
	NewKeyID string `json:"new_key_id"`
}

type tokenizeBody struct {
	SubjectID   string `json:"subject_id"`
	CardNumber  string `json:"card_number"`
	CVC         string `json:"cvc"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	Holder      string `json:"holder"`
}

type chargeBody struct {
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

type refundBody struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        string    `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

type retentionPolicyBody struct {
	RetentionDays int    `json:"retention_days"`
	Action        string `json:"action"`
	LegalBasis    string `json:"legal_basis,omitempty"`
}

type verifyChainBody struct {
	FromSequence int64 `json:"from_sequence,omitempty"`
	ToSequence   int64 `json:"to_sequence,omitempty"`
}
