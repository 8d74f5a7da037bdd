package audit

// EntryType identifies the governance action an audit entry records
type EntryType string

const (
	// Consent lifecycle
	EntryConsentRecorded       EntryType = "consent.recorded"
	EntryConsentRevoked        EntryType = "consent.revoked"
	EntryLegitimateInterestHit EntryType = "consent.legitimate_interest"

	// Sensitive data handling
	EntryRecordStored     EntryType = "data.record_stored"
	EntryFieldProtected   EntryType = "data.field_protected"
	EntryFieldRevealed    EntryType = "data.field_revealed"
	EntryRecordAnonymized EntryType = "data.record_anonymized"

	// Privacy requests
	EntryErasureRequested   EntryType = "privacy.erasure_requested"
	EntryErasureCompleted   EntryType = "privacy.erasure_completed"
	EntryErasureFailed      EntryType = "privacy.erasure_failed"
	EntryErasureReplayed    EntryType = "privacy.erasure_replayed"
	EntryExportRequested    EntryType = "privacy.export_requested"
	EntryExportCompleted    EntryType = "privacy.export_completed"
	EntryExportFailed       EntryType = "privacy.export_failed"
	EntryExportReplayed     EntryType = "privacy.export_replayed"
	EntryObligationRaised   EntryType = "privacy.obligation_raised"
	EntryObligationVerified EntryType = "privacy.obligation_verified"

	// Retention enforcement
	EntryRetentionPurged        EntryType = "retention.purged"
	EntryRetentionAnonymized    EntryType = "retention.anonymized"
	EntrySweepCompleted         EntryType = "retention.sweep_completed"
	EntryRetentionPolicyChanged EntryType = "retention.policy_changed"

	// Payment tokenization
	EntryInstrumentTokenized EntryType = "payment.tokenized"
	EntryInstrumentRevoked   EntryType = "payment.instrument_revoked"
	EntryChargeProcessed     EntryType = "payment.charged"
	EntryChargeDeclined      EntryType = "payment.declined"
	EntryRefundProcessed     EntryType = "payment.refunded"

	// Access control
	EntryAccessDenied EntryType = "access.denied"

	// Key management
	EntryKeyRotated EntryType = "crypto.key_rotated"

	// System lifecycle
	EntrySystemStartup  EntryType = "system.startup"
	EntrySystemShutdown EntryType = "system.shutdown"
	EntryChainVerified  EntryType = "system.chain_verified"
)

// Severity indicates the operational weight of an entry
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Outcome records how the audited action ended
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Actor types
const (
	ActorTypeUser    = "user"
	ActorTypeService = "service"
	ActorTypeSystem  = "system"
)

var validEntryTypes = map[EntryType]bool{
	EntryConsentRecorded:        true,
	EntryConsentRevoked:         true,
	EntryLegitimateInterestHit:  true,
	EntryRecordStored:           true,
	EntryFieldProtected:         true,
	EntryFieldRevealed:          true,
	EntryRecordAnonymized:       true,
	EntryErasureRequested:       true,
	EntryErasureCompleted:       true,
	EntryErasureFailed:          true,
	EntryErasureReplayed:        true,
	EntryExportRequested:        true,
	EntryExportCompleted:        true,
	EntryExportFailed:           true,
	EntryExportReplayed:         true,
	EntryObligationRaised:       true,
	EntryObligationVerified:     true,
	EntryRetentionPurged:        true,
	EntryRetentionAnonymized:    true,
	EntrySweepCompleted:         true,
	EntryRetentionPolicyChanged: true,
	EntryInstrumentTokenized:    true,
	EntryInstrumentRevoked:      true,
	EntryChargeProcessed:        true,
	EntryChargeDeclined:         true,
	EntryRefundProcessed:        true,
	EntryAccessDenied:           true,
	EntryKeyRotated:             true,
	EntrySystemStartup:          true,
	EntrySystemShutdown:         true,
	EntryChainVerified:          true,
}

// IsValid reports whether the entry type is part of the known vocabulary
func (t EntryType) IsValid() bool {
	return validEntryTypes[t]
}

// Category groups the entry type for filtering and reporting
func (t EntryType) Category() string {
	switch t {
	case EntryConsentRecorded, EntryConsentRevoked, EntryLegitimateInterestHit:
		return "consent"
	case EntryRecordStored, EntryFieldProtected, EntryFieldRevealed, EntryRecordAnonymized:
		return "data"
	case EntryErasureRequested, EntryErasureCompleted, EntryErasureFailed, EntryErasureReplayed,
		EntryExportRequested, EntryExportCompleted, EntryExportFailed, EntryExportReplayed,
		EntryObligationRaised, EntryObligationVerified:
		return "privacy"
	case EntryRetentionPurged, EntryRetentionAnonymized, EntrySweepCompleted, EntryRetentionPolicyChanged:
		return "retention"
	case EntryInstrumentTokenized, EntryInstrumentRevoked, EntryChargeProcessed,
		EntryChargeDeclined, EntryRefundProcessed:
		return "payment"
	case EntryAccessDenied:
		return "access"
	case EntryKeyRotated:
		return "crypto"
	default:
		return "system"
	}
}

// IsValid reports whether the severity is a known level
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// IsValid reports whether the outcome is a known value
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeDenied:
		return true
	}
	return false
}
