package payment

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/values"
)

// Token is an opaque reference to a stored instrument. It is derived
// one-way from the raw number under an epoch key: the same number
// tokenizes to the same token within an epoch, and nothing recovers
// the number from the token.
type Token string

var tokenPattern = regexp.MustCompile(`^tok_[0-9a-f]{64}$`)

// NewTokenFromSum builds a token from a keyed digest.
func NewTokenFromSum(sum []byte) (Token, error) {
	if len(sum) != 32 {
		return "", errors.NewValidationError("INVALID_TOKEN_SUM",
			fmt.Sprintf("token digest must be 32 bytes, got %d", len(sum)))
	}
	return Token(fmt.Sprintf("tok_%x", sum)), nil
}

// ParseToken validates an externally supplied token string.
func ParseToken(s string) (Token, error) {
	s = strings.TrimSpace(s)
	if !tokenPattern.MatchString(s) {
		return "", errors.NewValidationError("INVALID_TOKEN", "malformed instrument token")
	}
	return Token(s), nil
}

// String returns the token text. Tokens are safe to log and store.
func (t Token) String() string {
	return string(t)
}

// IsZero reports whether the token is empty.
func (t Token) IsZero() bool {
	return t == ""
}

// Validate checks the token format.
func (t Token) Validate() error {
	_, err := ParseToken(string(t))
	return err
}

// RawInstrument is the unvalidated card input for a single request.
// It exists only in memory while tokenizing or authorizing: it is
// never persisted, and refusing serialization keeps it out of queues
// and logs by construction.
type RawInstrument struct {
	Number   values.CardNumber
	CVC      string
	ExpMonth int
	ExpYear  int
	Holder   string
}

// NewRawInstrument validates card input into a transient instrument.
func NewRawInstrument(number, cvc string, expMonth, expYear int, holder string) (RawInstrument, error) {
	card, err := values.NewCardNumber(number)
	if err != nil {
		return RawInstrument{}, err
	}
	if err := values.ValidateCVC(cvc); err != nil {
		return RawInstrument{}, err
	}
	if expMonth < 1 || expMonth > 12 {
		return RawInstrument{}, errors.NewValidationError("INVALID_EXPIRY",
			fmt.Sprintf("expiry month must be 1-12, got %d", expMonth))
	}
	if expYear < 2000 || expYear > 2100 {
		return RawInstrument{}, errors.NewValidationError("INVALID_EXPIRY",
			fmt.Sprintf("implausible expiry year %d", expYear))
	}
	holder = strings.TrimSpace(holder)
	if holder == "" {
		return RawInstrument{}, errors.NewValidationError("INVALID_HOLDER", "card holder name is required")
	}

	return RawInstrument{
		Number:   card,
		CVC:      cvc,
		ExpMonth: expMonth,
		ExpYear:  expYear,
		Holder:   holder,
	}, nil
}

// ExpiresAt returns the instant the card stops being valid: the end of
// its expiry month.
func (r RawInstrument) ExpiresAt() time.Time {
	return time.Date(r.ExpYear, time.Month(r.ExpMonth), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// IsExpired reports whether the card has lapsed at the given instant.
func (r RawInstrument) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt())
}

// MarshalJSON refuses to serialize a raw instrument.
func (r RawInstrument) MarshalJSON() ([]byte, error) {
	return nil, errors.NewPolicyViolationError("INSTRUMENT_SERIALIZATION",
		"raw payment instruments must not be serialized")
}

// String describes the instrument without its number or code.
func (r RawInstrument) String() string {
	return fmt.Sprintf("%s %s exp %02d/%d", r.Number.Brand(), r.Number.Masked(), r.ExpMonth, r.ExpYear)
}

// StoredInstrument is the persisted shape of a tokenized card: the
// token plus display metadata. The number and verification code are
// not fields here, so they cannot be stored by mistake.
type StoredInstrument struct {
	Token     Token      `json:"token"`
	SubjectID string     `json:"subject_id"`
	Brand     string     `json:"brand"`
	Last4     string     `json:"last4"`
	ExpMonth  int        `json:"exp_month"`
	ExpYear   int        `json:"exp_year"`
	Holder    string     `json:"holder"`
	KeyEpoch  int        `json:"key_epoch"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// NewStoredInstrument captures the storable metadata of a raw
// instrument under its token.
func NewStoredInstrument(token Token, subjectID string, raw RawInstrument, keyEpoch int) (*StoredInstrument, error) {
	if err := token.Validate(); err != nil {
		return nil, err
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	if keyEpoch < 1 {
		return nil, errors.NewValidationError("INVALID_KEY_EPOCH", "tokenization key epoch must be at least 1")
	}

	return &StoredInstrument{
		Token:     token,
		SubjectID: subjectID,
		Brand:     raw.Number.Brand(),
		Last4:     raw.Number.Last4(),
		ExpMonth:  raw.ExpMonth,
		ExpYear:   raw.ExpYear,
		Holder:    raw.Holder,
		KeyEpoch:  keyEpoch,
		CreatedAt: time.Now(),
	}, nil
}

// Revoke withdraws the instrument from further charges.
func (s *StoredInstrument) Revoke(now time.Time) error {
	if s.RevokedAt != nil {
		return errors.NewValidationError("ALREADY_REVOKED", "instrument is already revoked")
	}
	s.RevokedAt = &now
	return nil
}

// IsRevoked reports whether the instrument has been withdrawn.
func (s *StoredInstrument) IsRevoked() bool {
	return s.RevokedAt != nil
}

// IsExpired reports whether the card behind the token has lapsed.
func (s *StoredInstrument) IsExpired(now time.Time) bool {
	expires := time.Date(s.ExpYear, time.Month(s.ExpMonth), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return !now.Before(expires)
}

// Masked returns the display form, brand plus last four.
func (s *StoredInstrument) Masked() string {
	return fmt.Sprintf("%s ****%s", s.Brand, s.Last4)
}
