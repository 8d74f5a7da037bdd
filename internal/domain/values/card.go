package values

import (
	"regexp"
	"strings"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// CardNumber represents a validated primary account number. The raw digits
// live only in process memory; the type refuses JSON marshaling and its
// String form is masked, so a CardNumber can never leak whole into a log,
// an audit entry, or a persisted row.
type CardNumber struct {
	digits string
}

var (
	cardDigitsRegex = regexp.MustCompile(`^[0-9]{13,19}$`)
	cvcRegex        = regexp.MustCompile(`^[0-9]{3,4}$`)
)

// Card brands detected from the leading digits
const (
	BrandVisa       = "visa"
	BrandMastercard = "mastercard"
	BrandAmex       = "amex"
	BrandDiscover   = "discover"
	BrandUnknown    = "unknown"
)

// NewCardNumber creates a CardNumber after normalizing separators and
// validating format and Luhn checksum.
func NewCardNumber(raw string) (CardNumber, error) {
	normalized := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if normalized == "" {
		return CardNumber{}, errors.NewValidationError("EMPTY_CARD_NUMBER",
			"card number cannot be empty")
	}

	if !cardDigitsRegex.MatchString(normalized) {
		return CardNumber{}, errors.NewValidationError("INVALID_CARD_FORMAT",
			"card number must be 13 to 19 digits")
	}

	if !luhnValid(normalized) {
		return CardNumber{}, errors.NewValidationError("INVALID_CARD_CHECKSUM",
			"card number failed checksum validation")
	}

	return CardNumber{digits: normalized}, nil
}

// MustNewCardNumber creates CardNumber and panics on error (for tests)
func MustNewCardNumber(raw string) CardNumber {
	cn, err := NewCardNumber(raw)
	if err != nil {
		panic(err)
	}
	return cn
}

// Digits returns the raw account number. Callers are limited to the
// tokenizer; nothing downstream of tokenization sees this value.
func (c CardNumber) Digits() string {
	return c.digits
}

// Last4 returns the final four digits
func (c CardNumber) Last4() string {
	if len(c.digits) < 4 {
		return ""
	}
	return c.digits[len(c.digits)-4:]
}

// Brand detects the card network from the leading digits
func (c CardNumber) Brand() string {
	switch {
	case strings.HasPrefix(c.digits, "4"):
		return BrandVisa
	case c.digits[:2] >= "51" && c.digits[:2] <= "55":
		return BrandMastercard
	case strings.HasPrefix(c.digits, "34"), strings.HasPrefix(c.digits, "37"):
		return BrandAmex
	case strings.HasPrefix(c.digits, "6011"), strings.HasPrefix(c.digits, "65"):
		return BrandDiscover
	default:
		return BrandUnknown
	}
}

// Masked returns the display form, e.g. "****4242"
func (c CardNumber) Masked() string {
	if c.digits == "" {
		return ""
	}
	return "****" + c.Last4()
}

// String returns the masked form, never the raw digits
func (c CardNumber) String() string {
	return c.Masked()
}

// IsZero checks if the card number is unset
func (c CardNumber) IsZero() bool {
	return c.digits == ""
}

// MarshalJSON refuses serialization. A CardNumber must not travel in any
// encoded payload; persist the token and last4 instead.
func (c CardNumber) MarshalJSON() ([]byte, error) {
	return nil, errors.NewPolicyViolationError("PAN_SERIALIZATION",
		"card numbers cannot be serialized")
}

// ValidateCVC checks a card verification code without retaining it. There is
// intentionally no CVC type: the code is used at authorization time and
// discarded.
func ValidateCVC(code string) error {
	if code == "" {
		return errors.NewValidationError("EMPTY_CVC", "verification code cannot be empty")
	}

	if !cvcRegex.MatchString(code) {
		return errors.NewValidationError("INVALID_CVC_FORMAT",
			"verification code must be 3 or 4 digits")
	}

	return nil
}

// luhnValid implements the Luhn checksum over a digit string
func luhnValid(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
