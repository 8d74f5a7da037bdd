// Package sanitize detects secret material in free text before it
// reaches a store or a log. Detection rejects, never redacts: a hit
// returns a policy violation so the caller has to fix the payload.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

var (
	// Keys whose values are secret by definition, whatever they contain
	secretKeyPattern = regexp.MustCompile(
		`(?i)^(password|passwd|secret|cvv|cvc|card_number|pan|authorization|api_key|private_key|access_token|session_token)$`)

	// Card-length digit runs, separators allowed. Candidates are confirmed
	// with a Luhn check so timestamps and counters do not trip the scan.
	digitRunPattern = regexp.MustCompile(`(?:\d[ -]?){12,18}\d`)

	// Credential-bearing header values
	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]+=*`)
)

// CheckKey rejects field names that declare their value secret.
func CheckKey(key string) error {
	if secretKeyPattern.MatchString(key) {
		return errors.NewPolicyViolationError("SECRET_KEY_NAME",
			fmt.Sprintf("field key %q names secret material", key))
	}
	return nil
}

// CheckValue rejects free text carrying embedded secret material. The
// field name is only used to label the violation.
func CheckValue(field, value string) error {
	if value == "" {
		return nil
	}

	if bearerPattern.MatchString(value) {
		return errors.NewPolicyViolationError("CREDENTIAL_VALUE",
			fmt.Sprintf("field %q carries a bearer credential", field))
	}

	for _, run := range digitRunPattern.FindAllString(value, -1) {
		digits := stripSeparators(run)
		if len(digits) >= 13 && len(digits) <= 19 && LuhnValid(digits) {
			return errors.NewPolicyViolationError("PAN_VALUE",
				fmt.Sprintf("field %q carries a card-like digit run", field))
		}
	}

	return nil
}

// CheckPair runs both the key and value checks on one field.
func CheckPair(key, value string) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	return CheckValue(key, value)
}

// LuhnValid reports whether a digit string passes the Luhn checksum.
func LuhnValid(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
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

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, s)
}
