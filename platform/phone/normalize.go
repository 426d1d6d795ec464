// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	defaultRegion = "US"
	countryDigit  = "1"
	matchDigits   = 10

	maxExtensionDigits = 6
)

// Digits strips everything except ASCII digits.
func Digits(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize converts a switch-reported number to "+1XXXXXXXXXX".
// Ten digits get the country code, eleven digits starting with the country
// digit get a plus sign. Anything else is returned trimmed and unchanged with
// regular=false so the caller can log it.
func Normalize(input string) (normalized string, regular bool) {
	trimmed := strings.TrimSpace(input)
	digits := Digits(trimmed)

	switch {
	case len(digits) == 10:
		return "+" + countryDigit + digits, true
	case len(digits) == 11 && strings.HasPrefix(digits, countryDigit):
		return "+" + digits, true
	default:
		return trimmed, false
	}
}

// MatchKey returns the last ten digits used for suffix comparison, so
// "205-555-0100", "(205) 555 0100" and "+12055550100" share a key.
// Inputs with fewer digits return all of them.
func MatchKey(input string) string {
	digits := Digits(input)
	if len(digits) > matchDigits {
		return digits[len(digits)-matchDigits:]
	}
	return digits
}

// SameNumber reports whether two numbers share the same ten-digit suffix.
func SameNumber(a, b string) bool {
	ka, kb := MatchKey(a), MatchKey(b)
	return ka != "" && len(ka) == matchDigits && ka == kb
}

// Classify labels a number that Normalize left irregular, for logging. It
// never rewrites the number: "extension", "international:<region>",
// "invalid" or "empty".
func Classify(input string) string {
	trimmed := strings.TrimSpace(input)
	digits := Digits(trimmed)
	switch {
	case digits == "":
		return "empty"
	case len(digits) <= maxExtensionDigits:
		return "extension"
	}

	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil || !phonenumbers.IsValidNumber(number) {
		return "invalid"
	}
	return "international:" + phonenumbers.GetRegionCodeForNumber(number)
}
