// Package normalize reduces human-typed phone numbers and passcodes to the
// digit-only forms the store keys on.
package normalize

import "strings"

const (
	countryCode   = "972"
	intlPrefix    = "00" + countryCode
	trunkPrefix   = "0"
	minLocalDigit = 8
)

// Digits drops every rune that is not an ASCII digit.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Phone normalizes an Israeli phone number to its domestic form, so that
// "+972-50-123-4567", "00972501234567" and "050 1234567" all become
// "0501234567". Numbers without a recognised international prefix are
// returned as bare digits.
func Phone(s string) string {
	d := Digits(s)
	switch {
	case strings.HasPrefix(d, intlPrefix) && len(d)-len(intlPrefix) >= minLocalDigit:
		d = d[len(intlPrefix):]
	case strings.HasPrefix(d, countryCode) && len(d)-len(countryCode) >= minLocalDigit:
		d = d[len(countryCode):]
	default:
		return d
	}
	// "+972 050..." carries a redundant trunk zero.
	return trunkPrefix + strings.TrimLeft(d, "0")
}

// Code keeps only the digits of a passcode. It is idempotent.
func Code(s string) string { return Digits(s) }
