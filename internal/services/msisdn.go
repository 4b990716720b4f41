package services

import (
	"strings"
	"unicode"
)

// NormalizeMSISDN canonicalizes a Kenyan mobile number to its international
// form without the plus sign (2547XXXXXXXX / 2541XXXXXXXX). Accepted inputs:
// 07XX..., 01XX..., +2547XX..., 2547XX... Whitespace and dashes are ignored.
func NormalizeMSISDN(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '+' || r == ' ' || r == '-' {
			continue
		}
		return "", false
	}
	digits := b.String()

	switch {
	case len(digits) == 10 && (strings.HasPrefix(digits, "07") || strings.HasPrefix(digits, "01")):
		return "254" + digits[1:], true
	case len(digits) == 12 && (strings.HasPrefix(digits, "2547") || strings.HasPrefix(digits, "2541")):
		return digits, true
	}
	return "", false
}
