package calls

import "strings"

// phoneKeyDigits is how many trailing digits identify a caller. Nine digits
// covers national numbers with or without a country prefix (+351912345678 and
// 912345678 share the key 912345678).
const phoneKeyDigits = 9

// NormalizePhone strips every non-digit and keeps the trailing nine digits.
// An empty result means the number cannot be used for consolidation.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > phoneKeyDigits {
		digits = digits[len(digits)-phoneKeyDigits:]
	}
	return digits
}
