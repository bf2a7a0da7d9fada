package messaging

import "strings"

// Mobile numbers are accepted when, after keeping digits and '+', their
// length falls in this range.
const (
	minMobileLength = 10
	maxMobileLength = 15
)

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := sanitizePhone(value)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// ValidMobileNumber applies the loose length check used at the HTTP edge.
// Country rules are left to the carrier.
func ValidMobileNumber(raw string) bool {
	var n int
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '+' {
			n++
		}
	}
	return n >= minMobileLength && n <= maxMobileLength
}

func sanitizePhone(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
