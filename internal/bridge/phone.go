package bridge

import "strings"

// NormalizePhone reduces a counterpart address to canonical +digits form so
// the poller, orchestrator, and store all key on the same identity.
// "+1 (555) 000-1234", "0015550001234" and "15550001234" normalize alike;
// addresses with no digits are returned unchanged.
func NormalizePhone(address string) string {
	var digits strings.Builder
	for _, r := range address {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return address
	}

	n := strings.TrimPrefix(digits.String(), "00")
	return "+" + n
}
