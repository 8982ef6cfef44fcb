package messaging

import (
	"regexp"
	"strings"
)

var phoneDigitsRe = regexp.MustCompile(`\d+`)

// FormatPhoneNumber normalizes a raw phone number to E.164. A bare 10-digit
// number is assumed to be US and prefixed +1; an 11-digit number starting with
// 1 gets a + prefix; anything else keeps its digits behind a + sign.
func FormatPhoneNumber(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := sanitizePhone(value)
	if digits == "" {
		return ""
	}
	if !strings.HasPrefix(value, "+") && len(digits) == 10 {
		return "+1" + digits
	}
	return "+" + digits
}

func sanitizePhone(value string) string {
	if value == "" {
		return ""
	}
	digits := phoneDigitsRe.FindAllString(value, -1)
	return strings.Join(digits, "")
}
