package utils

import (
	"regexp"
	"strings"
)

// Safaricom and Airtel mobile numbers, local or international form.
var phonePattern = regexp.MustCompile(`^(254|0)?(7|1)[0-9]{8}$`)

var nonDigits = regexp.MustCompile(`[^0-9]`)

// ValidPhoneNumber reports whether phone looks like a Kenyan mobile number.
func ValidPhoneNumber(phone string) bool {
	return phonePattern.MatchString(nonDigits.ReplaceAllString(phone, ""))
}

// NormalizePhoneNumber converts a phone number to the 254 international
// format Daraja expects: "0712345678" and "712345678" both become
// "254712345678".
func NormalizePhoneNumber(phone string) string {
	digits := nonDigits.ReplaceAllString(phone, "")
	switch {
	case strings.HasPrefix(digits, "0"):
		return "254" + digits[1:]
	case !strings.HasPrefix(digits, "254"):
		return "254" + digits
	}
	return digits
}
