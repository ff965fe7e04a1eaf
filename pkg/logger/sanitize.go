package logger

import (
	"log/slog"
	"strings"
)

// MaskPhone keeps only the last four digits of a phone number (e.g. "***4567")
func MaskPhone(phone string) string {
	return "***" + PhoneSuffix(phone)
}

// PhoneSuffix returns the last four digits of a phone number for correlation
func PhoneSuffix(phone string) string {
	digits := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	if len(digits) <= 4 {
		return string(digits)
	}
	return string(digits[len(digits)-4:])
}

// PresenceAttr logs only whether a sensitive value is set
func PresenceAttr(key, value string) slog.Attr {
	return slog.Bool(key+"_present", value != "")
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"password",
		"token",
		"secret",
		"session",
		"code",
		"phone",
		"api_key",
		"auth",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
