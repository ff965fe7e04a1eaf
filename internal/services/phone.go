package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BradenHooton/otpdesk/internal/models"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// NormalizePhone strips common separators and requires E.164 format
func NormalizePhone(phone string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))

	if !e164Pattern.MatchString(cleaned) {
		return "", fmt.Errorf("%q: %w", phone, models.ErrInvalidPhone)
	}
	return cleaned, nil
}
