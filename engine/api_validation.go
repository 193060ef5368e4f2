package engine

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/czvisa/monitor/engine/config"
)

// maxInputLen bounds every user-supplied string accepted over the HTTP API.
const maxInputLen = 256

var primaryCodeRE = regexp.MustCompile(`^[A-Z]{4}\d{12}$`)

// validateCode normalizes and validates a code against either the primary
// format (4 uppercase letters, 12 digits) or the canonical secondary/OAM
// format, returning the canonical stored form.
func validateCode(raw string) (string, error) {
	if len(raw) > maxInputLen {
		return "", fmt.Errorf("code exceeds %d characters", maxInputLen)
	}
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "", fmt.Errorf("code is required")
	}
	if primaryCodeRE.MatchString(code) {
		return code, nil
	}
	if parts, err := config.ParseSecondaryCode(code); err == nil {
		return config.FormatSecondaryCode(parts), nil
	}
	return "", fmt.Errorf("invalid code format")
}

// validateEmail normalizes and validates an email address against the
// standard addr-spec.
func validateEmail(raw string) (string, error) {
	if len(raw) > maxInputLen {
		return "", fmt.Errorf("email exceeds %d characters", maxInputLen)
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("email is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid email format")
	}
	return strings.ToLower(addr.Address), nil
}

// validateBoundedOptional length-bounds a field that is not otherwise
// format-validated (verification codes, session ids), allowing it to be
// empty when the caller uses the other half of a dual-mode auth check.
func validateBoundedOptional(raw, field string) (string, error) {
	if len(raw) > maxInputLen {
		return "", fmt.Errorf("%s exceeds %d characters", field, maxInputLen)
	}
	return strings.TrimSpace(raw), nil
}

// maskEmail hides the local part of an email beyond its first three
// characters, used to hint at the owner of an already-monitored code
// without fully disclosing their address.
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at < 0 {
		return "hidden"
	}
	local, domain := email[:at], email[at+1:]
	if len(local) > 3 {
		local = local[:3]
	}
	return local + "***@" + domain
}
