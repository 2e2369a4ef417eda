package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// Keys that are safe to log verbatim. Everything else passed through
// MaskField is treated as a secret.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"component": {},
	"error":     {},
	"reason":    {},
	"endpoint":  {},
	"username":  {},
	"driver":    {},
	"keystore":  {},
}

// IsAllowlisted reports whether key may be logged without redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns an attribute that hides value unless key is allowlisted.
// Empty values are kept so operators can see a setting is unset.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
