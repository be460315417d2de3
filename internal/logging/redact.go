package logging

import (
	"regexp"
	"strings"
)

// redactedPlaceholder replaces values too short to fingerprint safely.
const redactedPlaceholder = "[REDACTED]"

// sensitiveKeys is the case-insensitive set of key names whose values are
// fingerprinted before reaching any sink. Matching is substring-based so
// "github_token" and "Authorization" both hit.
var sensitiveKeys = []string{
	"token",
	"secret",
	"password",
	"passwd",
	"key",
	"authorization",
	"auth",
	"credential",
	"signature",
	"bearer",
	"webhook",
	"cookie",
}

// SensitiveKey reports whether a map key names a secret-bearing field.
func SensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Fingerprint reduces a secret to a fixed-length remnant: the last 4
// characters prefixed with "***". Values shorter than 8 characters return
// the constant placeholder so the remnant never covers most of the secret.
func Fingerprint(value string) string {
	if len(value) < 8 {
		return redactedPlaceholder
	}
	return "***" + value[len(value)-4:]
}

// Redact recursively walks maps and slices, replacing any value under a
// sensitive key with its fingerprint. It returns a new structure; the
// caller's input is never mutated.
func Redact(data any) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if SensitiveKey(k) {
				out[k] = fingerprintValue(val)
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, val := range v {
			if SensitiveKey(k) {
				out[k] = Fingerprint(val)
				continue
			}
			out[k] = val
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = Redact(val)
		}
		return out
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	default:
		return data
	}
}

// RedactMap is a convenience wrapper for the common map[string]any case.
func RedactMap(data map[string]any) map[string]any {
	redacted, _ := Redact(data).(map[string]any)
	return redacted
}

// Free-text patterns caught by RedactString. The value capture excludes
// strings starting with "*" or "[" so an already-fingerprinted value is
// never re-redacted (RedactString is idempotent).
var (
	authPattern  = regexp.MustCompile(`(?i)\b((?:authorization\s*[=:]\s*)?bearer\s+|authorization\s*[=:]\s*)([^\s*\[]\S*)`)
	kvPattern    = regexp.MustCompile(`(?i)\b(token|secret|password|passwd|api[_-]?key|credential|signature)(\s*[=:]\s*)([^\s*\[]\S*)`)
	tokenPattern = regexp.MustCompile(`\b(gh[pousr]_[A-Za-z0-9_]{8,}|github_pat_[A-Za-z0-9_]{8,})\b`)
)

// RedactString fingerprints secret-shaped content inside free text. Use it
// for human-written detail strings that cannot go through key-based Redact.
func RedactString(s string) string {
	if s == "" {
		return s
	}
	out := authPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := authPattern.FindStringSubmatch(m)
		return parts[1] + Fingerprint(parts[2])
	})
	out = kvPattern.ReplaceAllStringFunc(out, func(m string) string {
		parts := kvPattern.FindStringSubmatch(m)
		return parts[1] + parts[2] + Fingerprint(parts[3])
	})
	out = tokenPattern.ReplaceAllStringFunc(out, Fingerprint)
	return out
}

func fingerprintValue(v any) any {
	if s, ok := v.(string); ok {
		return Fingerprint(s)
	}
	// Non-string secrets (numbers, nested maps under a sensitive key) are
	// dropped wholesale rather than walked.
	return redactedPlaceholder
}
