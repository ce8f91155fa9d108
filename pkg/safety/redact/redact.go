// Package redact implements the Redaction engine from spec.md §4.D: a
// pattern-based masker for strings/maps/slices, generalizing the teacher's
// infrastructure/redaction package with email/IP/bearer-token detectors
// and a dynamic set of known secret values supplied through
// SetKnownSecrets.
package redact

import (
	"net"
	"regexp"
	"strings"
	"sync"
)

var staticPatterns = []*regexp.Regexp{
	// email
	regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`),
	// bearer tokens / JWT-shaped strings
	regexp.MustCompile(`(?i)Bearer\s+[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`),
	// key=value / key: value secret-bearing fields
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|token|auth|password|private[_-]?key|privkey|access[_-]?key|aws[_-]?secret|credential)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`),
}

// Config mirrors the teacher's SecretConfig shape.
type Config struct {
	Enabled       bool
	Mask          string
	BlockedFields []string
}

// DefaultConfig masks aggressively by default.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Mask:    "***REDACTED***",
		BlockedFields: []string{
			"password", "secret", "token", "apikey", "api_key",
			"private_key", "credential", "credentials_ref",
		},
	}
}

// Redactor masks known-secret substrings while preserving surrounding
// structure. It is idempotent: Redact(Redact(x)) == Redact(x).
type Redactor struct {
	cfg Config

	mu      sync.RWMutex
	dynamic []string // verbatim secret values set by SetKnownSecrets
}

// New builds a Redactor from cfg.
func New(cfg Config) *Redactor {
	if cfg.Mask == "" {
		cfg.Mask = "***REDACTED***"
	}
	return &Redactor{cfg: cfg}
}

// SetKnownSecrets replaces the dynamic secret set consulted by RedactString.
// The set holds whatever values the caller passes; nothing in this module
// fills it from the Vault or refreshes it on a schedule.
func (r *Redactor) SetKnownSecrets(values []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dynamic = append([]string(nil), values...)
}

// RedactString returns s with every matched secret substring replaced by
// the configured mask. Structure (surrounding text, field separators) is
// preserved.
func (r *Redactor) RedactString(s string) string {
	if !r.cfg.Enabled {
		return s
	}

	out := s
	for _, pattern := range staticPatterns {
		out = pattern.ReplaceAllStringFunc(out, func(match string) string {
			return maskKeepingLabel(pattern, match, r.cfg.Mask)
		})
	}
	out = maskIPAddresses(out, r.cfg.Mask)

	r.mu.RLock()
	dynamic := r.dynamic
	r.mu.RUnlock()
	for _, secret := range dynamic {
		if secret == "" {
			continue
		}
		out = strings.ReplaceAll(out, secret, r.cfg.Mask)
	}
	return out
}

// maskKeepingLabel keeps the leading key label when the pattern captured
// one (group 1) and masks only the value, always writing the result as
// "key: " + mask, so a "key=value" pair comes out in the "key: " form.
func maskKeepingLabel(pattern *regexp.Regexp, match, mask string) string {
	sub := pattern.FindStringSubmatch(match)
	if len(sub) >= 2 && sub[1] != "" && strings.Contains(match, sub[1]) {
		return sub[1] + ": " + mask
	}
	return mask
}

// ipLike matches dotted-quad IPv4 and colon-separated IPv6 candidates;
// net.ParseIP then confirms before masking, to avoid false positives on
// version strings like "1.2.3.4" embedded in unrelated text being the only
// signal — this still masks such strings since a valid dotted quad is
// indistinguishable from an IP address without more context, which is the
// conservative (over-redact, never under-redact) choice for a safety tool.
var ipLike = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b|\b[0-9a-fA-F]{0,4}(?::[0-9a-fA-F]{0,4}){2,7}\b`)

func maskIPAddresses(s, mask string) string {
	return ipLike.ReplaceAllStringFunc(s, func(match string) string {
		if net.ParseIP(match) != nil {
			return mask
		}
		return match
	})
}

// RedactMap recursively masks blocked field names and string values within
// m, mirroring the teacher's RedactMap/RedactSlice pair.
func (r *Redactor) RedactMap(m map[string]any) map[string]any {
	if !r.cfg.Enabled {
		return m
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case r.isBlockedField(k):
			out[k] = r.cfg.Mask
		case v == nil:
			out[k] = v
		default:
			out[k] = r.redactValue(v)
		}
	}
	return out
}

func (r *Redactor) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.RedactString(val)
	case map[string]any:
		return r.RedactMap(val)
	case []any:
		return r.redactSlice(val)
	default:
		return val
	}
}

func (r *Redactor) redactSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = r.redactValue(v)
	}
	return out
}

func (r *Redactor) isBlockedField(field string) bool {
	lower := strings.ToLower(field)
	for _, blocked := range r.cfg.BlockedFields {
		if strings.Contains(lower, strings.ToLower(blocked)) {
			return true
		}
	}
	return false
}
