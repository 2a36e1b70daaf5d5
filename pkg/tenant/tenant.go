// Package tenant is the single source of truth for the active tenant:
// identifier validation, context-scoped propagation, and extraction from
// carriers (HTTP headers, JWT claims, message headers, log context) with a
// fixed precedence.
package tenant

import (
	"regexp"
	"strings"

	"github.com/mabumohsen/veggieshop-sub000/pkg/problem"
)

var idPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ID is a validated, normalized tenant identifier: lowercase ASCII with
// digits and single hyphens, length 3–63, no leading/trailing hyphen, no
// "--". Once constructed it is immutable.
type ID string

// Parse validates and normalizes s (trim + lowercase) into an ID.
func Parse(s string) (ID, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if !isValidNormalized(normalized) {
		return "", problem.New(problem.ValidationFailed, "invalid tenant id", map[string]interface{}{
			"field": "tenantId",
			"value": truncate(s, 64),
		})
	}
	return ID(normalized), nil
}

// IsValid reports whether s parses to itself after normalization, i.e.
// IsValid(s) ⇔ Parse(s).normalized == s.
func IsValid(s string) bool {
	id, err := Parse(s)
	return err == nil && string(id) == s
}

func isValidNormalized(s string) bool {
	if len(s) < 3 || len(s) > 63 {
		return false
	}
	if strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-") {
		return false
	}
	if strings.Contains(s, "--") {
		return false
	}
	return idPattern.MatchString(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// String returns the normalized identifier.
func (id ID) String() string {
	return string(id)
}

// Obfuscated returns a log-safe form retaining the first 3 and last 2
// characters, e.g. "acm…rp" for "acme-corp", or the id itself when too short
// to obfuscate meaningfully.
func (id ID) Obfuscated() string {
	s := string(id)
	if len(s) <= 5 {
		return s
	}
	return s[:3] + "…" + s[len(s)-2:]
}
