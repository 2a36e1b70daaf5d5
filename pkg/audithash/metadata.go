package audithash

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Metadata is the canonical, ASCII, line-oriented representation hashed for
// every audit entry. Field order is fixed; absent optional fields render as
// "-".
type Metadata struct {
	Schema        string
	Tenant        string
	Action        string
	ResourceType  string
	ResourceID    string
	Actor         string
	OccurredAtMS  int64
	EntityVersion *int64
	Roles         []string
	Risk          string
	TraceID       string
	CorrelationID string
	Client        string
	Reason        string
	// Attributes keys must be lower-kebab-case (≤40 chars); values ASCII (≤120 chars).
	Attributes map[string]string
}

var (
	attrKeyPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	codePattern    = regexp.MustCompile(`^[A-Za-z0-9._:\-]{2,80}$`)
)

// Validate checks the shape constraints named in the data model: attribute
// key format/length, ASCII value length, and code pattern for Action/Risk.
func (m Metadata) Validate() error {
	if !codePattern.MatchString(m.Action) {
		return fmt.Errorf("audithash: invalid action code %q", m.Action)
	}
	if m.Risk != "" && !codePattern.MatchString(m.Risk) {
		return fmt.Errorf("audithash: invalid risk code %q", m.Risk)
	}
	for k, v := range m.Attributes {
		if len(k) > 40 || !attrKeyPattern.MatchString(k) {
			return fmt.Errorf("audithash: invalid attribute key %q", k)
		}
		if !isASCII(v) || len(v) > 120 {
			return fmt.Errorf("audithash: invalid attribute value for %q", k)
		}
	}
	return nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Canonicalize renders m as the fixed-order ASCII line used as hash input:
// schema, tenant, action, resourceType, resourceId, actor, occurredAt-millis,
// entityVersion|-, roles sorted alpha|-, risk, traceId|-, correlationId|-,
// client|-, reason|-, attributes sorted by key joined with ";"|-.
func (m Metadata) Canonicalize() []byte {
	fields := []string{
		orDash(m.Schema),
		orDash(m.Tenant),
		orDash(m.Action),
		orDash(m.ResourceType),
		orDash(m.ResourceID),
		orDash(m.Actor),
		strconv.FormatInt(m.OccurredAtMS, 10),
		entityVersionField(m.EntityVersion),
		rolesField(m.Roles),
		orDash(m.Risk),
		orDash(m.TraceID),
		orDash(m.CorrelationID),
		orDash(m.Client),
		orDash(m.Reason),
		attributesField(m.Attributes),
	}
	return []byte(strings.Join(fields, "\n"))
}

func entityVersionField(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}

func rolesField(roles []string) string {
	if len(roles) == 0 {
		return "-"
	}
	sorted := append([]string(nil), roles...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func attributesField(attrs map[string]string) string {
	if len(attrs) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + attrs[k]
	}
	return strings.Join(parts, ";")
}
