package problem

import "encoding/json"

// Document is the wire shape of an RFC 7807 problem+json body
// (§6 External interfaces): {type, title, status, detail, instance,
// tenantId?, correlationId?, traceId?, <extensions...>}. Rendering it as
// JSON is the binding layer's job; this struct exists so every binding
// produces the same shape.
type Document struct {
	Type          string                 `json:"type"`
	Title         string                 `json:"title"`
	Status        int                    `json:"status"`
	Detail        string                 `json:"detail,omitempty"`
	Instance      string                 `json:"instance,omitempty"`
	TenantID      string                 `json:"tenantId,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	TraceID       string                 `json:"traceId,omitempty"`
	Extensions    map[string]interface{} `json:"-"`
}

// DocumentOptions carries the request-scoped identifiers merged into a
// rendered Document.
type DocumentOptions struct {
	Host          string
	Instance      string
	TenantID      string
	CorrelationID string
	TraceID       string
}

// Render builds the wire Document for e using host to build the type URI.
func (e *Error) Render(opts DocumentOptions) Document {
	status := e.Type.DefaultStatus
	if s, ok := e.Extensions["status"].(int); ok && s >= 100 && s <= 599 {
		status = s
	}
	return Document{
		Type:          e.Type.URI(opts.Host),
		Title:         e.Type.Title,
		Status:        status,
		Detail:        e.Detail,
		Instance:      opts.Instance,
		TenantID:      opts.TenantID,
		CorrelationID: opts.CorrelationID,
		TraceID:       opts.TraceID,
		Extensions:    e.Extensions,
	}
}

// MarshalJSON flattens Extensions alongside the fixed fields, matching the
// "<extensions...>" tail named in the wire shape.
func (d Document) MarshalJSON() ([]byte, error) {
	merged := make(map[string]interface{}, len(d.Extensions)+8)
	for k, v := range d.Extensions {
		merged[k] = v
	}
	merged["type"] = d.Type
	merged["title"] = d.Title
	merged["status"] = d.Status
	if d.Detail != "" {
		merged["detail"] = d.Detail
	}
	if d.Instance != "" {
		merged["instance"] = d.Instance
	}
	if d.TenantID != "" {
		merged["tenantId"] = d.TenantID
	}
	if d.CorrelationID != "" {
		merged["correlationId"] = d.CorrelationID
	}
	if d.TraceID != "" {
		merged["traceId"] = d.TraceID
	}
	return json.Marshal(merged)
}
