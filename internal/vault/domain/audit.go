package domain

import "time"

// AuditEvent is one immutable security-relevant record. Events are
// append-only: once written they are never mutated or reordered, and
// timestamps are non-decreasing in write order.
type AuditEvent struct {
	ID        string         `json:"id"` // ULID
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
