// Package audit records security-relevant events. The sink contract is
// append-only: acknowledged writes are never reordered, mutated or lost,
// and timestamps are non-decreasing in write order.
package audit

import (
	"context"

	"github.com/quollsec/strongbox/internal/vault/domain"
)

// Sink is the pluggable audit backend.
type Sink interface {
	// Append writes one event. Implementations assign the timestamp at
	// write time so ordering matches the write order.
	Append(ctx context.Context, actor, action string, metadata map[string]any) error

	Close() error
}

// Event re-exports the domain record for sink implementations.
type Event = domain.AuditEvent
