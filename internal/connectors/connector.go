// Package connectors defines the outbound delivery interface for committed
// market events.
package connectors

import (
	"context"

	"github.com/computemarket/cmkt/internal/models"
)

// Connector delivers committed events to an external system.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Deliver sends one event. It must be safe to call again with the same
	// event after a failure; consumers dedupe by event ID.
	Deliver(ctx context.Context, ev models.Event) error

	// IsAllowed reports whether the connector wants events of this type.
	IsAllowed(typ models.EventType) bool

	// Close releases connector resources.
	Close() error
}

// TypeFilter is an allowlist of event types. An empty filter allows all.
type TypeFilter map[models.EventType]bool

// NewTypeFilter builds a filter from type names.
func NewTypeFilter(types []string) TypeFilter {
	f := make(TypeFilter, len(types))
	for _, t := range types {
		f[models.EventType(t)] = true
	}
	return f
}

// Allows reports whether typ passes the filter.
func (f TypeFilter) Allows(typ models.EventType) bool {
	return len(f) == 0 || f[typ]
}
