// Package logsink provides a connector that writes market events to a
// structured log.
package logsink

import (
	"context"

	"github.com/computemarket/cmkt/internal/connectors"
	"github.com/computemarket/cmkt/internal/models"
	"github.com/rs/zerolog"
)

// Connector logs each event as one line.
type Connector struct {
	log    zerolog.Logger
	filter connectors.TypeFilter
}

// New creates a log connector.
func New(log zerolog.Logger, types []string) *Connector {
	return &Connector{
		log:    log.With().Str("connector", "log").Logger(),
		filter: connectors.NewTypeFilter(types),
	}
}

// Name returns the connector identifier.
func (c *Connector) Name() string {
	return "log"
}

// IsAllowed reports whether events of typ are logged.
func (c *Connector) IsAllowed(typ models.EventType) bool {
	return c.filter.Allows(typ)
}

// Deliver logs ev.
func (c *Connector) Deliver(_ context.Context, ev models.Event) error {
	e := c.log.Info().
		Uint64("seq", ev.Seq).
		Str("event_id", ev.ID).
		Str("type", string(ev.Type)).
		Time("at", ev.Timestamp)
	if ev.TaskID != 0 {
		e = e.Uint64("task_id", ev.TaskID)
	}
	if ev.ServiceID != 0 {
		e = e.Uint64("service_id", ev.ServiceID)
	}
	if ev.Principal != "" {
		e = e.Str("principal", ev.Principal)
	}
	if ev.Counterpart != "" {
		e = e.Str("counterpart", ev.Counterpart)
	}
	if ev.Amount != "" {
		e = e.Str("amount", ev.Amount)
	}
	if ev.ResultHash != "" {
		e = e.Str("result_hash", ev.ResultHash)
	}
	e.Msg("market event")
	return nil
}

// Close is a no-op.
func (c *Connector) Close() error {
	return nil
}
