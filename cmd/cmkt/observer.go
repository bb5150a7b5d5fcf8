package main

import (
	"context"
	"time"

	"github.com/computemarket/cmkt/internal/market"
	"github.com/computemarket/cmkt/internal/metrics"
	"github.com/computemarket/cmkt/internal/notify"
	"github.com/computemarket/cmkt/internal/store"
	"github.com/rs/zerolog"
)

// gaugeInterval bounds how stale the escrow gauges can get when no events
// arrive.
const gaugeInterval = 15 * time.Second

// observer feeds committed events into the metrics and keeps the escrow
// gauges current.
type observer struct {
	store  *store.Store
	market *market.Service
	hub    *notify.Hub
	log    zerolog.Logger
}

func newObserver(s *store.Store, m *market.Service, hub *notify.Hub, log zerolog.Logger) *observer {
	return &observer{store: s, market: m, hub: hub, log: log}
}

// Run consumes events until ctx is done. A dropped subscription is replaced
// and the gauges recomputed, since counts are read from the store.
func (o *observer) Run(ctx context.Context) {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()

	sub := o.hub.Subscribe(notify.DefaultBuffer)
	defer func() { sub.Close() }()
	o.refresh()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				o.log.Warn().Msg("event subscription dropped, resubscribing")
				sub = o.hub.Subscribe(notify.DefaultBuffer)
				o.refresh()
				continue
			}
			metrics.RecordEvent(ev)
			o.refresh()
		case <-ticker.C:
			o.refresh()
		}
	}
}

func (o *observer) refresh() {
	report, err := o.market.CheckInvariant()
	if err != nil {
		o.log.Error().Err(err).Msg("check escrow invariant")
		return
	}
	metrics.SetEscrow(report.EscrowBalance, report.Holds)
	if !report.Holds {
		o.log.Error().Str("report", report.String()).Msg("escrow invariant broken")
	}

	counts, err := o.store.CountTasksByStatus()
	if err != nil {
		o.log.Error().Err(err).Msg("count tasks")
		return
	}
	metrics.SetTaskCounts(counts)
}
