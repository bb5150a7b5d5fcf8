package relay

import (
	"context"
	"sync"
	"time"

	"github.com/computemarket/cmkt/internal/connectors"
	"github.com/computemarket/cmkt/internal/metrics"
	"github.com/computemarket/cmkt/internal/models"
	"github.com/computemarket/cmkt/internal/store"
	"github.com/rs/zerolog"
)

// Relay polls the event outbox and delivers pending events to every
// connector in sequence order. An event is marked published once all
// connectors that want it have accepted it. Delivery is at least once.
type Relay struct {
	store      *store.Store
	connectors []connectors.Connector
	config     *Config
	log        zerolog.Logger

	// Delivery state
	mu        sync.Mutex
	delivered map[string]uint64
	failures  map[string]uint64
	lastSeq   uint64
	lastError string

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new relay.
func New(s *store.Store, conns []connectors.Connector, cfg *Config, log zerolog.Logger) *Relay {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Relay{
		store:      s,
		connectors: conns,
		config:     cfg.withDefaults(),
		log:        log,
		delivered:  make(map[string]uint64),
		failures:   make(map[string]uint64),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the relay loop.
func (r *Relay) Start() {
	r.wg.Add(1)
	go r.relayLoop()
	r.log.Info().Int("connectors", len(r.connectors)).Dur("interval", r.config.Interval).Msg("relay started")
}

// Stop stops the loop, waits for an in-flight batch and closes connectors.
func (r *Relay) Stop() {
	r.cancel()
	r.wg.Wait()
	for _, c := range r.connectors {
		if err := c.Close(); err != nil {
			r.log.Warn().Err(err).Str("connector", c.Name()).Msg("close connector")
		}
	}
	r.log.Info().Msg("relay stopped")
}

// relayLoop polls the outbox until stopped.
func (r *Relay) relayLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Flush(r.ctx); err != nil && r.ctx.Err() == nil {
				r.log.Error().Err(err).Msg("relay pass failed")
			}
		}
	}
}

// Flush delivers one batch of pending events and returns how many were
// marked published. It stops at the first failed delivery so that events
// leave the outbox in order.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.PendingEvents(r.config.BatchSize)
	if err != nil {
		return 0, err
	}

	var done []uint64
	var deliverErr error
	for _, ev := range events {
		if deliverErr = r.deliver(ctx, ev); deliverErr != nil {
			break
		}
		done = append(done, ev.Seq)
	}

	if err := r.store.MarkEventsPublished(done, time.Now().UTC()); err != nil {
		return 0, err
	}

	if len(done) > 0 {
		r.mu.Lock()
		r.lastSeq = done[len(done)-1]
		r.mu.Unlock()
	}
	if backlog, err := r.store.CountPendingEvents(); err == nil {
		metrics.RelayBacklog.Set(float64(backlog))
	}
	return len(done), deliverErr
}

// deliver sends ev to every interested connector.
func (r *Relay) deliver(ctx context.Context, ev models.Event) error {
	for _, c := range r.connectors {
		if !c.IsAllowed(ev.Type) {
			continue
		}

		dctx, cancel := context.WithTimeout(ctx, r.config.DeliverTimeout)
		err := c.Deliver(dctx, ev)
		cancel()

		r.mu.Lock()
		if err != nil {
			r.failures[c.Name()]++
			r.lastError = err.Error()
		} else {
			r.delivered[c.Name()]++
		}
		r.mu.Unlock()

		if err != nil {
			metrics.RelayFailures.WithLabelValues(c.Name()).Inc()
			r.log.Warn().Err(err).Str("connector", c.Name()).Uint64("seq", ev.Seq).Msg("delivery failed")
			return err
		}
		metrics.EventsRelayed.WithLabelValues(c.Name()).Inc()
	}
	return nil
}

// GetStats returns current relay statistics.
func (r *Relay) GetStats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := make(map[string]uint64)
	for k, v := range r.delivered {
		delivered[k] = v
	}
	failures := make(map[string]uint64)
	for k, v := range r.failures {
		failures[k] = v
	}

	return map[string]interface{}{
		"last_seq":   r.lastSeq,
		"delivered":  delivered,
		"failures":   failures,
		"last_error": r.lastError,
		"connectors": len(r.connectors),
	}
}
