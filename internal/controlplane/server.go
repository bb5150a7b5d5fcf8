// Package controlplane exposes the market over HTTP.
package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/computemarket/cmkt/internal/auth"
	"github.com/computemarket/cmkt/internal/market"
	"github.com/computemarket/cmkt/internal/notify"
	"github.com/computemarket/cmkt/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// PrincipalHeader names the caller when token authentication is off.
const PrincipalHeader = "X-Principal"

// Options wires a Server.
type Options struct {
	Market *market.Service
	Store  *store.Store
	Hub    *notify.Hub
	// Tokens enables bearer-token authentication. When nil the
	// PrincipalHeader is trusted.
	Tokens *auth.Tokens
	// BuyPerSecond and BuyBurst rate limit purchases per principal. Zero
	// disables limiting.
	BuyPerSecond float64
	BuyBurst     int
	// Relay, when set, contributes its counters to GET /stats.
	Relay   StatsProvider
	Log     zerolog.Logger
	Version string
}

// StatsProvider reports counters for GET /stats.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Server provides the HTTP API for the market.
type Server struct {
	market  *market.Service
	store   *store.Store
	hub     *notify.Hub
	tokens  *auth.Tokens
	limiter *buyLimiter
	relay   StatsProvider
	log     zerolog.Logger
	version string

	addr   string
	server *http.Server

	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer creates a new HTTP server.
func NewServer(opts Options, addr string) *Server {
	hub := opts.Hub
	if hub == nil {
		hub = notify.NewHub()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		market:  opts.Market,
		store:   opts.Store,
		hub:     hub,
		tokens:  opts.Tokens,
		limiter: newBuyLimiter(opts.BuyPerSecond, opts.BuyBurst),
		relay:   opts.Relay,
		log:     opts.Log,
		version: version,
		addr:    addr,
		closing: make(chan struct{}),
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(corsMiddleware)
	r.Use(s.principalMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/stats", s.handleStats)

	r.Route("/authority", func(r chi.Router) {
		r.Get("/", s.getAuthority)
		r.Post("/transfer", s.transferAuthority)
	})

	r.Route("/services", func(r chi.Router) {
		r.Get("/", s.listServices)
		r.Post("/", s.registerService)
		r.Get("/{id}", s.getService)
		r.Post("/{id}/price", s.updateServicePrice)
		r.Post("/{id}/deactivate", s.deactivateService)
		r.Post("/{id}/buy", s.buyCompute)
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.listTasks)
		r.Get("/count", s.getTaskCount)
		r.Get("/{id}", s.getTask)
		r.Get("/{id}/decisions", s.getTaskDecisions)
		r.Post("/{id}/start", s.startTask)
		r.Post("/{id}/complete", s.completeTask)
		r.Post("/{id}/refund", s.refundTask)
	})

	r.Get("/escrow/balance", s.getEscrowBalance)
	r.Get("/escrow/invariant", s.getInvariant)

	r.Route("/accounts/{principal}", func(r chi.Router) {
		r.Get("/balance", s.getAccountBalance)
		r.Get("/entries", s.getAccountEntries)
		r.Post("/freeze", s.freezeAccount)
	})

	r.Get("/events", s.listEvents)
	r.Get("/events/stream", s.handleEventStream)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
	}

	s.log.Info().Str("addr", s.addr).Str("version", s.version).Msg("starting cmkt daemon")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server and ends open event streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK        bool                    `json:"ok"`
	DB        string                  `json:"db"`
	Version   string                  `json:"version"`
	Time      string                  `json:"time"`
	Invariant *market.InvariantReport `json:"invariant,omitempty"`
}

// handleHealth reports database reachability and the escrow invariant.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		resp.OK = false
		resp.DB = "error: " + err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	report, err := s.market.CheckInvariant()
	if err != nil {
		resp.OK = false
		resp.DB = "error: " + err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Invariant = report
	if !report.Holds {
		resp.OK = false
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleStats reports notification hub and relay counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"hub": s.hub.Stats(),
	}
	if s.relay != nil {
		stats["relay"] = s.relay.GetStats()
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Middleware ---

type principalKey struct{}

// principalFrom returns the authenticated caller, or "" for anonymous.
func principalFrom(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}

// principalMiddleware attributes the request to a principal. A bearer token
// that fails verification is rejected outright; a missing one leaves the
// request anonymous.
func (s *Server) principalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var principal string
		if s.tokens != nil {
			if h := r.Header.Get("Authorization"); h != "" {
				token, ok := strings.CutPrefix(h, "Bearer ")
				if !ok {
					writeError(w, ErrUnauthenticated)
					return
				}
				p, err := s.tokens.Verify(strings.TrimSpace(token))
				if err != nil {
					s.log.Debug().Err(err).Msg("token rejected")
					writeError(w, ErrUnauthenticated)
					return
				}
				principal = p
			}
		} else {
			principal = r.Header.Get(PrincipalHeader)
		}

		principal = market.NormalizePrincipal(principal)
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		ev := s.log.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// corsMiddleware adds CORS headers for local dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+PrincipalHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Responses ---

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with the status err maps to.
func writeError(w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	writeJSON(w, status, body)
}
