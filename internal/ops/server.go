// Package ops serves the local operational endpoints: liveness, a JSON
// status summary, and the Prometheus exposition. The server is read-only
// and intended for a loopback listener.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/coinpulse/coinpulse/internal/clock"
	"github.com/coinpulse/coinpulse/internal/indicator"
	"github.com/coinpulse/coinpulse/internal/ingest"
	"github.com/coinpulse/coinpulse/internal/metrics"
	"github.com/coinpulse/coinpulse/internal/net/ratelimit"
)

// probeTimeout bounds the DB round trip a /status request performs.
const probeTimeout = 3 * time.Second

// Prober is the slice of the gateway the status handler reads.
type Prober interface {
	Probe(ctx context.Context) error
	LatestBucket(ctx context.Context) (int64, bool, error)
}

// Info identifies the running process on /status.
type Info struct {
	Service string
	Version string
	RunID   string
}

// Options wires a Server. Ingest, Indicator, and RateLimit are nil when
// the corresponding loop is not running in this process.
type Options struct {
	ListenAddr string
	Info       Info
	Clock      clock.Clock
	DB         Prober
	Metrics    *metrics.Registry
	Ingest     func() ingest.Status
	Indicator  func() indicator.Status
	RateLimit  func() ratelimit.Stats
	Log        zerolog.Logger
}

// Server is the ops HTTP server.
type Server struct {
	opts    Options
	log     zerolog.Logger
	started time.Time
	router  *mux.Router
	srv     *http.Server
}

type statusResponse struct {
	Service   string             `json:"service"`
	Version   string             `json:"version"`
	RunID     string             `json:"run_id"`
	UptimeS   float64            `json:"uptime_s"`
	Ingest    *ingest.Status     `json:"ingest,omitempty"`
	Indicator *indicator.Status  `json:"indicator,omitempty"`
	RateLimit *ratelimit.Stats   `json:"rate_limit,omitempty"`
	DB        dbStatus           `json:"db"`
	Counters  map[string]float64 `json:"counters,omitempty"`
}

type dbStatus struct {
	OK          bool    `json:"ok"`
	Error       string  `json:"error,omitempty"`
	WatermarkMs int64   `json:"watermark_ms,omitempty"`
	DataAgeS    float64 `json:"data_age_s,omitempty"`
}

// New builds the Server and its routes. It does not listen; call Start.
func New(opts Options) *Server {
	s := &Server{
		opts:    opts,
		log:     opts.Log.With().Str("component", "ops").Logger(),
		started: opts.Clock.Now(),
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	s.router = r

	s.srv = &http.Server{
		Addr:         opts.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the route tree without a listener.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.opts.ListenAddr).Msg("ops server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("ops server stopping")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime_s": s.opts.Clock.Now().Sub(s.started).Seconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := s.opts.Clock.Now()
	resp := statusResponse{
		Service: s.opts.Info.Service,
		Version: s.opts.Info.Version,
		RunID:   s.opts.Info.RunID,
		UptimeS: now.Sub(s.started).Seconds(),
	}
	if s.opts.Ingest != nil {
		st := s.opts.Ingest()
		resp.Ingest = &st
	}
	if s.opts.Indicator != nil {
		st := s.opts.Indicator()
		resp.Indicator = &st
	}
	if s.opts.RateLimit != nil {
		st := s.opts.RateLimit()
		resp.RateLimit = &st
	}
	resp.DB = s.probeDB(r.Context(), now)
	if counters, err := s.opts.Metrics.Snapshot(); err == nil {
		resp.Counters = counters
	} else {
		s.log.Warn().Err(err).Msg("metrics snapshot failed")
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// probeDB pings the database and derives the snapshot freshness age. A
// failed probe is reported in the body, not as a 5xx; the ops endpoint
// stays reachable while the pipeline is degraded.
func (s *Server) probeDB(ctx context.Context, now time.Time) dbStatus {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := s.opts.DB.Probe(ctx); err != nil {
		return dbStatus{OK: false, Error: err.Error()}
	}
	st := dbStatus{OK: true}
	if ms, ok, err := s.opts.DB.LatestBucket(ctx); err == nil && ok {
		st.WatermarkMs = ms
		st.DataAgeS = now.Sub(time.UnixMilli(ms)).Seconds()
	}
	return st
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "path": r.URL.Path})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}
