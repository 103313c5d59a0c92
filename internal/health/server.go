// Package health serves the daemon's liveness endpoint.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// RunInfo describes the most recent scheduled run.
type RunInfo struct {
	RunID          string    `json:"run_id"`
	FinishedAt     time.Time `json:"finished_at"`
	Instances      int       `json:"instances"`
	BackupsCreated int       `json:"backups_created"`
	BackupsFailed  int       `json:"backups_failed"`
}

// StatusProvider reports the scheduler's state.
type StatusProvider interface {
	LastRun() (RunInfo, bool)
	Running() bool
}

type HealthResponse struct {
	Status        string   `json:"status"`
	Service       string   `json:"service"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Timestamp     int64    `json:"timestamp"`
	RunInProgress bool     `json:"run_in_progress"`
	LastRun       *RunInfo `json:"last_run,omitempty"`
}

type Server struct {
	provider StatusProvider
	server   *http.Server
	started  time.Time
	now      func() time.Time

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

func NewServer(provider StatusProvider) *Server {
	s := &Server{provider: provider, started: time.Now(), now: time.Now}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Start listens on addr until Shutdown is called. It returns nil without
// listening once Shutdown has run.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("Health check listening")

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr is the bound address, or "" before Start has listened.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	now := s.now()
	response := &HealthResponse{
		Status:        "healthy",
		Service:       "dumpitall",
		UptimeSeconds: int64(now.Sub(s.started).Seconds()),
		Timestamp:     now.Unix(),
	}
	if s.provider != nil {
		response.RunInProgress = s.provider.Running()
		if last, ok := s.provider.LastRun(); ok {
			response.LastRun = &last
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Debug().Err(err).Msg("Failed to write health response")
	}
}
