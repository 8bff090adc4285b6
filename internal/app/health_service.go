package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestream/internal/config"
	"github.com/dokzlo13/huestream/internal/stream"
)

// HealthService provides HTTP health check endpoints.
type HealthService struct {
	cfg      *config.Config
	state    func() stream.SessionState
	gatherer prometheus.Gatherer
	server   *http.Server
}

// NewHealthService creates a new HealthService. /ready succeeds only while
// state reports Streaming. A nil gatherer disables /metrics.
func NewHealthService(cfg *config.Config, state func() stream.SessionState, gatherer prometheus.Gatherer) *HealthService {
	return &HealthService{
		cfg:      cfg,
		state:    state,
		gatherer: gatherer,
	}
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

// Handler returns the health check routes.
func (s *HealthService) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// Ready while a session is streaming
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		st := s.state()
		if st != stream.StateStreaming {
			writeStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "stream": st.String()})
			return
		}
		writeStatus(w, http.StatusOK, map[string]string{"status": "ready", "stream": st.String()})
	})

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.Host, s.cfg.Healthcheck.Port)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health check server error")
	}
}

func writeStatus(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
