package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestream/internal/config"
	"github.com/dokzlo13/huestream/internal/credentials"
	"github.com/dokzlo13/huestream/internal/db"
	"github.com/dokzlo13/huestream/internal/effect"
	"github.com/dokzlo13/huestream/internal/eventbus"
	"github.com/dokzlo13/huestream/internal/hue"
	"github.com/dokzlo13/huestream/internal/ledger"
	"github.com/dokzlo13/huestream/internal/negotiate"
	"github.com/dokzlo13/huestream/internal/stream"
	"github.com/dokzlo13/huestream/internal/transport"
)

// Options are start-up switches that come from the command line.
type Options struct {
	ResetCredentials bool
}

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB          *db.DB
	Ledger      *ledger.Ledger
	Credentials *credentials.Store
	Bus         *eventbus.Bus
	Registry    *prometheus.Registry

	// Bridge access (nil in dry-run mode)
	Hue   *hue.Client
	Cache *hue.StateCache

	// Streaming
	Negotiator *negotiate.Negotiator
	Effect     *effect.Runner

	// High-level services
	Stream       *StreamService
	Health       *HealthService
	LedgerWriter *LedgerService

	started    bool
	effectDone chan struct{}
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config, opts Options) (*Services, error) {
	if cfg.Stream.Group == "" {
		return nil, errors.New("stream.group is required")
	}
	space, err := stream.ParseColorSpace(cfg.Stream.ColorSpace)
	if err != nil {
		return nil, err
	}

	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Credentials = credentials.NewStore(database.DB)

	creds, err := s.resolveCredentials(opts)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	if cfg.Ledger.IsEnabled() {
		s.Ledger = ledger.New(database.DB)
		s.LedgerWriter = NewLedgerService(cfg, s.Ledger)
		s.LedgerWriter.Subscribe(s.Bus)
	}

	var metrics *stream.Metrics
	var gatherer prometheus.Gatherer
	if cfg.Healthcheck.Metrics {
		s.Registry = prometheus.NewRegistry()
		s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = stream.NewMetrics(s.Registry)
		gatherer = s.Registry
	}

	var bridge negotiate.Bridge
	var dialers negotiate.DialerFactory
	if cfg.Stream.DryRun {
		bridge = &dryRunBridge{groupID: cfg.Stream.Group, lights: cfg.Stream.DryRunLights}
		dialers = func(string) (stream.Dialer, error) {
			return transport.DryRunDialer{}, nil
		}
	} else {
		s.Hue = hue.NewClient(cfg.Hue.Bridge, creds.Username, cfg.Hue.Timeout.Duration())
		s.Cache = hue.NewStateCache(s.Hue, cfg.Cache.TTL.Duration())
		bridge = NewBridgeAdapter(s.Hue, s.Cache)
		dialers = func(clientKey string) (stream.Dialer, error) {
			return transport.NewDTLSDialer(transport.DTLSConfig{
				Address:   cfg.Hue.Bridge,
				Port:      cfg.Hue.Port,
				Username:  creds.Username,
				ClientKey: clientKey,
			})
		}
	}

	s.Negotiator = negotiate.New(bridge, dialers, negotiate.Config{
		ColorSpace:       space,
		Interval:         cfg.Stream.Interval.Duration(),
		HandshakeTimeout: cfg.Stream.HandshakeTimeout.Duration(),
	}, stream.WithMetrics(metrics))

	if cfg.Effect.Script != "" {
		s.Effect = effect.NewRunner(cfg.Effect.GetFPS())
	}

	s.Stream = NewStreamService(cfg, s.Negotiator, s.Bus, creds.ClientKey, s.attachEffect)
	s.Health = NewHealthService(cfg, s.Stream.State, gatherer)

	return s, nil
}

func (s *Services) resolveCredentials(opts Options) (credentials.Credentials, error) {
	bridge := s.cfg.Hue.Bridge

	if opts.ResetCredentials {
		existed, err := s.Credentials.Delete(bridge)
		if err != nil {
			return credentials.Credentials{}, err
		}
		log.Info().Str("bridge", bridge).Bool("existed", existed).Msg("Cleared stored bridge credentials")
	}

	configured := credentials.Credentials{
		Bridge:    bridge,
		Username:  s.cfg.Hue.Username,
		ClientKey: s.cfg.Hue.ClientKey,
	}
	if s.cfg.Stream.DryRun {
		return configured, nil
	}
	if bridge == "" {
		return credentials.Credentials{}, errors.New("hue.bridge is required")
	}
	return s.Credentials.Resolve(configured)
}

// attachEffect points the effect runner at the current session.
func (s *Services) attachEffect(session *stream.Session) {
	if s.Effect == nil {
		return
	}
	if session == nil {
		s.Effect.SetTarget(nil)
		return
	}
	s.Effect.SetTarget(session)
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g., max rebuilds exceeded).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Connect to Hue bridge
	if s.Hue != nil {
		if err := s.Hue.Connect(ctx); err != nil {
			return err
		}
	}

	// Load effect script before the stream opens
	if s.Effect != nil {
		if err := s.Effect.LoadFile(s.cfg.Effect.Script); err != nil {
			return err
		}
		s.effectDone = make(chan struct{})
		go func() {
			defer close(s.effectDone)
			if err := s.Effect.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				onFatalError(fmt.Errorf("effect runner: %w", err))
			}
		}()
	} else {
		log.Warn().Msg("No effect script configured, streaming an empty frame")
	}

	if s.LedgerWriter != nil {
		s.LedgerWriter.Start(ctx)
	}
	s.Health.Start(ctx)
	s.Stream.Start(ctx, onFatalError)
	s.started = true

	return nil
}

// Stop gracefully stops all services. The stream is released before the
// bus and database close.
func (s *Services) Stop() error {
	timeout := s.cfg.ShutdownTimeout.Duration()

	if s.started {
		select {
		case <-s.Stream.Done():
		case <-time.After(timeout):
			log.Warn().Msg("Timed out waiting for the stream to be released")
		}
	}
	if s.effectDone != nil {
		select {
		case <-s.effectDone:
		case <-time.After(timeout):
			log.Warn().Msg("Timed out waiting for the effect runner")
		}
	}

	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		s.Bus.Close(ctx)
		cancel()
	}

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Effect != nil {
		s.Effect.Close()
	}
	if s.Hue != nil {
		s.Hue.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
