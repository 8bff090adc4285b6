package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/huestream/internal/config"
	"github.com/dokzlo13/huestream/internal/eventbus"
	"github.com/dokzlo13/huestream/internal/stream"
)

// ErrMaxRebuildsExceeded is returned when the supervisor gives up reopening
// the stream.
var ErrMaxRebuildsExceeded = errors.New("max stream rebuilds exceeded")

// SessionOpener negotiates and releases stream sessions.
// *negotiate.Negotiator satisfies it.
type SessionOpener interface {
	Open(ctx context.Context, groupID, clientKey string, opts ...stream.Option) (*stream.Session, error)
	Release(ctx context.Context, session *stream.Session) error
}

// StreamService keeps one entertainment stream open for the configured
// group. With the supervisor enabled, a session that keeps failing to send
// is released and negotiated again with exponential backoff.
type StreamService struct {
	cfg       *config.Config
	opener    SessionOpener
	bus       *eventbus.Bus
	clientKey string
	onSession func(*stream.Session)

	state      atomic.Int32
	errCount   atomic.Int32
	rebuild    chan struct{}
	errLimiter *rate.Limiter
	done       chan struct{}
}

// NewStreamService creates a new StreamService. onSession is called with each
// new session and with nil when it is released.
func NewStreamService(cfg *config.Config, opener SessionOpener, bus *eventbus.Bus, clientKey string, onSession func(*stream.Session)) *StreamService {
	if onSession == nil {
		onSession = func(*stream.Session) {}
	}
	return &StreamService{
		cfg:        cfg,
		opener:     opener,
		bus:        bus,
		clientKey:  clientKey,
		onSession:  onSession,
		rebuild:    make(chan struct{}, 1),
		errLimiter: rate.NewLimiter(rate.Limit(cfg.Supervisor.ErrorLogRate), 1),
		done:       make(chan struct{}),
	}
}

// State returns the state of the current session (Idle before the first one).
func (s *StreamService) State() stream.SessionState {
	return stream.SessionState(s.state.Load())
}

// Start runs the service in the background. onFatalError is called when the
// stream cannot be kept open.
func (s *StreamService) Start(ctx context.Context, onFatalError func(error)) {
	go func() {
		if err := s.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()
}

// Done is closed once Run has released its last session.
func (s *StreamService) Done() <-chan struct{} {
	return s.done
}

// Run opens the stream and supervises it until ctx is done.
func (s *StreamService) Run(ctx context.Context) error {
	defer close(s.done)

	sup := s.cfg.Supervisor
	backoff := sup.MinRetryBackoff.Duration()
	attempts := 0

	for {
		session, err := s.open(ctx)
		if err == nil {
			attempts = 0
			backoff = sup.MinRetryBackoff.Duration()

			s.serve(ctx)
			s.release(session)

			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Str("session", session.ID()).Msg("Rebuilding entertainment stream")
		} else {
			if ctx.Err() != nil {
				return nil
			}
			if !sup.Enabled {
				return err
			}

			attempts++
			if sup.MaxRebuilds > 0 && attempts > sup.MaxRebuilds {
				log.Error().
					Int("max_rebuilds", sup.MaxRebuilds).
					Msg("Stream supervisor: max rebuilds exceeded, terminating")
				return fmt.Errorf("%w: %v", ErrMaxRebuildsExceeded, err)
			}

			log.Warn().
				Err(err).
				Dur("backoff", backoff).
				Int("attempt", attempts).
				Int("max_rebuilds", sup.MaxRebuilds).
				Msg("Failed to open entertainment stream, retrying")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		// Calculate next backoff with multiplier, capped at max
		next := time.Duration(float64(backoff) * sup.RetryMultiplier)
		if next > sup.MaxRetryBackoff.Duration() {
			next = sup.MaxRetryBackoff.Duration()
		}
		backoff = next
	}
}

func (s *StreamService) open(ctx context.Context) (*stream.Session, error) {
	groupID := s.cfg.Stream.Group

	session, err := s.opener.Open(ctx, groupID, s.clientKey,
		stream.WithErrorSink(s.onTransportError),
		stream.WithStateObserver(s.onState),
	)
	if err != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeSessionState,
			Data: map[string]interface{}{
				"group": groupID,
				"state": "failed",
				"error": err.Error(),
			},
		})
		return nil, err
	}

	s.errCount.Store(0)
	s.publishState(session, stream.StateStreaming)
	s.onSession(session)
	return session, nil
}

// serve blocks until ctx is done or a rebuild is requested.
func (s *StreamService) serve(ctx context.Context) {
	select {
	case <-s.rebuild:
	default:
	}

	select {
	case <-ctx.Done():
	case <-s.rebuild:
	}
}

func (s *StreamService) release(session *stream.Session) {
	s.onSession(nil)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()

	if err := s.opener.Release(ctx, session); err != nil {
		log.Warn().Err(err).Str("session", session.ID()).Msg("Failed to release entertainment stream cleanly")
	}
	s.publishState(session, stream.StateClosed)
	log.Info().Str("session", session.ID()).Str("group", session.GroupID()).Msg("Entertainment stream released")
}

func (s *StreamService) onState(st stream.SessionState) {
	s.state.Store(int32(st))
	log.Debug().Str("state", st.String()).Msg("Stream session state changed")
}

func (s *StreamService) onTransportError(err *stream.TransportError) {
	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeTransportError,
		Data: map[string]interface{}{
			"session_id": err.SessionID,
			"group":      err.GroupID,
			"op":         err.Op,
			"error":      err.Err.Error(),
		},
	})

	if s.errLimiter.Allow() {
		log.Warn().
			Err(err.Err).
			Str("session", err.SessionID).
			Str("op", err.Op).
			Msg("Entertainment transport error")
	}

	n := s.errCount.Inc()
	if s.cfg.Supervisor.Enabled && int(n) >= s.cfg.Supervisor.ErrorThreshold {
		select {
		case s.rebuild <- struct{}{}:
		default:
		}
	}
}

func (s *StreamService) publishState(session *stream.Session, st stream.SessionState) {
	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeSessionState,
		Data: map[string]interface{}{
			"session_id": session.ID(),
			"group":      session.GroupID(),
			"state":      st.String(),
			"lights":     len(session.Lights()),
			"space":      session.ColorSpace().String(),
		},
	})
}
