package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/dokzlo13/huestream/internal/color"
)

// DefaultInterval is the transmit period (50 frames per second).
const DefaultInterval = 20 * time.Millisecond

// SessionState is the lifecycle position of a Session.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateConnecting
	StateStreaming
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config describes one negotiated stream.
type Config struct {
	GroupID    string
	Lights     []uint16
	ColorSpace ColorSpace

	// Interval between frames (0 = DefaultInterval).
	Interval time.Duration
	// HandshakeTimeout bounds Open's dial (0 = no bound beyond ctx).
	HandshakeTimeout time.Duration

	Dialer Dialer

	// Converter maps RGB input for XY sessions. When nil, every light gets
	// color.DefaultGamut.
	Converter *color.Converter
}

// Option customizes a Session.
type Option func(*Session)

// WithErrorSink receives transport errors. Without a sink they are logged.
func WithErrorSink(sink func(*TransportError)) Option {
	return func(s *Session) {
		s.onError = sink
	}
}

// WithStateObserver is called after every state transition. It must not
// call back into the session.
func WithStateObserver(fn func(SessionState)) Option {
	return func(s *Session) {
		s.onState = fn
	}
}

// WithMetrics records frame and handshake metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// Session streams the pending light state of one entertainment group.
//
// State flows Idle → Connecting → Streaming → Closed. Transport errors are
// reported but never change state; recovering means Close and negotiate a
// new session.
type Session struct {
	id               string
	groupID          string
	space            ColorSpace
	interval         time.Duration
	handshakeTimeout time.Duration
	dialer           Dialer
	converter        *color.Converter
	members          map[uint16]struct{}
	lights           []uint16

	state atomic.Int32

	// mu guards the pending state and the frame buffer.
	mu      sync.Mutex
	frame   *Frame
	states  *stateMap
	records []Record

	// lifeMu guards the transport and loop handles.
	lifeMu     sync.Mutex
	transport  Transport
	cancelDial context.CancelFunc
	cancelLoop context.CancelFunc
	loopDone   chan struct{}

	onError func(*TransportError)
	onState func(SessionState)
	metrics *Metrics
}

// New builds an idle session.
func New(cfg Config, opts ...Option) (*Session, error) {
	if cfg.GroupID == "" {
		return nil, errors.New("stream: group id is required")
	}
	if len(cfg.Lights) == 0 {
		return nil, errors.New("stream: at least one light is required")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("stream: dialer is required")
	}
	if cfg.ColorSpace != ColorSpaceRGB && cfg.ColorSpace != ColorSpaceXY {
		return nil, fmt.Errorf("stream: unsupported color space %s", cfg.ColorSpace)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	members := make(map[uint16]struct{}, len(cfg.Lights))
	lights := make([]uint16, 0, len(cfg.Lights))
	for _, id := range cfg.Lights {
		if _, dup := members[id]; dup {
			continue
		}
		members[id] = struct{}{}
		lights = append(lights, id)
	}

	converter := cfg.Converter
	if converter == nil {
		gamuts := make(map[uint16]color.Gamut, len(lights))
		for _, id := range lights {
			gamuts[id] = color.DefaultGamut
		}
		converter = color.NewConverter(gamuts)
	}
	if cfg.ColorSpace == ColorSpaceXY {
		for _, id := range lights {
			if _, ok := converter.Gamut(id); !ok {
				return nil, fmt.Errorf("stream: no gamut for light %d", id)
			}
		}
	}

	s := &Session{
		id:               uuid.NewString(),
		groupID:          cfg.GroupID,
		space:            cfg.ColorSpace,
		interval:         cfg.Interval,
		handshakeTimeout: cfg.HandshakeTimeout,
		dialer:           cfg.Dialer,
		converter:        converter,
		members:          members,
		lights:           lights,
		frame:            NewFrame(cfg.ColorSpace),
		states:           newStateMap(),
		records:          make([]Record, 0, MaxLights),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.setState(StateIdle)

	return s, nil
}

// ID is a unique identifier for this session.
func (s *Session) ID() string {
	return s.id
}

// GroupID returns the entertainment group being streamed.
func (s *Session) GroupID() string {
	return s.groupID
}

// ColorSpace returns the session's colour space.
func (s *Session) ColorSpace() ColorSpace {
	return s.space
}

// Lights returns the member light IDs.
func (s *Session) Lights() []uint16 {
	out := make([]uint16, len(s.lights))
	copy(out, s.lights)
	return out
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Open dials the transport and starts the transmit loop. On a handshake
// failure the error is reported and returned; the session stays Connecting
// until closed.
func (s *Session) Open(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return fmt.Errorf("%w: open while %s", ErrInvalidState, s.State())
	}
	s.transition(StateConnecting)

	var dialCtx context.Context
	var cancel context.CancelFunc
	if s.handshakeTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, s.handshakeTimeout)
	} else {
		dialCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	s.lifeMu.Lock()
	if s.State() == StateClosed {
		s.lifeMu.Unlock()
		return ErrSessionClosed
	}
	s.cancelDial = cancel
	s.lifeMu.Unlock()

	log.Debug().
		Str("session", s.id).
		Str("group", s.groupID).
		Dur("handshake_timeout", s.handshakeTimeout).
		Msg("Stream handshake started")

	start := time.Now()
	t, err := s.dialer.Dial(dialCtx)
	s.metrics.recordHandshake(time.Since(start), err)

	s.lifeMu.Lock()
	s.cancelDial = nil
	if s.State() == StateClosed {
		s.lifeMu.Unlock()
		if t != nil {
			t.Close()
		}
		return ErrSessionClosed
	}
	if err != nil {
		s.lifeMu.Unlock()
		terr := s.newTransportError(OpHandshake, err)
		s.report(terr)
		return terr
	}

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.transport = t
	s.cancelLoop = cancelLoop
	s.loopDone = done
	s.state.Store(int32(StateStreaming))
	go s.run(loopCtx, t, done)
	s.transition(StateStreaming)
	s.lifeMu.Unlock()

	log.Info().
		Str("session", s.id).
		Str("group", s.groupID).
		Str("color_space", s.space.String()).
		Dur("interval", s.interval).
		Msg("Streaming started")

	return nil
}

// Close stops the transmit loop, closes the transport and clears pending
// state. Safe to call from any state and more than once.
func (s *Session) Close() error {
	s.lifeMu.Lock()
	if s.State() == StateClosed {
		s.lifeMu.Unlock()
		return nil
	}
	s.state.Store(int32(StateClosed))
	cancelDial, cancelLoop, done, t := s.cancelDial, s.cancelLoop, s.loopDone, s.transport
	s.cancelDial, s.cancelLoop, s.loopDone, s.transport = nil, nil, nil, nil
	s.lifeMu.Unlock()

	if cancelDial != nil {
		cancelDial()
	}
	if cancelLoop != nil {
		cancelLoop()
		<-done
	}

	var err error
	if t != nil {
		if cerr := t.Close(); cerr != nil {
			err = fmt.Errorf("close transport: %w", cerr)
		}
	}

	s.mu.Lock()
	s.states.clear()
	s.mu.Unlock()
	s.metrics.setActiveLights(0)

	s.transition(StateClosed)
	log.Info().Str("session", s.id).Str("group", s.groupID).Msg("Stream session closed")

	return err
}

// SetLightStateRGB queues an RGB colour for the light. Brightness scales
// the channels in RGB sessions and is sent as-is in XY sessions.
func (s *Session) SetLightStateRGB(id uint16, rgb color.RGB, brightness float64) error {
	if err := s.checkWritable(id); err != nil {
		return err
	}

	bri := clampUnit(brightness)
	switch s.space {
	case ColorSpaceXY:
		p, err := s.converter.Convert(id, rgb)
		if err != nil {
			return err
		}
		return s.store(id, LightState{A: p.X, B: p.Y, C: bri})
	default:
		return s.store(id, LightState{
			A: clampUnit(rgb.R) * bri,
			B: clampUnit(rgb.G) * bri,
			C: clampUnit(rgb.B) * bri,
		})
	}
}

// SetLightStateXY queues a chromaticity and brightness. Only valid for XY
// sessions.
func (s *Session) SetLightStateXY(id uint16, xy color.Point, brightness float64) error {
	if err := s.checkWritable(id); err != nil {
		return err
	}
	if s.space != ColorSpaceXY {
		return fmt.Errorf("%w: xy input for %s session", ErrColorSpaceMismatch, s.space)
	}
	return s.store(id, LightState{A: xy.X, B: xy.Y, C: clampUnit(brightness)})
}

func (s *Session) checkWritable(id uint16) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	if _, ok := s.members[id]; !ok {
		return &UnknownLightError{ID: id}
	}
	return nil
}

func (s *Session) store(id uint16, st LightState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.states.has(id) && s.states.len() >= MaxLights {
		return fmt.Errorf("%w: light %d would be light %d of %d", ErrFrameOverflow, id, s.states.len()+1, MaxLights)
	}
	s.states.set(id, st)
	s.metrics.setActiveLights(s.states.len())
	return nil
}

func (s *Session) run(ctx context.Context, t Transport, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var out [BufferSize]byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.tick(t, out[:])
		}
	}
}

// tick encodes the current state into the frame, copies it out and sends it
// without holding the state lock.
func (s *Session) tick(t Transport, out []byte) {
	s.mu.Lock()
	s.records = s.states.snapshot(s.records[:0])
	frame, err := s.frame.Encode(s.records)
	n := copy(out, frame)
	s.mu.Unlock()

	if err != nil {
		s.report(s.newTransportError(OpEncode, err))
		return
	}

	if _, err := t.Write(out[:n]); err != nil {
		s.metrics.recordSendError()
		s.report(s.newTransportError(OpSend, err))
		return
	}
	s.metrics.recordFrame(n)
}

func (s *Session) newTransportError(op string, err error) *TransportError {
	return &TransportError{
		SessionID: s.id,
		GroupID:   s.groupID,
		Op:        op,
		Err:       err,
		At:        time.Now(),
	}
}

func (s *Session) report(err *TransportError) {
	if s.onError != nil {
		s.onError(err)
		return
	}
	log.Error().
		Err(err.Err).
		Str("session", s.id).
		Str("group", s.groupID).
		Str("op", err.Op).
		Msg("Stream transport error")
}

func (s *Session) transition(st SessionState) {
	s.metrics.setState(st)
	if s.onState != nil {
		s.onState(st)
	}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
