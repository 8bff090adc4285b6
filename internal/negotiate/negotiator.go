// Package negotiate prepares a bridge for entertainment streaming and hands
// back an open stream session.
package negotiate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestream/internal/color"
	"github.com/dokzlo13/huestream/internal/hue"
	"github.com/dokzlo13/huestream/internal/stream"
)

var (
	// ErrNotEntertainmentGroup means the group is missing or not of type
	// Entertainment.
	ErrNotEntertainmentGroup = errors.New("group not found or is not an entertainment group")
	// ErrStreamingEnableFailed means the bridge did not confirm streaming.
	ErrStreamingEnableFailed = errors.New("could not enable streaming")
)

// Bridge is the REST surface negotiation needs.
type Bridge interface {
	GroupAttributes(ctx context.Context, groupID string) (*hue.Group, error)
	SetStreaming(ctx context.Context, groupID string, enable bool) (bool, error)
	CachedState(ctx context.Context) (*hue.State, error)
}

// DialerFactory builds the transport dialer for a stream using the
// application's client key.
type DialerFactory func(clientKey string) (stream.Dialer, error)

// Config holds the session parameters applied to every negotiated stream.
type Config struct {
	ColorSpace       stream.ColorSpace
	Interval         time.Duration
	HandshakeTimeout time.Duration
}

// Negotiator turns a group ID into a streaming session.
type Negotiator struct {
	bridge  Bridge
	dialers DialerFactory
	cfg     Config
	opts    []stream.Option
}

// New creates a Negotiator. opts are applied to every session it builds.
func New(bridge Bridge, dialers DialerFactory, cfg Config, opts ...stream.Option) *Negotiator {
	return &Negotiator{
		bridge:  bridge,
		dialers: dialers,
		cfg:     cfg,
		opts:    opts,
	}
}

// Open validates the group, enables streaming, builds the colour table and
// opens exactly one session. Extra options apply to this session only.
func (n *Negotiator) Open(ctx context.Context, groupID, clientKey string, opts ...stream.Option) (*stream.Session, error) {
	group, err := n.bridge.GroupAttributes(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("%w: group %s: %v", ErrNotEntertainmentGroup, groupID, err)
	}
	if group == nil {
		return nil, fmt.Errorf("%w: group %s", ErrNotEntertainmentGroup, groupID)
	}
	if !group.IsEntertainment() {
		return nil, fmt.Errorf("%w: group %s has type %q", ErrNotEntertainmentGroup, groupID, group.Type)
	}

	ok, err := n.bridge.SetStreaming(ctx, groupID, true)
	if err != nil {
		return nil, fmt.Errorf("%w: group %s: %v", ErrStreamingEnableFailed, groupID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: group %s", ErrStreamingEnableFailed, groupID)
	}

	session, err := n.buildSession(ctx, group, clientKey, opts)
	if err != nil {
		n.disable(groupID)
		return nil, err
	}

	if err := session.Open(ctx); err != nil {
		session.Close()
		n.disable(groupID)
		return nil, fmt.Errorf("open stream for group %s: %w", groupID, err)
	}

	log.Info().
		Str("group", groupID).
		Str("name", group.Name).
		Str("session", session.ID()).
		Int("lights", len(session.Lights())).
		Msg("Entertainment stream negotiated")

	return session, nil
}

// Release closes the session and turns streaming mode off.
func (n *Negotiator) Release(ctx context.Context, session *stream.Session) error {
	closeErr := session.Close()

	ok, err := n.bridge.SetStreaming(ctx, session.GroupID(), false)
	if err == nil && !ok {
		err = fmt.Errorf("bridge did not confirm disabling streaming for group %s", session.GroupID())
	}

	return errors.Join(closeErr, err)
}

func (n *Negotiator) buildSession(ctx context.Context, group *hue.Group, clientKey string, opts []stream.Option) (*stream.Session, error) {
	state, err := n.bridge.CachedState(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch bridge state: %w", err)
	}

	lights, gamuts := lightTable(group, state)
	if len(lights) == 0 {
		return nil, fmt.Errorf("%w: group %s has no lights", ErrNotEntertainmentGroup, group.ID)
	}

	dialer, err := n.dialers(clientKey)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	all := make([]stream.Option, 0, len(n.opts)+len(opts))
	all = append(all, n.opts...)
	all = append(all, opts...)

	return stream.New(stream.Config{
		GroupID:          group.ID,
		Lights:           lights,
		ColorSpace:       n.cfg.ColorSpace,
		Interval:         n.cfg.Interval,
		HandshakeTimeout: n.cfg.HandshakeTimeout,
		Dialer:           dialer,
		Converter:        color.NewConverter(gamuts),
	}, all...)
}

// lightTable maps the group's lights to their gamuts. Lights the bridge
// does not describe get color.DefaultGamut.
func lightTable(group *hue.Group, state *hue.State) ([]uint16, map[uint16]color.Gamut) {
	lights := make([]uint16, 0, len(group.Lights))
	gamuts := make(map[uint16]color.Gamut, len(group.Lights))

	for _, raw := range group.Lights {
		id, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			log.Warn().Str("group", group.ID).Str("light", raw).Msg("Skipping light with non-numeric id")
			continue
		}

		gamut := color.DefaultGamut
		if light, ok := state.Lights[raw]; ok {
			gamut = light.Gamut()
		} else {
			log.Warn().Str("group", group.ID).Str("light", raw).Msg("Light missing from bridge state, using default gamut")
		}

		lights = append(lights, uint16(id))
		gamuts[uint16(id)] = gamut
	}

	return lights, gamuts
}

// disable is a best-effort rollback after a failed open.
func (n *Negotiator) disable(groupID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := n.bridge.SetStreaming(ctx, groupID, false); err != nil {
		log.Warn().Err(err).Str("group", groupID).Msg("Failed to disable streaming after failed open")
	}
}
