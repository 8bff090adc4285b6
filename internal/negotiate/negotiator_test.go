package negotiate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/huestream/internal/color"
	"github.com/dokzlo13/huestream/internal/hue"
	"github.com/dokzlo13/huestream/internal/stream"
)

type fakeBridge struct {
	mu        sync.Mutex
	group     *hue.Group
	groupErr  error
	enableOK  bool
	enableErr error
	state     *hue.State
	stateErr  error
	streaming []bool
}

func (b *fakeBridge) GroupAttributes(ctx context.Context, groupID string) (*hue.Group, error) {
	if b.groupErr != nil {
		return nil, b.groupErr
	}
	return b.group, nil
}

func (b *fakeBridge) SetStreaming(ctx context.Context, groupID string, enable bool) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streaming = append(b.streaming, enable)
	if enable {
		return b.enableOK, b.enableErr
	}
	return true, nil
}

func (b *fakeBridge) CachedState(ctx context.Context) (*hue.State, error) {
	if b.stateErr != nil {
		return nil, b.stateErr
	}
	return b.state, nil
}

func (b *fakeBridge) streamingCalls() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.streaming...)
}

type captureTransport struct {
	sent chan []byte
}

func (c *captureTransport) Write(p []byte) (int, error) {
	select {
	case c.sent <- append([]byte(nil), p...):
	default:
	}
	return len(p), nil
}

func (c *captureTransport) Close() error { return nil }

func entertainmentBridge() *fakeBridge {
	var gamutC hue.Light
	gamutC.Capabilities.Control.ColorGamutType = "C"
	var gamutA hue.Light
	gamutA.Capabilities.Control.ColorGamutType = "A"

	return &fakeBridge{
		group: &hue.Group{
			ID:     "5",
			Name:   "TV",
			Type:   hue.GroupTypeEntertainment,
			Lights: []string{"3", "4"},
		},
		enableOK: true,
		state: &hue.State{
			Lights: map[string]hue.Light{"3": gamutC, "4": gamutA},
		},
	}
}

func TestNegotiator_EntertainmentScenario(t *testing.T) {
	bridge := entertainmentBridge()
	tr := &captureTransport{sent: make(chan []byte, 256)}
	var dialedKey string

	n := New(bridge, func(clientKey string) (stream.Dialer, error) {
		dialedKey = clientKey
		return stream.DialerFunc(func(ctx context.Context) (stream.Transport, error) {
			return tr, nil
		}), nil
	}, Config{ColorSpace: stream.ColorSpaceXY, Interval: 2 * time.Millisecond})

	session, err := n.Open(context.Background(), "5", "00112233")
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, "00112233", dialedKey)
	assert.Equal(t, stream.StateStreaming, session.State())
	assert.Equal(t, []uint16{3, 4}, session.Lights())
	assert.Equal(t, []bool{true}, bridge.streamingCalls())

	require.NoError(t, session.SetLightStateXY(3, color.Point{X: 0.3, Y: 0.4}, 0.8))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-tr.sent:
			_, recs, err := stream.Decode(frame)
			require.NoError(t, err)
			if len(recs) == 0 {
				continue
			}
			assert.Len(t, frame, 25)
			assert.Equal(t, uint16(3), recs[0].ID)
			assert.InDelta(t, 0.3, recs[0].A, 1.0/65535)
			assert.InDelta(t, 0.4, recs[0].B, 1.0/65535)
			assert.InDelta(t, 0.8, recs[0].C, 1.0/65535)
			return
		case <-deadline:
			t.Fatal("no frame with light 3")
		}
	}
}

func TestNegotiator_UsesLightGamuts(t *testing.T) {
	bridge := entertainmentBridge()
	tr := &captureTransport{sent: make(chan []byte, 256)}
	n := New(bridge, func(string) (stream.Dialer, error) {
		return stream.DialerFunc(func(ctx context.Context) (stream.Transport, error) { return tr, nil }), nil
	}, Config{ColorSpace: stream.ColorSpaceXY})

	session, err := n.Open(context.Background(), "5", "00")
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.SetLightStateRGB(4, color.RGB{G: 1}, 1))
	assert.ErrorIs(t, session.SetLightStateRGB(9, color.RGB{G: 1}, 1), stream.ErrUnknownLight)
}

func TestNegotiator_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(b *fakeBridge)
		wantErr error
	}{
		{
			name:    "light_group",
			mutate:  func(b *fakeBridge) { b.group.Type = "LightGroup" },
			wantErr: ErrNotEntertainmentGroup,
		},
		{
			name:    "missing_group",
			mutate:  func(b *fakeBridge) { b.groupErr = hue.ErrGroupNotFound },
			wantErr: ErrNotEntertainmentGroup,
		},
		{
			name:    "nil_group",
			mutate:  func(b *fakeBridge) { b.group = nil },
			wantErr: ErrNotEntertainmentGroup,
		},
		{
			name:    "enable_false",
			mutate:  func(b *fakeBridge) { b.enableOK = false },
			wantErr: ErrStreamingEnableFailed,
		},
		{
			name:    "enable_error",
			mutate:  func(b *fakeBridge) { b.enableErr = errors.New("stream owned by another app") },
			wantErr: ErrStreamingEnableFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := entertainmentBridge()
			tt.mutate(bridge)

			dialed := false
			n := New(bridge, func(string) (stream.Dialer, error) {
				dialed = true
				return nil, errors.New("unexpected")
			}, Config{ColorSpace: stream.ColorSpaceXY})

			session, err := n.Open(context.Background(), "5", "00")
			assert.Nil(t, session)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, dialed, "no transport is created")
		})
	}
}

func TestNegotiator_HandshakeFailureDisablesStreaming(t *testing.T) {
	bridge := entertainmentBridge()
	n := New(bridge, func(string) (stream.Dialer, error) {
		return stream.DialerFunc(func(ctx context.Context) (stream.Transport, error) {
			return nil, errors.New("psk rejected")
		}), nil
	}, Config{ColorSpace: stream.ColorSpaceXY}, stream.WithErrorSink(func(*stream.TransportError) {}))

	session, err := n.Open(context.Background(), "5", "00")
	assert.Nil(t, session)

	var terr *stream.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, stream.OpHandshake, terr.Op)
	assert.Equal(t, []bool{true, false}, bridge.streamingCalls())
}

func TestNegotiator_StateFailureDisablesStreaming(t *testing.T) {
	bridge := entertainmentBridge()
	bridge.stateErr = errors.New("timeout")
	n := New(bridge, func(string) (stream.Dialer, error) {
		t.Fatal("dialer must not be built")
		return nil, nil
	}, Config{})

	_, err := n.Open(context.Background(), "5", "00")
	assert.ErrorContains(t, err, "fetch bridge state")
	assert.Equal(t, []bool{true, false}, bridge.streamingCalls())
}

func TestNegotiator_Release(t *testing.T) {
	bridge := entertainmentBridge()
	tr := &captureTransport{sent: make(chan []byte, 16)}
	n := New(bridge, func(string) (stream.Dialer, error) {
		return stream.DialerFunc(func(ctx context.Context) (stream.Transport, error) { return tr, nil }), nil
	}, Config{ColorSpace: stream.ColorSpaceRGB})

	session, err := n.Open(context.Background(), "5", "00")
	require.NoError(t, err)

	require.NoError(t, n.Release(context.Background(), session))
	assert.Equal(t, stream.StateClosed, session.State())
	assert.Equal(t, []bool{true, false}, bridge.streamingCalls())
}

func TestLightTable(t *testing.T) {
	var withTriangle hue.Light
	withTriangle.Capabilities.Control.ColorGamut = [][]float64{{0.7, 0.3}, {0.2, 0.7}, {0.15, 0.05}}

	group := &hue.Group{ID: "5", Lights: []string{"1", "abc", "2"}}
	state := &hue.State{Lights: map[string]hue.Light{"1": withTriangle}}

	lights, gamuts := lightTable(group, state)
	assert.Equal(t, []uint16{1, 2}, lights)
	assert.Equal(t, color.Point{X: 0.7, Y: 0.3}, gamuts[1].Red)
	assert.Equal(t, color.DefaultGamut, gamuts[2])
}
