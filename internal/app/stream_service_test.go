package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/dokzlo13/huestream/internal/config"
	"github.com/dokzlo13/huestream/internal/db"
	"github.com/dokzlo13/huestream/internal/eventbus"
	"github.com/dokzlo13/huestream/internal/ledger"
	"github.com/dokzlo13/huestream/internal/negotiate"
	"github.com/dokzlo13/huestream/internal/stream"
)

type flakyTransport struct {
	fail bool
}

func (f *flakyTransport) Write(p []byte) (int, error) {
	if f.fail {
		return 0, errors.New("connection refused")
	}
	return len(p), nil
}

func (f *flakyTransport) Close() error { return nil }

type dialCounter struct {
	dials    atomic.Int32
	failAll  bool
	failDial bool
}

func (d *dialCounter) factory(string) (stream.Dialer, error) {
	return stream.DialerFunc(func(ctx context.Context) (stream.Transport, error) {
		n := d.dials.Inc()
		if d.failDial {
			return nil, errors.New("handshake refused")
		}
		// Only the first session fails to send.
		return &flakyTransport{fail: d.failAll || n == 1}, nil
	}), nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.Parse([]byte(`
stream:
  group: "5"
  color_space: rgb
  interval: 2ms
supervisor:
  enabled: true
  min_retry_backoff: 5ms
  max_retry_backoff: 20ms
  error_threshold: 3
shutdown_timeout: 1s
`))
	require.NoError(t, err)
	return cfg
}

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()

	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return ledger.New(database.DB)
}

func TestStreamService_RebuildsAfterSendErrors(t *testing.T) {
	cfg := testConfig(t)
	bus := eventbus.NewWithConfig(1, 1000)
	l := newTestLedger(t)
	NewLedgerService(cfg, l).Subscribe(bus)

	dials := &dialCounter{}
	bridge := &dryRunBridge{groupID: "5", lights: []string{"1", "2"}}
	n := negotiate.New(bridge, dials.factory, negotiate.Config{ColorSpace: stream.ColorSpaceRGB, Interval: 2 * time.Millisecond})

	var mu sync.Mutex
	var attached []*stream.Session
	svc := NewStreamService(cfg, n, bus, "00", func(s *stream.Session) {
		mu.Lock()
		defer mu.Unlock()
		attached = append(attached, s)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Run(ctx)

	require.Eventually(t, func() bool {
		return dials.dials.Load() >= 2 && svc.State() == stream.StateStreaming
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-svc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	bus.Close(context.Background())

	assert.Equal(t, stream.StateClosed, svc.State())

	mu.Lock()
	require.GreaterOrEqual(t, len(attached), 4)
	assert.NotNil(t, attached[0])
	assert.Nil(t, attached[1], "first session detached before rebuild")
	assert.NotNil(t, attached[2])
	mu.Unlock()

	opened, err := l.GetByType(ledger.EventSessionOpened, 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(opened), 2)

	closed, err := l.GetByType(ledger.EventSessionClosed, 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(closed), 2)

	errs, err := l.GetByType(ledger.EventTransportError, 100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(errs), 3)
	assert.Equal(t, "send", errs[0].Payload["op"])
}

func TestStreamService_FailsWithoutSupervisor(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.Enabled = false
	bus := eventbus.NewWithConfig(1, 10)
	defer bus.Close(context.Background())

	bridge := &dryRunBridge{groupID: "7", lights: []string{"1"}}
	n := negotiate.New(bridge, (&dialCounter{}).factory, negotiate.Config{})

	svc := NewStreamService(cfg, n, bus, "00", nil)
	err := svc.Run(context.Background())
	assert.ErrorIs(t, err, negotiate.ErrNotEntertainmentGroup)
}

func TestStreamService_MaxRebuilds(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.MaxRebuilds = 2
	bus := eventbus.NewWithConfig(1, 100)
	l := newTestLedger(t)
	NewLedgerService(cfg, l).Subscribe(bus)

	dials := &dialCounter{failDial: true}
	bridge := &dryRunBridge{groupID: "5", lights: []string{"1"}}
	n := negotiate.New(bridge, dials.factory, negotiate.Config{ColorSpace: stream.ColorSpaceRGB})

	svc := NewStreamService(cfg, n, bus, "00", nil)
	err := svc.Run(context.Background())
	bus.Close(context.Background())

	assert.ErrorIs(t, err, ErrMaxRebuildsExceeded)
	assert.Equal(t, int32(3), dials.dials.Load())

	failed, err := l.GetByType(ledger.EventNegotiationFailed, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 3)
	assert.Equal(t, "5", failed[0].GroupID)
}

func TestStreamService_StopsDuringBackoff(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.MinRetryBackoff = config.Duration(time.Hour)
	cfg.Supervisor.MaxRetryBackoff = config.Duration(time.Hour)
	bus := eventbus.NewWithConfig(1, 10)
	defer bus.Close(context.Background())

	dials := &dialCounter{failDial: true}
	bridge := &dryRunBridge{groupID: "5", lights: []string{"1"}}
	n := negotiate.New(bridge, dials.factory, negotiate.Config{ColorSpace: stream.ColorSpaceRGB})
	svc := NewStreamService(cfg, n, bus, "00", nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return dials.dials.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("service did not stop during backoff")
	}
}
