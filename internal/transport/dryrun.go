package transport

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestream/internal/stream"
)

// DryRunDialer produces transports that decode frames and log them instead
// of sending. Used when no bridge is reachable.
type DryRunDialer struct {
	// SummaryEvery controls how often a frame summary is logged at info level.
	SummaryEvery time.Duration
}

var _ stream.Dialer = DryRunDialer{}

// Dial never fails.
func (d DryRunDialer) Dial(ctx context.Context) (stream.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	every := d.SummaryEvery
	if every <= 0 {
		every = 5 * time.Second
	}
	log.Warn().Msg("Dry run: frames are decoded and logged, nothing is sent")
	return &dryRunTransport{every: every}, nil
}

type dryRunTransport struct {
	mu      sync.Mutex
	every   time.Duration
	frames  int
	lastLog time.Time
	closed  bool
}

func (t *dryRunTransport) Write(p []byte) (int, error) {
	h, records, err := stream.Decode(p)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, stream.ErrSessionClosed
	}
	t.frames++

	log.Trace().
		Uint8("seq", h.Sequence).
		Str("color_space", h.ColorSpace.String()).
		Int("lights", len(records)).
		Msg("Frame")

	if time.Since(t.lastLog) >= t.every {
		t.lastLog = time.Now()
		ev := log.Info().Int("frames", t.frames).Int("lights", len(records))
		for _, r := range records {
			ev = ev.Floats64(lightKey(r.ID), []float64{r.A, r.B, r.C})
		}
		ev.Msg("Dry run frame summary")
	}

	return len(p), nil
}

func (t *dryRunTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	log.Info().Int("frames", t.frames).Msg("Dry run transport closed")
	return nil
}

func lightKey(id uint16) string {
	return "light_" + strconv.Itoa(int(id))
}
