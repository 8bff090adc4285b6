package stream

import "context"

// Transport is an established, encrypted datagram channel to the bridge.
// Each Write sends one frame.
type Transport interface {
	Write(p []byte) (int, error)
	Close() error
}

// Dialer establishes a Transport, including any handshake. Dial must honour
// ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Transport, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}
