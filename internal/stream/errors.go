package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/dokzlo13/huestream/internal/color"
)

var (
	// ErrUnknownLight is returned for lights outside the negotiated group.
	ErrUnknownLight = color.ErrUnknownLight

	ErrFrameOverflow      = errors.New("frame capacity exceeded")
	ErrMalformedFrame     = errors.New("malformed frame")
	ErrSessionClosed      = errors.New("stream session closed")
	ErrInvalidState       = errors.New("invalid session state")
	ErrColorSpaceMismatch = errors.New("color input does not match session color space")
)

// UnknownLightError carries the rejected light ID.
type UnknownLightError = color.UnknownLightError

// TransportError is a handshake or send failure. It is reported to the
// session's error sink; the session does not retry or change state.
type TransportError struct {
	SessionID string
	GroupID   string
	Op        string
	Err       error
	At        time.Time
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport operations reported in TransportError.Op.
const (
	OpHandshake = "handshake"
	OpSend      = "send"
	OpEncode    = "encode"
)
