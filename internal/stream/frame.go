// Package stream implements the Hue entertainment streaming session: the
// fixed-layout wire frame, the pending per-light state and the periodic
// transmit loop.
package stream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Wire layout constants.
const (
	ProtocolName = "HueStream"
	MajorVersion = 0x01
	MinorVersion = 0x00

	HeaderSize = 16
	RecordSize = 9
	MaxLights  = 10
	BufferSize = HeaderSize + RecordSize*MaxLights

	// DefaultPort is the bridge's entertainment DTLS port.
	DefaultPort = 2100

	recordTypeLight = 0x00
)

// Header byte offsets.
const (
	offsetMajor      = 9
	offsetMinor      = 10
	offsetSequence   = 11
	offsetColorSpace = 14
)

// ColorSpace selects how the three record components are interpreted.
type ColorSpace uint8

const (
	ColorSpaceRGB ColorSpace = 0x00
	ColorSpaceXY  ColorSpace = 0x01
)

func (c ColorSpace) String() string {
	switch c {
	case ColorSpaceRGB:
		return "rgb"
	case ColorSpaceXY:
		return "xy"
	default:
		return fmt.Sprintf("colorspace(%d)", uint8(c))
	}
}

// ParseColorSpace accepts "rgb" or "xy".
func ParseColorSpace(s string) (ColorSpace, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rgb":
		return ColorSpaceRGB, nil
	case "xy", "":
		return ColorSpaceXY, nil
	default:
		return 0, fmt.Errorf("unknown color space %q", s)
	}
}

// Record is one light entry of a frame. Components are normalized to [0,1]:
// (r,g,b) for RGB frames, (x,y,brightness) for XY frames.
type Record struct {
	ID uint16
	A  float64
	B  float64
	C  float64
}

// Header is the decoded fixed part of a frame.
type Header struct {
	Major      uint8
	Minor      uint8
	Sequence   uint8
	ColorSpace ColorSpace
}

// Frame owns the wire buffer of one session. The header is written once;
// only the sequence byte changes afterwards.
type Frame struct {
	buf   [BufferSize]byte
	space ColorSpace
}

// NewFrame allocates a frame with its header written.
func NewFrame(space ColorSpace) *Frame {
	f := &Frame{space: space}
	copy(f.buf[:len(ProtocolName)], ProtocolName)
	f.buf[offsetMajor] = MajorVersion
	f.buf[offsetMinor] = MinorVersion
	f.buf[offsetColorSpace] = byte(space)
	return f
}

// ColorSpace returns the selector written into the header.
func (f *Frame) ColorSpace() ColorSpace {
	return f.space
}

// Header returns the header bytes. The slice aliases the frame buffer.
func (f *Frame) Header() []byte {
	return f.buf[:HeaderSize]
}

// Encode writes the records after the header and returns the used prefix of
// the buffer. The returned slice aliases the frame and is valid until the
// next call.
func (f *Frame) Encode(records []Record) ([]byte, error) {
	if len(records) > MaxLights {
		return nil, fmt.Errorf("%w: %d lights, capacity %d", ErrFrameOverflow, len(records), MaxLights)
	}

	offset := HeaderSize
	for _, r := range records {
		rec := f.buf[offset : offset+RecordSize]
		rec[0] = recordTypeLight
		binary.BigEndian.PutUint16(rec[1:3], r.ID)
		binary.BigEndian.PutUint16(rec[3:5], scale(r.A))
		binary.BigEndian.PutUint16(rec[5:7], scale(r.B))
		binary.BigEndian.PutUint16(rec[7:9], scale(r.C))
		offset += RecordSize
	}

	f.buf[offsetSequence]++

	return f.buf[:offset], nil
}

// Decode parses a frame produced by Encode.
func Decode(b []byte) (Header, []Record, error) {
	if len(b) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrMalformedFrame, len(b), HeaderSize)
	}
	if !bytes.Equal(b[:len(ProtocolName)], []byte(ProtocolName)) {
		return Header{}, nil, fmt.Errorf("%w: bad protocol tag %q", ErrMalformedFrame, b[:len(ProtocolName)])
	}
	body := b[HeaderSize:]
	if len(body)%RecordSize != 0 {
		return Header{}, nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, len(body)%RecordSize)
	}

	h := Header{
		Major:      b[offsetMajor],
		Minor:      b[offsetMinor],
		Sequence:   b[offsetSequence],
		ColorSpace: ColorSpace(b[offsetColorSpace]),
	}

	records := make([]Record, 0, len(body)/RecordSize)
	for off := 0; off < len(body); off += RecordSize {
		rec := body[off : off+RecordSize]
		if rec[0] != recordTypeLight {
			return Header{}, nil, fmt.Errorf("%w: unknown record type 0x%02x", ErrMalformedFrame, rec[0])
		}
		records = append(records, Record{
			ID: binary.BigEndian.Uint16(rec[1:3]),
			A:  unscale(binary.BigEndian.Uint16(rec[3:5])),
			B:  unscale(binary.BigEndian.Uint16(rec[5:7])),
			C:  unscale(binary.BigEndian.Uint16(rec[7:9])),
		})
	}

	return h, records, nil
}

// scale maps [0,1] onto 0..65535, truncating.
func scale(v float64) uint16 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return math.MaxUint16
	}
	return uint16(v * math.MaxUint16)
}

func unscale(v uint16) float64 {
	return float64(v) / math.MaxUint16
}
