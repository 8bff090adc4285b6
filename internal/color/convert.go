package color

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrUnknownLight is matched by UnknownLightError.
var ErrUnknownLight = errors.New("light is not part of the entertainment group")

// UnknownLightError reports a light ID with no registered gamut.
type UnknownLightError struct {
	ID uint16
}

func (e *UnknownLightError) Error() string {
	return fmt.Sprintf("light %d is not part of the entertainment group", e.ID)
}

func (e *UnknownLightError) Unwrap() error {
	return ErrUnknownLight
}

// RGB is a colour with channels normalized to [0,1].
type RGB struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// RGBToXY projects an sRGB colour onto the chromaticity plane and clamps the
// result into the gamut. Black has no chromaticity and maps to the white
// point.
func RGBToXY(c RGB, g Gamut) Point {
	r := gammaExpand(clamp01(c.R))
	gr := gammaExpand(clamp01(c.G))
	b := gammaExpand(clamp01(c.B))

	// Wide gamut D65 conversion.
	x := r*0.664511 + gr*0.154324 + b*0.162028
	y := r*0.283881 + gr*0.668433 + b*0.047685
	z := r*0.000088 + gr*0.072310 + b*0.986039

	sum := x + y + z
	if sum == 0 {
		return g.Clamp(WhitePoint)
	}

	return g.Clamp(Point{X: x / sum, Y: y / sum})
}

func gammaExpand(v float64) float64 {
	if v > 0.04045 {
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return v / 12.92
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Converter maps RGB input to XY for the lights of one session.
// The table is fixed at construction.
type Converter struct {
	gamuts map[uint16]Gamut
}

// NewConverter copies the light-to-gamut table.
func NewConverter(gamuts map[uint16]Gamut) *Converter {
	table := make(map[uint16]Gamut, len(gamuts))
	for id, g := range gamuts {
		table[id] = g
	}
	return &Converter{gamuts: table}
}

// Convert returns the in-gamut XY coordinate for the light.
func (c *Converter) Convert(id uint16, rgb RGB) (Point, error) {
	g, ok := c.gamuts[id]
	if !ok {
		return Point{}, &UnknownLightError{ID: id}
	}
	return RGBToXY(rgb, g), nil
}

// Gamut returns the registered gamut for a light.
func (c *Converter) Gamut(id uint16) (Gamut, bool) {
	g, ok := c.gamuts[id]
	return g, ok
}

// Lights returns the registered light IDs in ascending order.
func (c *Converter) Lights() []uint16 {
	ids := make([]uint16, 0, len(c.gamuts))
	for id := range c.gamuts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
