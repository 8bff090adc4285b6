// Package color converts RGB input into the XY chromaticity space the Hue
// entertainment protocol expects, constrained to each light's gamut.
package color

import (
	"math"
	"strings"
)

// containsEpsilon keeps points projected onto an edge inside the triangle.
const containsEpsilon = 1e-9

// Point is a CIE 1931 chromaticity coordinate.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Gamut is the triangle of colours a light can reproduce.
type Gamut struct {
	Red   Point `json:"red"`
	Green Point `json:"green"`
	Blue  Point `json:"blue"`
}

// Gamuts published for Hue hardware generations.
var (
	GamutA = Gamut{
		Red:   Point{X: 0.704, Y: 0.296},
		Green: Point{X: 0.2151, Y: 0.7106},
		Blue:  Point{X: 0.138, Y: 0.08},
	}
	GamutB = Gamut{
		Red:   Point{X: 0.675, Y: 0.322},
		Green: Point{X: 0.409, Y: 0.518},
		Blue:  Point{X: 0.167, Y: 0.04},
	}
	GamutC = Gamut{
		Red:   Point{X: 0.6915, Y: 0.3038},
		Green: Point{X: 0.17, Y: 0.7},
		Blue:  Point{X: 0.1532, Y: 0.0475},
	}

	// DefaultGamut is used for lights that do not report a gamut.
	DefaultGamut = GamutC

	// WhitePoint is D65.
	WhitePoint = Point{X: 0.3127, Y: 0.3290}
)

// GamutByType returns the named gamut ("A", "B" or "C").
func GamutByType(name string) (Gamut, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "A":
		return GamutA, true
	case "B":
		return GamutB, true
	case "C":
		return GamutC, true
	default:
		return Gamut{}, false
	}
}

// GamutFromTriangle builds a gamut from the bridge's [[x,y],[x,y],[x,y]]
// representation (red, green, blue order).
func GamutFromTriangle(tri [][]float64) (Gamut, bool) {
	if len(tri) != 3 {
		return Gamut{}, false
	}
	var pts [3]Point
	for i, v := range tri {
		if len(v) != 2 {
			return Gamut{}, false
		}
		pts[i] = Point{X: v[0], Y: v[1]}
	}
	return Gamut{Red: pts[0], Green: pts[1], Blue: pts[2]}, true
}

// Contains reports whether p lies inside the triangle, edges included.
func (g Gamut) Contains(p Point) bool {
	d1 := cross(p, g.Red, g.Green)
	d2 := cross(p, g.Green, g.Blue)
	d3 := cross(p, g.Blue, g.Red)

	hasNeg := d1 < -containsEpsilon || d2 < -containsEpsilon || d3 < -containsEpsilon
	hasPos := d1 > containsEpsilon || d2 > containsEpsilon || d3 > containsEpsilon
	return !(hasNeg && hasPos)
}

// Clamp returns p if it is reachable, otherwise the closest point on the
// triangle's boundary.
func (g Gamut) Clamp(p Point) Point {
	if g.Contains(p) {
		return p
	}

	candidates := [3]Point{
		closestOnSegment(p, g.Red, g.Green),
		closestOnSegment(p, g.Green, g.Blue),
		closestOnSegment(p, g.Blue, g.Red),
	}

	best := candidates[0]
	bestDist := distance(p, best)
	for _, c := range candidates[1:] {
		if d := distance(p, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func cross(p, a, b Point) float64 {
	return (p.X-b.X)*(a.Y-b.Y) - (a.X-b.X)*(p.Y-b.Y)
}

func closestOnSegment(p, a, b Point) Point {
	abX, abY := b.X-a.X, b.Y-a.Y
	lenSq := abX*abX + abY*abY
	if lenSq == 0 {
		return a
	}

	t := ((p.X-a.X)*abX + (p.Y-a.Y)*abY) / lenSq
	t = math.Max(0, math.Min(1, t))
	return Point{X: a.X + t*abX, Y: a.Y + t*abY}
}

func distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
