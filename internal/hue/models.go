package hue

import (
	"fmt"
	"time"

	"github.com/dokzlo13/huestream/internal/color"
)

// GroupTypeEntertainment is the v1 group type that accepts streaming.
const GroupTypeEntertainment = "Entertainment"

// Group represents a Hue group (v1 API)
type Group struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Lights []string `json:"lights"`
	Type   string   `json:"type"`
	Class  string   `json:"class,omitempty"`
	Stream *struct {
		ProxyMode string  `json:"proxymode"`
		Active    bool    `json:"active"`
		Owner     *string `json:"owner"`
	} `json:"stream,omitempty"`
}

// IsEntertainment reports whether the group can be streamed to.
func (g *Group) IsEntertainment() bool {
	return g != nil && g.Type == GroupTypeEntertainment
}

// Light represents a Hue light with its capabilities (v1 API)
type Light struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	ModelID      string `json:"modelid"`
	Capabilities struct {
		Control struct {
			ColorGamutType string      `json:"colorgamuttype"`
			ColorGamut     [][]float64 `json:"colorgamut"`
		} `json:"control"`
		Streaming struct {
			Renderer bool `json:"renderer"`
			Proxy    bool `json:"proxy"`
		} `json:"streaming"`
	} `json:"capabilities"`
}

// Gamut returns the reported gamut triangle, falling back to the gamut type
// and then to color.DefaultGamut.
func (l Light) Gamut() color.Gamut {
	if g, ok := color.GamutFromTriangle(l.Capabilities.Control.ColorGamut); ok {
		return g
	}
	if g, ok := color.GamutByType(l.Capabilities.Control.ColorGamutType); ok {
		return g
	}
	return color.DefaultGamut
}

// State is a snapshot of the bridge's lights and groups.
type State struct {
	Lights    map[string]Light
	Groups    map[string]Group
	FetchedAt time.Time
}

// APIError is an error entry returned by the v1 API.
type APIError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hue api error %d at %s: %s", e.Type, e.Address, e.Description)
}

// apiResult is one element of a v1 write response.
type apiResult struct {
	Success map[string]any `json:"success,omitempty"`
	Error   *APIError      `json:"error,omitempty"`
}
