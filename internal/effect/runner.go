// Package effect drives a stream from a Lua script.
//
// A script defines a global function frame(t_ms) which is called at a fixed
// rate with the milliseconds elapsed since Run started. Inside frame the
// script sets colours through the "stream" module:
//
//	local stream = require("stream")
//	function frame(t)
//	  for _, id in ipairs(stream.lights()) do
//	    stream.rgb(id, 1, 0, 0, 0.5)
//	  end
//	end
package effect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/huestream/internal/color"
	"github.com/dokzlo13/huestream/internal/stream"
)

// ErrNoTarget is returned to scripts while no session is attached.
var ErrNoTarget = errors.New("no stream attached")

// ErrNoFrameFunc means the script did not define frame(t_ms).
var ErrNoFrameFunc = errors.New("script does not define a frame function")

// Target receives colours produced by the script. *stream.Session satisfies it.
type Target interface {
	SetLightStateRGB(id uint16, rgb color.RGB, brightness float64) error
	SetLightStateXY(id uint16, xy color.Point, brightness float64) error
	Lights() []uint16
	ColorSpace() stream.ColorSpace
}

var _ Target = (*stream.Session)(nil)

// Runner owns a Lua VM. The VM is only touched from the goroutine calling
// Load*, Step or Run.
type Runner struct {
	L   *lua.LState
	fps int

	mu  sync.RWMutex
	tgt Target

	errLimiter *rate.Limiter
}

// NewRunner creates a runner that evaluates the script fps times per second.
func NewRunner(fps int) *Runner {
	if fps <= 0 {
		fps = 25
	}

	r := &Runner{
		L:          lua.NewState(),
		fps:        fps,
		errLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}

	r.L.PreloadModule("stream", (&streamModule{runner: r}).Loader)
	r.L.PreloadModule("log", (&logModule{}).Loader)

	return r
}

// LoadFile executes a script file.
func (r *Runner) LoadFile(path string) error {
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load effect script %s: %w", path, err)
	}
	return r.checkFrameFunc()
}

// LoadString executes script source.
func (r *Runner) LoadString(src string) error {
	if err := r.L.DoString(src); err != nil {
		return fmt.Errorf("failed to load effect script: %w", err)
	}
	return r.checkFrameFunc()
}

func (r *Runner) checkFrameFunc() error {
	if _, ok := r.L.GetGlobal("frame").(*lua.LFunction); !ok {
		return ErrNoFrameFunc
	}
	return nil
}

// SetTarget attaches a session. nil detaches; scripts then get ErrNoTarget
// from stream.rgb / stream.xy.
func (r *Runner) SetTarget(t Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tgt = t
}

func (r *Runner) target() Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.tgt == nil {
		return noTarget{}
	}
	return r.tgt
}

// Step calls frame(tMs) once.
func (r *Runner) Step(tMs int64) error {
	fn, ok := r.L.GetGlobal("frame").(*lua.LFunction)
	if !ok {
		return ErrNoFrameFunc
	}
	return r.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lua.LNumber(tMs))
}

// Run calls frame at the configured rate until ctx is done. Script errors
// are logged and the loop continues.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(r.fps))
	defer ticker.Stop()

	start := time.Now()
	log.Info().Int("fps", r.fps).Msg("Effect runner started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Effect runner stopped")
			return ctx.Err()
		case now := <-ticker.C:
			if err := r.Step(now.Sub(start).Milliseconds()); err != nil {
				if errors.Is(err, ErrNoFrameFunc) {
					return err
				}
				if r.errLimiter.Allow() {
					log.Error().Err(err).Msg("Effect frame failed")
				}
			}
		}
	}
}

// Close releases the Lua VM.
func (r *Runner) Close() {
	r.L.Close()
}

type noTarget struct{}

func (noTarget) SetLightStateRGB(uint16, color.RGB, float64) error  { return ErrNoTarget }
func (noTarget) SetLightStateXY(uint16, color.Point, float64) error { return ErrNoTarget }
func (noTarget) Lights() []uint16                                   { return nil }
func (noTarget) ColorSpace() stream.ColorSpace                      { return stream.ColorSpaceXY }
