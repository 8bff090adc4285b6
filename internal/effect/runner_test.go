package effect

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/huestream/internal/color"
	"github.com/dokzlo13/huestream/internal/stream"
)

type call struct {
	kind string
	id   uint16
	a, b float64
	c    float64
	bri  float64
}

type fakeTarget struct {
	mu    sync.Mutex
	calls []call
	space stream.ColorSpace
}

func (f *fakeTarget) SetLightStateRGB(id uint16, rgb color.RGB, bri float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id > 10 {
		return stream.ErrUnknownLight
	}
	f.calls = append(f.calls, call{kind: "rgb", id: id, a: rgb.R, b: rgb.G, c: rgb.B, bri: bri})
	return nil
}

func (f *fakeTarget) SetLightStateXY(id uint16, xy color.Point, bri float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: "xy", id: id, a: xy.X, b: xy.Y, bri: bri})
	return nil
}

func (f *fakeTarget) Lights() []uint16 { return []uint16{3, 4} }

func (f *fakeTarget) ColorSpace() stream.ColorSpace { return f.space }

func (f *fakeTarget) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func TestRunner_StepCallsFrame(t *testing.T) {
	r := NewRunner(25)
	defer r.Close()

	tgt := &fakeTarget{space: stream.ColorSpaceXY}
	r.SetTarget(tgt)

	require.NoError(t, r.LoadString(`
		local stream = require("stream")
		function frame(t)
			for _, id in ipairs(stream.lights()) do
				stream.rgb(id, 1, 0, 0)
			end
			stream.xy(3, 0.3, 0.4, t / 1000)
		end
	`))

	require.NoError(t, r.Step(500))

	calls := tgt.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, call{kind: "rgb", id: 3, a: 1, bri: 1}, calls[0])
	assert.Equal(t, call{kind: "rgb", id: 4, a: 1, bri: 1}, calls[1])
	assert.Equal(t, "xy", calls[2].kind)
	assert.InDelta(t, 0.5, calls[2].bri, 1e-9)
}

func TestRunner_SpaceAndErrors(t *testing.T) {
	r := NewRunner(25)
	defer r.Close()

	tgt := &fakeTarget{space: stream.ColorSpaceRGB}
	r.SetTarget(tgt)

	require.NoError(t, r.LoadString(`
		local stream = require("stream")
		result = {}
		function frame(t)
			result.space = stream.space()
			local ok, err = stream.rgb(42, 1, 1, 1)
			result.ok = ok
			result.err = err
		end
	`))
	require.NoError(t, r.Step(0))

	result := r.L.GetGlobal("result")
	assert.Equal(t, "rgb", r.L.GetField(result, "space").String())
	assert.Equal(t, "nil", r.L.GetField(result, "ok").String())
	assert.Contains(t, r.L.GetField(result, "err").String(), "not part of the entertainment group")
}

func TestRunner_NoTarget(t *testing.T) {
	r := NewRunner(25)
	defer r.Close()

	require.NoError(t, r.LoadString(`
		local stream = require("stream")
		function frame(t)
			local ok, err = stream.xy(1, 0.3, 0.3, 1)
			assert(ok == nil)
			assert(err == "no stream attached")
			assert(#stream.lights() == 0)
		end
	`))
	assert.NoError(t, r.Step(0))
}

func TestRunner_LoadErrors(t *testing.T) {
	r := NewRunner(25)
	defer r.Close()

	assert.ErrorIs(t, r.LoadString(`x = 1`), ErrNoFrameFunc)
	assert.Error(t, r.LoadString(`function frame(`))
	assert.Error(t, r.LoadFile(filepath.Join(t.TempDir(), "missing.lua")))
}

func TestRunner_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "effect.lua")
	require.NoError(t, os.WriteFile(path, []byte(`
		local log = require("log")
		function frame(t)
			log.debug("tick", {t = t, lights = {1, 2}})
		end
	`), 0o600))

	r := NewRunner(25)
	defer r.Close()

	require.NoError(t, r.LoadFile(path))
	assert.NoError(t, r.Step(20))
}

func TestRunner_ScriptErrorIsReturned(t *testing.T) {
	r := NewRunner(25)
	defer r.Close()

	require.NoError(t, r.LoadString(`function frame(t) error("broken effect") end`))
	assert.ErrorContains(t, r.Step(0), "broken effect")
}

func TestRunner_RunUntilCancelled(t *testing.T) {
	r := NewRunner(200)
	defer r.Close()

	tgt := &fakeTarget{space: stream.ColorSpaceRGB}
	r.SetTarget(tgt)
	require.NoError(t, r.LoadString(`
		local stream = require("stream")
		function frame(t) stream.rgb(3, 0, 1, 0, 1) end
	`))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, tgt.snapshot())
}
