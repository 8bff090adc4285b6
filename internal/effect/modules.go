package effect

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/huestream/internal/color"
)

// streamModule exposes the current target to scripts as require("stream").
type streamModule struct {
	runner *Runner
}

func (m *streamModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "rgb", L.NewFunction(m.rgb))
	L.SetField(mod, "xy", L.NewFunction(m.xy))
	L.SetField(mod, "lights", L.NewFunction(m.lights))
	L.SetField(mod, "space", L.NewFunction(m.space))

	L.Push(mod)
	return 1
}

// rgb(id, r, g, b [, bri]) -> true | nil, err
func (m *streamModule) rgb(L *lua.LState) int {
	id := checkLightID(L, 1)
	c := color.RGB{
		R: float64(L.CheckNumber(2)),
		G: float64(L.CheckNumber(3)),
		B: float64(L.CheckNumber(4)),
	}
	bri := float64(L.OptNumber(5, 1))

	return pushResult(L, m.runner.target().SetLightStateRGB(id, c, bri))
}

// xy(id, x, y, bri) -> true | nil, err
func (m *streamModule) xy(L *lua.LState) int {
	id := checkLightID(L, 1)
	p := color.Point{
		X: float64(L.CheckNumber(2)),
		Y: float64(L.CheckNumber(3)),
	}
	bri := float64(L.CheckNumber(4))

	return pushResult(L, m.runner.target().SetLightStateXY(id, p, bri))
}

// lights() -> {id, ...}
func (m *streamModule) lights(L *lua.LState) int {
	tbl := L.NewTable()
	for _, id := range m.runner.target().Lights() {
		tbl.Append(lua.LNumber(id))
	}
	L.Push(tbl)
	return 1
}

// space() -> "rgb" | "xy"
func (m *streamModule) space(L *lua.LState) int {
	L.Push(lua.LString(m.runner.target().ColorSpace().String()))
	return 1
}

func checkLightID(L *lua.LState, n int) uint16 {
	v := L.CheckInt(n)
	if v < 0 || v > 0xFFFF {
		L.ArgError(n, "light id out of range")
	}
	return uint16(v)
}

func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// logModule provides logging functions to Lua
type logModule struct{}

func (m *logModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(func(L *lua.LState) int {
		m.emit(L, log.Debug())
		return 0
	}))
	L.SetField(mod, "info", L.NewFunction(func(L *lua.LState) int {
		m.emit(L, log.Info())
		return 0
	}))
	L.SetField(mod, "warn", L.NewFunction(func(L *lua.LState) int {
		m.emit(L, log.Warn())
		return 0
	}))
	L.SetField(mod, "error", L.NewFunction(func(L *lua.LState) int {
		m.emit(L, log.Error())
		return 0
	}))

	L.Push(mod)
	return 1
}

func (m *logModule) emit(L *lua.LState, event *zerolog.Event) {
	msg := L.CheckString(1)

	event = event.Str("source", "lua")
	if tbl, ok := L.Get(2).(*lua.LTable); ok {
		tbl.ForEach(func(key, value lua.LValue) {
			event = event.Interface(lua.LVAsString(key), luaToGo(value))
		})
	}
	event.Msg(msg)
}

// luaToGo converts a Lua value into a plain Go value for log fields.
func luaToGo(v lua.LValue) interface{} {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		if n := val.Len(); n > 0 {
			arr := make([]interface{}, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, luaToGo(val.RawGetInt(i)))
			}
			return arr
		}
		obj := make(map[string]interface{})
		val.ForEach(func(k, v lua.LValue) {
			obj[lua.LVAsString(k)] = luaToGo(v)
		})
		return obj
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}
