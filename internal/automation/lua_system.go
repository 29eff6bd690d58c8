//go:build !no_automation

package automation

import (
	"context"
	"log/slog"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// datetimeFields are the components system.datetime understands. The utc_*
// fields mirror what the station pushes into a radio's clock.
var datetimeFields = map[string]func(t time.Time) lua.LValue{
	"hour":      func(t time.Time) lua.LValue { return lua.LNumber(t.Hour()) },
	"minute":    func(t time.Time) lua.LValue { return lua.LNumber(t.Minute()) },
	"second":    func(t time.Time) lua.LValue { return lua.LNumber(t.Second()) },
	"weekday":   func(t time.Time) lua.LValue { return lua.LNumber(t.Weekday()) },
	"day":       func(t time.Time) lua.LValue { return lua.LNumber(t.Day()) },
	"month":     func(t time.Time) lua.LValue { return lua.LNumber(t.Month()) },
	"year":      func(t time.Time) lua.LValue { return lua.LNumber(t.Year()) },
	"timestamp": func(t time.Time) lua.LValue { return lua.LNumber(t.Unix()) },
	"time_str":  func(t time.Time) lua.LValue { return lua.LString(t.Format("15:04:05")) },
	"date_str":  func(t time.Time) lua.LValue { return lua.LString(t.Format("2006-01-02")) },

	"utc_hour":   func(t time.Time) lua.LValue { return lua.LNumber(t.UTC().Hour()) },
	"utc_minute": func(t time.Time) lua.LValue { return lua.LNumber(t.UTC().Minute()) },
	"utc_date":   func(t time.Time) lua.LValue { return lua.LString(t.UTC().Format("2006-01-02")) },
	"utc_offset": func(t time.Time) lua.LValue {
		_, sec := t.Zone()
		return lua.LNumber(sec / 60)
	},
}

// registerSystemModule installs the `system` table: clock access and logging.
func registerSystemModule(L *lua.LState, vm *scriptVM, e *Engine) {
	L.SetGlobal("system", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"datetime": func(L *lua.LState) int {
			name := L.CheckString(1)
			field, ok := datetimeFields[name]
			if !ok {
				L.ArgError(1, "unknown component: "+name)
				return 0
			}
			L.Push(field(e.now()))
			return 1
		},
		"time_between": func(L *lua.LState) int {
			L.Push(lua.LBool(hourBetween(e.now().Hour(), L.CheckInt(1), L.CheckInt(2))))
			return 1
		},
		"log": func(L *lua.LState) int {
			level, msg := L.CheckString(1), L.CheckString(2)
			if vm.logf != nil {
				vm.logf(level, msg)
				return 0
			}
			e.logger.Log(context.Background(), scriptLevel(level), "script log", "msg", msg)
			return 0
		},
	}))
}

// hourBetween reports whether hour is in [from, to), wrapping at midnight
// when from > to.
func hourBetween(hour, from, to int) bool {
	if from <= to {
		return hour >= from && hour < to
	}
	return hour >= from || hour < to
}

func scriptLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
