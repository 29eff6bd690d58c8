//go:build !no_automation

package automation

import (
	"context"
	"time"

	"civ-go-home/internal/civ"
	"civ-go-home/internal/radio"

	lua "github.com/yuin/gopher-lua"
)

const maxHandlersPerScript = 100

// registerCivModule registers the `civ` global table in a Lua state.
func registerCivModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	fns := map[string]lua.LGFunction{
		"on":         func(L *lua.LState) int { return civOn(L, vm) },
		"power":      func(L *lua.LState) int { return civPower(L, e) },
		"set_mode":   func(L *lua.LState) int { return civSetMode(L, e) },
		"sync_clock": func(L *lua.LState) int { return civSyncClock(L, e) },
		"state":      func(L *lua.LState) int { return civState(L, e) },
		"radios":     func(L *lua.LState) int { return civRadios(L, e) },
		"after":      func(L *lua.LState) int { return civAfter(L, vm, e) },
		"log":        func(L *lua.LState) int { return civLog(L, vm, e) },
	}
	for name, fn := range fns {
		mod.RawSetString(name, L.NewFunction(fn))
	}
	L.SetGlobal("civ", mod)
}

// civ.on(type, filter, callback)
func civOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filterTable := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{eventType: eventType, fn: fn, filter: make(map[string]string)}
	filterTable.ForEach(func(k, v lua.LValue) {
		if key, ok := k.(lua.LString); ok {
			h.filter[string(key)] = v.String()
		}
	})

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

func (e *Engine) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.cfg.CallTimeout)
}

// pushResult returns (true) or (false, message) to Lua.
func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// civ.power(radio, "on"|"off"|"toggle") -> state | nil, err
func civPower(L *lua.LState, e *Engine) int {
	name := L.CheckString(1)
	req, err := radio.ParsePowerRequest(L.CheckString(2))
	if err != nil {
		L.ArgError(2, err.Error())
		return 0
	}

	ctx, cancel := e.callContext()
	defer cancel()
	state, err := e.station.SetPower(ctx, name, req)
	if err != nil {
		e.logger.Warn("script power request", "radio", name, "err", err)
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(state.String()))
	return 1
}

// civ.set_mode(radio, "voice"|"data") -> ok[, err]
func civSetMode(L *lua.LState, e *Engine) int {
	name := L.CheckString(1)
	mode, err := civ.ParseMode(L.CheckString(2))
	if err != nil {
		L.ArgError(2, err.Error())
		return 0
	}

	ctx, cancel := e.callContext()
	defer cancel()
	err = e.station.SetMode(ctx, name, mode)
	if err != nil {
		e.logger.Warn("script mode request", "radio", name, "err", err)
	}
	return pushResult(L, err)
}

// civ.sync_clock(radio) -> ok[, err]
func civSyncClock(L *lua.LState, e *Engine) int {
	name := L.CheckString(1)

	ctx, cancel := e.callContext()
	defer cancel()
	err := e.station.SyncClock(ctx, name)
	if err != nil {
		e.logger.Warn("script clock sync", "radio", name, "err", err)
	}
	return pushResult(L, err)
}

// civ.state(radio) -> table | nil
func civState(L *lua.LState, e *Engine) int {
	snap, err := e.station.Snapshot(L.CheckString(1))
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	t := L.NewTable()
	t.RawSetString("name", lua.LString(snap.Name))
	t.RawSetString("model", lua.LString(snap.Model.String()))
	t.RawSetString("address", lua.LString(snap.Address.String()))
	t.RawSetString("power", lua.LString(snap.Power.String()))
	t.RawSetString("mode", lua.LString(snap.Mode.String()))
	t.RawSetString("frequency", lua.LNumber(snap.Frequency))
	t.RawSetString("modulation", lua.LString(snap.Modulation.String()))
	t.RawSetString("filter", lua.LString(snap.Filter.String()))
	t.RawSetString("sequence_active", lua.LBool(snap.SequenceActive))
	L.Push(t)
	return 1
}

// civ.radios() -> {"hf", "vhf", ...}
func civRadios(L *lua.LState, e *Engine) int {
	t := L.NewTable()
	for i, name := range e.station.Names() {
		t.RawSetInt(i+1, lua.LString(name))
	}
	L.Push(t)
	return 1
}

// civ.after(seconds, callback)
func civAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		case <-vm.ctx.Done():
		default:
			e.logger.Warn("after: command channel full")
		}
	}()
	return 0
}

// civ.log(msg)
func civLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	if vm.logf != nil {
		vm.logf("info", msg)
		return 0
	}
	e.logger.Info("script log", "msg", msg)
	return 0
}
