//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"civ-go-home/internal/station"

	lua "github.com/yuin/gopher-lua"
)

// Config bounds script execution.
type Config struct {
	CallTimeout time.Duration // one station request from Lua, default 5s
	RunTimeout  time.Duration // one-shot RunLuaCode, default 5s
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// luaEventHandler is a Lua callback registered with civ.on. Every filter
// entry must match: "radio" against the event's radio, other keys against
// the event data.
type luaEventHandler struct {
	eventType string
	filter    map[string]string
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers

	// logf overrides civ.log, used by RunLuaCode to capture output.
	logf func(level, msg string)
}

// Engine runs one Lua VM per enabled script and feeds station events to
// the handlers the scripts register.
type Engine struct {
	station *station.Station
	manager *Manager
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	mu    sync.Mutex
	vms   map[string]*scriptVM // script ID -> running VM
	unsub func()
}

// NewEngine creates an automation engine.
func NewEngine(st *station.Station, mgr *Manager, logger *slog.Logger, cfg Config) *Engine {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Second
	}
	return &Engine{
		station: st,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		cfg:     cfg,
		now:     time.Now,
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to station events and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.station.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	n := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", n)
}

// Stop cancels all VMs and unsubscribes from the event bus.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.logger.Info("automation engine stopped")
}

// Running lists the IDs of the scripts with a live VM.
func (e *Engine) Running() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]bool, len(e.vms))
	for id := range e.vms {
		out[id] = true
	}
	return out
}

// ReloadScript stops the old VM, if any, and starts the script again when
// it is enabled.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return err
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// RunScript executes a stored script once in a temporary VM.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{OK: false, Error: err.Error(), Duration: "0s"}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code in a temporary sandboxed VM. The top-level code
// runs first; each handler it registers is then called once with a
// synthetic event so its actions execute. Log output is captured.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RunTimeout)
	defer cancel()

	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	var (
		logs  []string
		logMu sync.Mutex
	)
	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
		logf: func(level, msg string) {
			logMu.Lock()
			defer logMu.Unlock()
			if level != "info" {
				msg = "[" + level + "] " + msg
			}
			logs = append(logs, msg)
		},
	}
	registerCivModule(L, vm, e)
	registerSystemModule(L, vm, e)

	result := func(err error) *RunResult {
		logMu.Lock()
		defer logMu.Unlock()
		r := &RunResult{OK: err == nil, Logs: append([]string(nil), logs...), Duration: time.Since(start).String()}
		if err != nil {
			r.Error = err.Error()
			if strings.Contains(r.Error, "context deadline exceeded") {
				r.Error = fmt.Sprintf("timeout (%s)", e.cfg.RunTimeout)
			}
		}
		return r
	}

	if err := L.DoString(code); err != nil {
		e.logger.Warn("run script error", "err", err)
		return result(err)
	}

	vm.mu.Lock()
	handlers := append([]luaEventHandler(nil), vm.handlers...)
	vm.mu.Unlock()

	for i, h := range handlers {
		ev := station.Event{Type: h.eventType, Radio: h.filter["radio"]}
		data := make(map[string]any, len(h.filter))
		for k, v := range h.filter {
			if k != "radio" {
				data[k] = v
			}
		}
		ev.Data = data
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, eventTable(L, ev)); err != nil {
			e.logger.Warn("run script handler error", "index", i, "err", err)
			return result(err)
		}
	}

	res := result(nil)
	e.logger.Debug("run script complete", "logs", len(res.Logs), "duration", res.Duration)
	return res
}

// newSandbox opens a Lua state without file, process or loader access.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())

	L := newSandbox()
	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerCivModule(L, vm, e)
	registerSystemModule(L, vm, e)

	// Top-level code registers the handlers.
	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("automation: execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent queues the matching handlers of every VM. It runs on the
// station goroutine and never blocks.
func (e *Engine) dispatchEvent(event station.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		handlers := append([]luaEventHandler(nil), vm.handlers...)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !matchesHandler(h, event) {
				continue
			}
			if vm.ctx.Err() != nil {
				break
			}
			fn := h.fn
			select {
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, fn, event) }:
			default:
				e.logger.Warn("script command channel full, dropping event", "type", event.Type, "radio", event.Radio)
			}
		}
	}
}

func matchesHandler(h luaEventHandler, event station.Event) bool {
	if h.eventType != event.Type {
		return false
	}
	for k, want := range h.filter {
		if k == "radio" {
			if event.Radio != want {
				return false
			}
			continue
		}
		var got any
		switch data := event.Data.(type) {
		case map[string]any:
			got = data[k]
		default:
			if k == "value" {
				got = data
			}
		}
		if got == nil || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, event station.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, eventTable(L, event)); err != nil {
		e.logger.Error("lua handler error", "type", event.Type, "radio", event.Radio, "err", err)
	}
}

// eventTable renders an event as {type=..., radio=..., <data keys>} or,
// for scalar data, {type=..., radio=..., value=...}.
func eventTable(L *lua.LState, event station.Event) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("type", lua.LString(event.Type))
	t.RawSetString("radio", lua.LString(event.Radio))
	switch data := event.Data.(type) {
	case nil:
	case map[string]any:
		for k, v := range data {
			t.RawSetString(k, goToLua(L, v))
		}
	default:
		t.RawSetString("value", goToLua(L, data))
	}
	return t
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case fmt.Stringer:
		return lua.LString(val.String())
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
