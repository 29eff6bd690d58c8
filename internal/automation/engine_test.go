//go:build !no_automation

package automation

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"civ-go-home/internal/civ"
	"civ-go-home/internal/civsim"
	"civ-go-home/internal/radio"
	"civ-go-home/internal/station"

	lua "github.com/yuin/gopher-lua"
)

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  any
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool", true, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"int", 42, lua.LTNumber},
		{"uint64", uint64(14074000), lua.LTNumber},
		{"float64", 3.14, lua.LTNumber},
		{"stringer", radio.StateOn, lua.LTString},
		{"map", map[string]any{"a": 1}, lua.LTTable},
		{"slice", []any{1, 2, 3}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := goToLua(L, tt.val).Type(); got != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, got, tt.want)
			}
		})
	}

	if v := goToLua(L, radio.StateOffTransitioning); v.String() != "off_transitioning" {
		t.Errorf("stringer = %v", v)
	}
}

func TestMatchesHandler(t *testing.T) {
	powerOn := station.Event{Type: station.EventPowerState, Radio: "hf", Data: map[string]any{"from": "unknown", "to": "on"}}
	freq := station.Event{Type: station.EventFrequency, Radio: "hf", Data: uint64(14074000)}

	tests := []struct {
		name   string
		filter map[string]string
		typ    string
		event  station.Event
		want   bool
	}{
		{"no filter", nil, station.EventPowerState, powerOn, true},
		{"wrong type", nil, station.EventMode, powerOn, false},
		{"radio match", map[string]string{"radio": "hf"}, station.EventPowerState, powerOn, true},
		{"radio mismatch", map[string]string{"radio": "vhf"}, station.EventPowerState, powerOn, false},
		{"data match", map[string]string{"radio": "hf", "to": "on"}, station.EventPowerState, powerOn, true},
		{"data mismatch", map[string]string{"to": "off"}, station.EventPowerState, powerOn, false},
		{"missing key", map[string]string{"status": "BUS_BUSY"}, station.EventPowerState, powerOn, false},
		{"scalar value", map[string]string{"value": "14074000"}, station.EventFrequency, freq, true},
		{"scalar other key", map[string]string{"to": "on"}, station.EventFrequency, freq, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := luaEventHandler{eventType: tt.typ, filter: tt.filter}
			if got := matchesHandler(h, tt.event); got != tt.want {
				t.Errorf("matchesHandler() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tbl := eventTable(L, station.Event{Type: station.EventMode, Radio: "vhf", Data: "data"})
	if tbl.RawGetString("type").String() != "mode" || tbl.RawGetString("radio").String() != "vhf" {
		t.Errorf("header fields: %v %v", tbl.RawGetString("type"), tbl.RawGetString("radio"))
	}
	if tbl.RawGetString("value").String() != "data" {
		t.Errorf("value = %v", tbl.RawGetString("value"))
	}

	tbl = eventTable(L, station.Event{Type: station.EventPowerState, Radio: "hf", Data: map[string]any{"to": "on"}})
	if tbl.RawGetString("to").String() != "on" {
		t.Errorf("to = %v", tbl.RawGetString("to"))
	}
}

// liveStation runs a station with one simulated IC-7300 called "hf".
func liveStation(t *testing.T) *station.Station {
	t.Helper()
	sim := civsim.NewRadio(civ.ModelIC7300, civ.AddrIC7300)
	line := civsim.NewLine(testLogger(), sim)
	bus := civ.NewBus(line, testLogger(), civ.Options{Sleep: func(time.Duration) {}})
	st, err := station.New(bus, []station.RadioConfig{{Name: "hf", Model: civ.ModelIC7300}}, nil, testLogger(),
		station.Options{TickInterval: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		st.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		st.Close()
	})
	return st
}

func newTestEngine(t *testing.T, st *station.Station, cfg Config) (*Engine, *Manager) {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "scripts"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(st, m, testLogger(), cfg)
	t.Cleanup(e.Stop)
	return e, m
}

func TestRunLuaCodeCapturesLogs(t *testing.T) {
	e, _ := newTestEngine(t, liveStation(t), Config{})

	res := e.RunLuaCode(`civ.log("a") system.log("warn", "b")`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 2 || res.Logs[0] != "a" || res.Logs[1] != "[warn] b" {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestRunLuaCodeErrors(t *testing.T) {
	e, _ := newTestEngine(t, liveStation(t), Config{RunTimeout: 100 * time.Millisecond})

	if res := e.RunLuaCode(`civ.log(`); res.OK || res.Error == "" {
		t.Errorf("syntax error: %+v", res)
	}
	if res := e.RunLuaCode(`os.exit(1)`); res.OK {
		t.Error("os is available in the sandbox")
	}
	res := e.RunLuaCode(`while true do end`)
	if res.OK || !strings.Contains(res.Error, "timeout") {
		t.Errorf("endless loop: %+v", res)
	}
}

func TestRunLuaCodeInvokesHandlers(t *testing.T) {
	e, _ := newTestEngine(t, liveStation(t), Config{})

	res := e.RunLuaCode(`
civ.on("power_state", {radio="hf", to="on"}, function(ev)
	civ.log(ev.type .. " " .. ev.radio .. " " .. ev.to)
end)`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "power_state hf on" {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestCivModuleDrivesStation(t *testing.T) {
	st := liveStation(t)
	e, _ := newTestEngine(t, st, Config{})

	res := e.RunLuaCode(`
civ.log(civ.power("hf", "off"))
local ok, err = civ.set_mode("lf", "data")
civ.log(tostring(ok))
local s = civ.state("hf")
civ.log(s.model .. " " .. s.address .. " " .. s.power)
civ.log(tostring(civ.state("lf")))
civ.log(#civ.radios())
local ok2 = civ.sync_clock("hf")
civ.log(tostring(ok2))`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{"off", "false", "IC-7300 0x94 off", "nil", "1", "false"}
	if len(res.Logs) != len(want) {
		t.Fatalf("logs = %v, want %v", res.Logs, want)
	}
	for i := range want {
		if res.Logs[i] != want[i] {
			t.Errorf("log %d = %q, want %q", i, res.Logs[i], want[i])
		}
	}

	if res := e.RunLuaCode(`civ.power("hf", "sideways")`); res.OK {
		t.Error("bad power request accepted")
	}
}

func TestCivOnHandlerLimit(t *testing.T) {
	e, _ := newTestEngine(t, liveStation(t), Config{})
	res := e.RunLuaCode(`for i = 1, 101 do civ.on("mode", {}, function() end) end`)
	if res.OK || !strings.Contains(res.Error, "too many handlers") {
		t.Errorf("res = %+v", res)
	}
}

func TestEngineDispatchesEvents(t *testing.T) {
	st := liveStation(t)
	e, m := newTestEngine(t, st, Config{})

	if _, err := m.Save(&Script{
		ID:      "off_on_mode",
		Meta:    ScriptMeta{Name: "Power off on mode change", Enabled: true},
		LuaCode: `civ.on("mode", {radio="hf", value="data"}, function(ev) civ.power(ev.radio, "off") end)`,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Save(&Script{ID: "disabled", Meta: ScriptMeta{Name: "Off"}, LuaCode: `civ.log("x")`}); err != nil {
		t.Fatal(err)
	}
	e.Start()

	running := e.Running()
	if !running["off_on_mode"] || running["disabled"] {
		t.Fatalf("running = %v", running)
	}

	st.Events().Emit(station.Event{Type: station.EventMode, Radio: "hf", Data: "voice"})
	st.Events().Emit(station.Event{Type: station.EventMode, Radio: "hf", Data: "data"})

	deadline := time.Now().Add(3 * time.Second)
	for {
		snap, err := st.Snapshot("hf")
		if err != nil {
			t.Fatal(err)
		}
		if snap.Power == radio.StateOff {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("script did not power off the radio: %s", snap.Power)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngineReloadAndStop(t *testing.T) {
	e, m := newTestEngine(t, liveStation(t), Config{})

	s, err := m.Save(&Script{Meta: ScriptMeta{Name: "Toggle me", Enabled: true}, LuaCode: `civ.log("hi")`})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatal(err)
	}
	if !e.Running()[s.ID] {
		t.Fatal("script not running after reload")
	}

	s.Meta.Enabled = false
	if _, err := m.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatal(err)
	}
	if e.Running()[s.ID] {
		t.Error("disabled script still running")
	}

	if err := e.ReloadScript("missing"); err == nil {
		t.Error("expected error for missing script")
	}
	if res := e.RunScript("missing"); res.OK {
		t.Error("run of missing script succeeded")
	}

	bad, err := m.Save(&Script{Meta: ScriptMeta{Name: "Broken", Enabled: true}, LuaCode: `civ.log(`})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(bad.ID); err == nil {
		t.Error("expected error starting a broken script")
	}
}
