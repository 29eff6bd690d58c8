package station

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"civ-go-home/internal/civ"
	"civ-go-home/internal/civsim"
	"civ-go-home/internal/radio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(typ, name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ && e.Radio == name {
			n++
		}
	}
	return n
}

type fixture struct {
	line    *civsim.Line
	hf, vhf *civsim.Radio
	st      *Station
	rec     *recorder
	now     time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	hf := civsim.NewRadio(civ.ModelIC7300, civ.AddrIC7300)
	vhf := civsim.NewRadio(civ.ModelIC9700, civ.AddrIC9700)
	line := civsim.NewLine(testLogger(), hf, vhf)
	bus := civ.NewBus(line, testLogger(), civ.Options{Sleep: func(time.Duration) {}, Trace: civ.NewTrace(0, 0)})

	f := &fixture{line: line, hf: hf, vhf: vhf, rec: &recorder{}}
	f.now = time.Date(2024, time.March, 7, 12, 0, 0, 0, time.UTC)
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return f.now }
	}
	events := NewEventBus(testLogger())
	events.OnAll(f.rec.handle)

	st, err := New(bus, []RadioConfig{
		{Name: "hf", Model: civ.ModelIC7300, Address: civ.AddrIC7300},
		{Name: "vhf", Model: civ.ModelIC9700},
	}, events, testLogger(), opts)
	if err != nil {
		t.Fatalf("new station: %v", err)
	}
	t.Cleanup(st.Close)
	f.st = st
	return f
}

func (f *fixture) run(d time.Duration) {
	end := f.now.Add(d)
	for f.now.Before(end) {
		f.now = f.now.Add(10 * time.Millisecond)
		f.st.Step(f.now)
	}
}

func TestStationPublishesState(t *testing.T) {
	f := newFixture(t, Options{})
	if got := f.st.Names(); len(got) != 2 || got[0] != "hf" || got[1] != "vhf" {
		t.Fatalf("names: %v", got)
	}
	snap, err := f.st.Snapshot("vhf")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Address != civ.AddrIC9700 || snap.Power != radio.StateUnknown {
		t.Errorf("initial vhf: %+v", snap)
	}

	f.run(2500 * time.Millisecond)

	for _, s := range f.st.Snapshots() {
		if s.Power != radio.StateOn {
			t.Errorf("%s: power %s", s.Name, s.Power)
		}
		if s.Frequency != 14074000 {
			t.Errorf("%s: frequency %d", s.Name, s.Frequency)
		}
		if s.Modulation != radio.ModUSB || s.Filter != radio.Filter1 {
			t.Errorf("%s: %s %s", s.Name, s.Modulation, s.Filter)
		}
	}
	for _, name := range []string{"hf", "vhf"} {
		for _, typ := range []string{EventPowerState, EventFrequency, EventModulation} {
			if n := f.rec.count(typ, name); n != 1 {
				t.Errorf("%s %s events: got %d, want 1", name, typ, n)
			}
		}
	}
	if f.st.Trace() == nil || f.st.Trace().Len() == 0 {
		t.Error("trace is empty")
	}
}

func TestStationFollowsTransceive(t *testing.T) {
	f := newFixture(t, Options{})
	f.run(2500 * time.Millisecond)

	if err := f.line.Transceive(civ.AddrIC7300, 7074000); err != nil {
		t.Fatal(err)
	}
	f.run(50 * time.Millisecond)

	snap, _ := f.st.Snapshot("hf")
	if snap.Frequency != 7074000 {
		t.Errorf("frequency: %d", snap.Frequency)
	}
	if n := f.rec.count(EventFrequency, "hf"); n != 2 {
		t.Errorf("frequency events: got %d, want 2", n)
	}
}

func TestStationReportsSilentRadioOff(t *testing.T) {
	f := newFixture(t, Options{})
	f.hf.SetSilent(true)
	f.run(7 * time.Second)

	snap, _ := f.st.Snapshot("hf")
	if snap.Power != radio.StateOff {
		t.Errorf("hf power: %s", snap.Power)
	}
	if snap, _ := f.st.Snapshot("vhf"); snap.Power != radio.StateOn {
		t.Errorf("vhf power: %s", snap.Power)
	}
}

func TestStationClockSync(t *testing.T) {
	f := newFixture(t, Options{ClockSync: true})
	f.run(2500 * time.Millisecond)

	tod, date, offset := f.hf.Clock()
	if tod != civ.MustData(0x12, 0x00) && tod != civ.MustData(0x12, 0x01) && tod != civ.MustData(0x12, 0x02) {
		t.Errorf("time: %s", tod)
	}
	if date != civ.MustData(0x20, 0x24, 0x03, 0x07) {
		t.Errorf("date: %s", date)
	}
	if offset != civ.MustData(0x00, 0x00, 0x00) {
		t.Errorf("utc offset: %s", offset)
	}
	if snap, _ := f.st.Snapshot("hf"); !snap.DateTimeSent {
		t.Error("date and time not marked sent")
	}
	if _, date, _ := f.vhf.Clock(); date.Empty() {
		t.Error("vhf clock not set")
	}
}

func TestStationWithoutClockSync(t *testing.T) {
	f := newFixture(t, Options{})
	f.run(2500 * time.Millisecond)
	if _, date, _ := f.hf.Clock(); !date.Empty() {
		t.Errorf("date set without clock sync: %s", date)
	}
}

func TestStationRequests(t *testing.T) {
	f := newFixture(t, Options{TickInterval: time.Millisecond, Clock: time.Now})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.st.Run(ctx) }()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()

	if err := f.st.SetMode(reqCtx, "hf", civ.ModeData); err != nil {
		t.Errorf("set mode: %v", err)
	}
	if err := f.st.SetMode(reqCtx, "lf", civ.ModeData); !errors.Is(err, ErrUnknownRadio) {
		t.Errorf("unknown radio: %v", err)
	}
	state, err := f.st.SetPower(reqCtx, "vhf", radio.PowerOff)
	if err != nil {
		t.Fatal(err)
	}
	if state != radio.StateOff {
		t.Errorf("power off from unknown: %s", state)
	}
	if snap, _ := f.st.Snapshot("vhf"); snap.Power != radio.StateOff {
		t.Errorf("snapshot after request: %s", snap.Power)
	}
	if n := f.rec.count(EventPowerState, "vhf"); n != 1 {
		t.Errorf("power events: %d", n)
	}
	if err := f.st.SyncClock(reqCtx, "vhf"); !errors.Is(err, ErrRadioOff) {
		t.Errorf("sync clock while off: %v", err)
	}
	called := false
	if err := f.st.Do(reqCtx, func(s *Station) error {
		_, err := s.Radio("hf")
		called = err == nil
		return nil
	}); err != nil || !called {
		t.Errorf("do: %v, called %v", err, called)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
	if err := f.st.Do(reqCtx, func(*Station) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("do after stop: %v", err)
	}
}

func TestStationDoHonoursContext(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.st.Do(ctx, func(*Station) error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("do without run: %v", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	line := civsim.NewLine(testLogger())
	for _, radios := range [][]RadioConfig{
		{{Model: civ.ModelIC7300}},
		{{Name: "a", Model: civ.ModelIC7300}, {Name: "a", Model: civ.ModelIC705}},
		{{Name: "a", Model: civ.ModelIC7300, Address: civ.AddrMaster}},
		{{Name: "a", Model: civ.ModelIC7300}, {Name: "b", Model: civ.ModelIC705, Address: civ.AddrIC7300}},
	} {
		bus := civ.NewBus(line, testLogger(), civ.Options{})
		if _, err := New(bus, radios, nil, testLogger(), Options{}); err == nil {
			t.Errorf("%+v: expected error", radios)
		}
	}
}

func TestNewSharedAddress(t *testing.T) {
	bus := civ.NewBus(civsim.NewLine(testLogger()), testLogger(), civ.Options{})
	_, err := New(bus, []RadioConfig{
		{Name: "hf", Model: civ.ModelIC7300},
		{Name: "portable", Model: civ.ModelIC705, Address: civ.AddrIC7300},
	}, nil, testLogger(), Options{})
	if !errors.Is(err, radio.ErrAddressInUse) {
		t.Fatalf("got %v, want ErrAddressInUse", err)
	}
	// The failed station released what it had registered.
	if bus.IsAddressKnown(civ.AddrIC7300) {
		t.Error("0x94 still registered")
	}
}

func TestNewDefaultAddress(t *testing.T) {
	bus := civ.NewBus(civsim.NewLine(testLogger()), testLogger(), civ.Options{})
	st, err := New(bus, []RadioConfig{
		{Name: "hf", Model: civ.ModelIC7300},
		{Name: "vhf", Model: civ.ModelIC9700, Address: civ.AddrNone},
		{Name: "portable", Model: civ.ModelIC705, Address: 0x70},
	}, nil, testLogger(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	want := map[string]civ.Address{"hf": civ.AddrIC7300, "vhf": civ.AddrIC9700, "portable": 0x70}
	for _, snap := range st.Snapshots() {
		if snap.Address != want[snap.Name] {
			t.Errorf("%s: address %s, want %s", snap.Name, snap.Address, want[snap.Name])
		}
	}
}

func TestSnapshotJSON(t *testing.T) {
	f := newFixture(t, Options{})
	f.run(2500 * time.Millisecond)
	snap, _ := f.st.Snapshot("hf")
	b, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"name":"hf"`, `"model":"IC-7300"`, `"address":"0x94"`, `"power":"on"`, `"modulation":"USB"`} {
		if !strings.Contains(string(b), want) {
			t.Errorf("%s missing %s", b, want)
		}
	}
}

func TestEventBus(t *testing.T) {
	eb := NewEventBus(testLogger())
	var got []string
	off := eb.On(EventMode, func(e Event) { got = append(got, e.Radio) })
	eb.On(EventMode, func(Event) { panic("boom") })

	eb.Emit(Event{Type: EventMode, Radio: "hf"})
	eb.Emit(Event{Type: EventFrequency, Radio: "vhf"})
	off()
	eb.Emit(Event{Type: EventMode, Radio: "hf"})

	if len(got) != 1 || got[0] != "hf" {
		t.Errorf("got %v", got)
	}
}
