// Package station runs the controllers of every radio on one CI-V bus from a
// single goroutine and serializes requests from outer surfaces onto it.
package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"civ-go-home/internal/civ"
	"civ-go-home/internal/radio"
)

var (
	ErrUnknownRadio = errors.New("station: unknown radio")
	ErrStopped      = errors.New("station: stopped")
	ErrRadioOff     = errors.New("station: radio is not on")
	ErrUnsupported  = errors.New("station: not supported by model")
)

// RadioConfig names one radio on the bus.
type RadioConfig struct {
	Name  string
	Model civ.Model
	// Address left zero (or set to civ.AddrNone) selects the model's
	// factory address. Broadcast is never a radio address.
	Address civ.Address
}

// Options tune the station loop.
type Options struct {
	TickInterval time.Duration    // default 10ms
	ClockSync    bool             // push date and time whenever a radio comes on
	Clock        func() time.Time // default time.Now
}

// Snapshot is the published state of one named radio.
type Snapshot struct {
	Name string `json:"name"`
	radio.Snapshot
}

type unit struct {
	name  string
	radio *radio.Radio
	last  radio.Snapshot
}

type request struct {
	fn   func(*Station) error
	done chan error
}

// Station owns the bus and its radios.
type Station struct {
	bus    *civ.Bus
	events *EventBus
	logger *slog.Logger
	opts   Options

	units  []*unit
	byName map[string]*unit

	requests chan request
	stopped  chan struct{}
	stopOnce sync.Once

	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// New creates a station. events may be nil.
func New(bus *civ.Bus, radios []RadioConfig, events *EventBus, logger *slog.Logger, opts Options) (*Station, error) {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 10 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if events == nil {
		events = NewEventBus(logger)
	}
	s := &Station{
		bus:      bus,
		events:   events,
		logger:   logger.With("component", "station"),
		opts:     opts,
		byName:   make(map[string]*unit),
		requests: make(chan request),
		stopped:  make(chan struct{}),
		snaps:    make(map[string]Snapshot),
	}

	now := opts.Clock()
	for _, rc := range radios {
		if rc.Name == "" {
			s.Close()
			return nil, fmt.Errorf("station: radio at %s has no name", rc.Address)
		}
		if _, dup := s.byName[rc.Name]; dup {
			s.Close()
			return nil, fmt.Errorf("station: duplicate radio name %q", rc.Name)
		}
		addr := rc.Address
		if addr == civ.AddrAll || addr == civ.AddrNone {
			addr = rc.Model.DefaultAddress()
		}
		r, err := radio.New(bus, rc.Model, addr, now, logger.With("radio", rc.Name))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("station: %s: %w", rc.Name, err)
		}
		u := &unit{name: rc.Name, radio: r, last: r.Snapshot()}
		s.units = append(s.units, u)
		s.byName[rc.Name] = u
		s.snaps[rc.Name] = Snapshot{Name: rc.Name, Snapshot: u.last}
	}
	return s, nil
}

// Events returns the bus the station publishes changes on.
func (s *Station) Events() *EventBus { return s.events }

// Trace returns the bus exchange trace, or nil if tracing is off.
func (s *Station) Trace() *civ.Trace { return s.bus.Trace() }

// Names lists the radios in configuration order.
func (s *Station) Names() []string {
	names := make([]string, len(s.units))
	for i, u := range s.units {
		names[i] = u.name
	}
	return names
}

// Run drives the radios until ctx is cancelled. Requests passed to Do are
// executed between ticks.
func (s *Station) Run(ctx context.Context) error {
	defer s.stopOnce.Do(func() { close(s.stopped) })

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	s.logger.Info("station running", "radios", len(s.units), "tick", s.opts.TickInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("station stopped")
			return nil
		case <-ticker.C:
			s.Step(s.opts.Clock())
		case req := <-s.requests:
			err := req.fn(s)
			s.observe(s.opts.Clock())
			req.done <- err
		}
	}
}

// Step ticks every radio once at now and publishes what changed. Hosts that
// drive the station themselves call it instead of Run, never alongside it.
func (s *Station) Step(now time.Time) {
	for _, u := range s.units {
		res := u.radio.Tick(now)
		if res.Status.Failed() {
			s.events.Emit(Event{Type: EventExchangeError, Radio: u.name, Data: map[string]any{
				"status":  res.Status.String(),
				"command": res.Command.String(),
			}})
		}
	}
	s.observe(now)
}

// Do runs fn on the station goroutine and returns its error.
func (s *Station) Do(ctx context.Context, fn func(*Station) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Radio returns the controller by name. Only call it from inside Do or from
// the goroutine calling Step.
func (s *Station) Radio(name string) (*radio.Radio, error) {
	u, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRadio, name)
	}
	return u.radio, nil
}

// SetPower requests power on, off or toggle and returns the resulting state.
func (s *Station) SetPower(ctx context.Context, name string, req radio.PowerRequest) (radio.PowerState, error) {
	var state radio.PowerState
	err := s.Do(ctx, func(s *Station) error {
		r, err := s.Radio(name)
		if err != nil {
			return err
		}
		state = r.SetPowerState(req, s.opts.Clock())
		return nil
	})
	return state, err
}

// SetMode starts the mode change sequence on a radio.
func (s *Station) SetMode(ctx context.Context, name string, mode civ.Mode) error {
	return s.Do(ctx, func(s *Station) error {
		r, err := s.Radio(name)
		if err != nil {
			return err
		}
		if !r.SetMode(mode) {
			return fmt.Errorf("%w: %s has no %s sequence", ErrUnsupported, r.Model(), mode)
		}
		return nil
	})
}

// SyncClock sends the current date, time and UTC offset to a radio.
func (s *Station) SyncClock(ctx context.Context, name string) error {
	return s.Do(ctx, func(s *Station) error {
		r, err := s.Radio(name)
		if err != nil {
			return err
		}
		return s.syncClock(r, s.opts.Clock())
	})
}

func (s *Station) syncClock(r *radio.Radio, now time.Time) error {
	if !r.Model().HasClock() {
		return fmt.Errorf("%w: %s has no clock", ErrUnsupported, r.Model())
	}
	if r.PowerState() != radio.StateOn {
		return fmt.Errorf("%w: %s", ErrRadioOff, r.PowerState())
	}
	r.ResetDateTime()
	return r.PushTime(now)
}

// Snapshot returns the last published state of a radio.
func (s *Station) Snapshot(name string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[name]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownRadio, name)
	}
	return snap, nil
}

// Snapshots returns the state of every radio in configuration order.
func (s *Station) Snapshots() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, s.snaps[u.name])
	}
	return out
}

// Close releases the bus addresses. Call it after Run returned.
func (s *Station) Close() {
	for _, u := range s.units {
		u.radio.Close()
	}
}

func (s *Station) observe(now time.Time) {
	for _, u := range s.units {
		cur := u.radio.Snapshot()
		prev := u.last
		if cur == prev {
			continue
		}
		u.last = cur

		s.mu.Lock()
		s.snaps[u.name] = Snapshot{Name: u.name, Snapshot: cur}
		s.mu.Unlock()

		if cur.Power != prev.Power {
			s.events.Emit(Event{Type: EventPowerState, Radio: u.name, Data: map[string]any{
				"from": prev.Power.String(),
				"to":   cur.Power.String(),
			}})
			if s.opts.ClockSync && cur.Power == radio.StateOn && u.radio.Model().HasClock() {
				if err := s.syncClock(u.radio, now); err != nil {
					s.logger.Warn("clock sync failed", "radio", u.name, "err", err)
				}
			}
		}
		if cur.Mode != prev.Mode {
			s.events.Emit(Event{Type: EventMode, Radio: u.name, Data: cur.Mode.String()})
		}
		if cur.Frequency != prev.Frequency {
			s.events.Emit(Event{Type: EventFrequency, Radio: u.name, Data: cur.Frequency})
		}
		if cur.Modulation != prev.Modulation || cur.Filter != prev.Filter {
			s.events.Emit(Event{Type: EventModulation, Radio: u.name, Data: map[string]any{
				"modulation": cur.Modulation.String(),
				"filter":     cur.Filter.String(),
			}})
		}
	}
}
