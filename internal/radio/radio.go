// Package radio turns raw CI-V exchanges into the state of one transceiver:
// power state, frequency, modulation and the operating mode set through
// multi-step command sequences.
package radio

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"civ-go-home/internal/civ"
)

// Timing of the presence check and the sequence interpreter.
const (
	IDQueryInterval    = 1800 * time.Millisecond
	IDReplyTimeout     = 100 * time.Millisecond
	SequenceAckTimeout = 500 * time.Millisecond
)

// Telemetry query countdown, in ticks. A frequency read goes out when the
// counter reaches queryFreq and a modulation read at queryMode.
const (
	queryNone        = 0
	queryMode        = 1
	queryModeSoon    = 2 // after a completed mode change
	queryFreq        = 3 // after the radio was found on
	queryAfterIDPoll = 6
)

// Radio is the controller of one transceiver on a shared bus. Like the bus
// it is driven from a single goroutine.
type Radio struct {
	bus    *civ.Bus
	model  civ.Model
	addr   civ.Address
	base   *slog.Logger // without addr
	logger *slog.Logger

	power      PowerState
	mode       civ.Mode
	frequency  uint64
	modulation Modulation
	filter     Filter

	awaitingID  bool
	lastIDQuery time.Time
	lastPowerOn time.Time
	ackPending  bool
	ackSince    time.Time
	query       int

	seq     []civ.Step
	seqMode civ.Mode
	seqIdx  int
	naks    int

	tod, date, offset civ.Data
	dateTimeSent      bool
}

// ErrAddressInUse is returned when another controller already owns the
// address on the bus.
var ErrAddressInUse = errors.New("address already in use")

// New creates the controller and registers addr on the bus. now seeds the
// presence-check and boot-window timers.
func New(bus *civ.Bus, model civ.Model, addr civ.Address, now time.Time, logger *slog.Logger) (*Radio, error) {
	if bus.IsAddressKnown(addr) {
		return nil, fmt.Errorf("radio %s: %s: %w", model, addr, ErrAddressInUse)
	}
	if !bus.RegisterAddress(addr) {
		return nil, fmt.Errorf("radio %s: register address %s: reserved or registry full", model, addr)
	}
	return &Radio{
		bus:         bus,
		model:       model,
		addr:        addr,
		base:        logger.With("component", "radio", "model", model.String()),
		logger:      logger.With("component", "radio", "model", model.String(), "addr", addr.String()),
		power:       StateUnknown,
		modulation:  ModUndefined,
		lastIDQuery: now,
		lastPowerOn: now,
		ackSince:    now,
	}, nil
}

// Close releases the bus address.
func (r *Radio) Close() {
	r.bus.UnregisterAddress(r.addr)
}

func (r *Radio) Model() civ.Model { return r.model }
func (r *Radio) Address() civ.Address { return r.addr }
func (r *Radio) PowerState() PowerState { return r.power }
func (r *Radio) Mode() civ.Mode { return r.mode }
func (r *Radio) Frequency() uint64 { return r.frequency }
func (r *Radio) ModulationMode() Modulation { return r.modulation }
func (r *Radio) RxFilter() Filter { return r.filter }

// SequenceActive reports whether a mode change is in progress.
func (r *Radio) SequenceActive() bool { return r.seq != nil }

// SetAddress moves the controller to a new bus address.
func (r *Radio) SetAddress(a civ.Address) error {
	if a == r.addr {
		return nil
	}
	if a.Reserved() {
		return fmt.Errorf("radio %s: address %s is reserved", r.model, a)
	}
	if r.bus.IsAddressKnown(a) {
		return fmt.Errorf("radio %s: %s: %w", r.model, a, ErrAddressInUse)
	}
	r.bus.UnregisterAddress(r.addr)
	if !r.bus.RegisterAddress(a) {
		r.bus.RegisterAddress(r.addr)
		return fmt.Errorf("radio %s: register address %s: registry full", r.model, a)
	}
	r.logger.Info("address changed", "from", r.addr.String(), "to", a.String())
	r.addr = a
	r.logger = r.base.With("addr", a.String())
	return nil
}

// Tick runs one cycle of the controller. It returns the message read during
// the cycle or, when nothing arrived, the first write that failed.
func (r *Radio) Tick(now time.Time) civ.Result {
	var failed civ.Result
	note := func(res civ.Result) {
		if res.Status.Failed() && !failed.Status.Failed() {
			failed = res
		}
	}

	if r.query > queryNone {
		switch r.query {
		case queryFreq:
			note(r.bus.Write(r.addr, civ.CmdFreqRead, civ.DataNone, civ.WriteChecked))
		case queryMode:
			note(r.bus.Write(r.addr, civ.CmdModeRead, civ.DataNone, civ.WriteChecked))
		}
		r.query--
	}

	msg := r.process(r.bus.Read(r.addr))

	if r.awaitingID && now.Sub(r.lastIDQuery) > IDReplyTimeout {
		if now.Sub(r.lastPowerOn) < r.model.BootTime() {
			r.setPower(StateOffTransitioning)
		} else {
			r.setPower(StateOff)
		}
		r.awaitingID = false
	}

	if r.seq == nil && now.Sub(r.lastIDQuery) > IDQueryInterval {
		res := r.bus.Write(r.addr, civ.CmdTransceiverID, civ.DataNone, civ.WriteFast)
		note(res)
		if res.Status == civ.StatusOK {
			r.awaitingID = true
			r.lastIDQuery = now
			r.query = queryAfterIDPoll
		}
	}

	if r.seq != nil {
		note(r.stepSequence(now))
	}

	if msg.Status == civ.StatusNoMessage && failed.Status.Failed() {
		return failed
	}
	return msg
}

func (r *Radio) process(msg civ.Result) civ.Result {
	switch msg.Status {
	case civ.StatusOK:
		r.ackPending = false

	case civ.StatusNotOK:
		r.ackPending = false
		r.naks++
		// Some models (IC-9700) answer the ID query with NOK while off.
		if r.awaitingID {
			r.setPower(StateOff)
			r.awaitingID = false
		}

	case civ.StatusOKWithData:
		r.ackPending = false
		r.applyTelemetry(msg)
	}

	// The ID reply echoes the command and carries the model byte, which is
	// ignored. A bare 19 00 is not a reply.
	if msg.Status == civ.StatusOKWithData && msg.Command == civ.CmdTransceiverID {
		r.awaitingID = false
		if r.power != StateOn {
			r.setPower(StateOn)
			r.query = queryFreq
		}
	}
	return msg
}

func (r *Radio) applyTelemetry(msg civ.Result) {
	switch msg.Command {
	case civ.CmdFreqSend, civ.CmdFreqRead:
		if msg.Value != r.frequency {
			r.logger.Debug("frequency", "hz", msg.Value)
		}
		r.frequency = msg.Value

	case civ.CmdModeSend, civ.CmdModeRead:
		r.modulation = decodeModulation(msg.Data.At(0))
		if msg.Data.Len() > 1 {
			r.filter = decodeFilter(msg.Data.At(1))
		}
	}
}

func (r *Radio) setPower(s PowerState) {
	if s != r.power {
		r.logger.Info("power state", "from", r.power.String(), "to", s.String())
		r.power = s
	}
}

// stepSequence advances the running mode change by at most one command.
func (r *Radio) stepSequence(now time.Time) civ.Result {
	switch {
	case r.naks > 0:
		r.abortSequence("rejected", "step", r.seqIdx)

	case r.ackPending:
		if now.Sub(r.ackSince) > SequenceAckTimeout {
			r.abortSequence("no acknowledge", "step", r.seqIdx)
		}

	case r.seqIdx < len(r.seq):
		s := r.seq[r.seqIdx]
		res := r.bus.Write(r.addr, s.Cmd, s.Data, civ.WriteFast)
		if res.Status != civ.StatusOK {
			return res
		}
		r.ackPending = true
		r.ackSince = now
		r.seqIdx++

	default:
		r.logger.Info("mode changed", "mode", r.seqMode.String(), "steps", len(r.seq))
		r.mode = r.seqMode
		r.seq = nil
		r.seqMode = civ.ModeUndefined
		r.query = queryModeSoon
	}
	return civ.Result{Status: civ.StatusNoMessage, Source: civ.AddrNone}
}

func (r *Radio) abortSequence(reason string, args ...any) {
	r.logger.Warn("mode change aborted", append([]any{"reason", reason, "mode", r.seqMode.String()}, args...)...)
	r.mode = civ.ModeUndefined
	r.seq = nil
	r.seqMode = civ.ModeUndefined
}

// SetMode starts the command sequence that switches the radio to mode. It
// returns false, leaving everything unchanged, when the model has no such
// sequence. The new mode is reported by Mode once every step was
// acknowledged.
func (r *Radio) SetMode(mode civ.Mode) bool {
	seq, ok := civ.Sequence(r.model, mode)
	if !ok {
		return false
	}
	r.seq = seq
	r.seqMode = mode
	r.seqIdx = 0
	r.naks = 0
	r.ackPending = false
	r.logger.Info("mode change started", "mode", mode.String(), "steps", len(seq))
	return true
}

// SetPowerState requests power on, off or a toggle and returns the new state.
func (r *Radio) SetPowerState(req PowerRequest, now time.Time) PowerState {
	if req == PowerToggle {
		if r.power == StateOn || r.power == StateOnTransitioning {
			req = PowerOff
		} else {
			req = PowerOn
		}
	}

	switch {
	case req == PowerOn && r.power == StateOn:

	case req == PowerOn:
		res := r.bus.Write(r.addr, civ.CmdPower, civ.DataOn, civ.WritePowerOn)
		if res.Status != civ.StatusOK {
			r.logger.Warn("power on write failed", "status", res.Status.String())
		}
		r.setPower(StateOffTransitioning)
		r.ackPending = true
		r.ackSince = now
		r.lastPowerOn = now

	case r.power == StateOn || r.power == StateOnTransitioning:
		res := r.bus.Write(r.addr, civ.CmdPower, civ.DataOff, civ.WriteFast)
		if res.Status != civ.StatusOK {
			r.logger.Warn("power off write failed", "status", res.Status.String())
		}
		r.setPower(StateOnTransitioning)
		r.ackPending = true
		r.ackSince = now

	default:
		r.setPower(StateOff)
	}
	return r.power
}

// PushDateTime stores the time (HH MM), date (YY YY MM DD) and UTC offset
// (HH MM sign) groups and sends them once if the radio is on. Groups must be
// packed decimal. Call ResetDateTime to send again.
func (r *Radio) PushDateTime(tod, date, offset civ.Data) error {
	switch {
	case tod.Len() != 2 || !civ.ValidBCD(tod.Bytes()):
		return fmt.Errorf("radio %s: invalid time %s", r.model, tod)
	case date.Len() != 4 || !civ.ValidBCD(date.Bytes()):
		return fmt.Errorf("radio %s: invalid date %s", r.model, date)
	case offset.Len() != 3 || !civ.ValidBCD(offset.Bytes()) || offset.At(2) > 1:
		return fmt.Errorf("radio %s: invalid UTC offset %s", r.model, offset)
	}
	r.tod, r.date, r.offset = tod, date, offset

	if r.dateTimeSent || r.power != StateOn {
		return nil
	}
	return r.sendDateTime()
}

// PushTime is PushDateTime with the groups taken from t and its zone.
func (r *Radio) PushTime(t time.Time) error {
	_, off := t.Zone()
	return r.PushDateTime(civ.EncodeTimeOfDay(t), civ.EncodeDate(t),
		civ.EncodeUTCOffset(time.Duration(off)*time.Second))
}

// ResetDateTime re-arms PushDateTime.
func (r *Radio) ResetDateTime() { r.dateTimeSent = false }

// DateTimeSent reports whether the stored date and time reached the radio.
func (r *Radio) DateTimeSent() bool { return r.dateTimeSent }

func (r *Radio) sendDateTime() error {
	for _, w := range []struct {
		name string
		cmd  civ.Command
		data civ.Data
	}{
		{"utc offset", civ.CmdUTCOffset, r.offset},
		{"time", civ.CmdTime, r.tod},
		{"date", civ.CmdDate, r.date},
	} {
		res := r.bus.Write(r.addr, w.cmd, w.data, civ.WriteChecked)
		if res.Status != civ.StatusOK {
			return fmt.Errorf("radio %s: set %s: %s", r.model, w.name, res.Status)
		}
	}
	r.dateTimeSent = true
	r.logger.Info("date and time sent", "time", r.tod.String(), "date", r.date.String(), "utc_offset", r.offset.String())
	return nil
}

// Snapshot is a copy of the controller state for hosts and outer surfaces.
type Snapshot struct {
	Model          civ.Model   `json:"model"`
	Address        civ.Address `json:"address"`
	Power          PowerState  `json:"power"`
	Mode           civ.Mode    `json:"mode"`
	Frequency      uint64      `json:"frequency"`
	Modulation     Modulation  `json:"modulation"`
	Filter         Filter      `json:"filter"`
	SequenceActive bool        `json:"sequence_active"`
	DateTimeSent   bool        `json:"date_time_sent"`
}

func (r *Radio) Snapshot() Snapshot {
	return Snapshot{
		Model:          r.model,
		Address:        r.addr,
		Power:          r.power,
		Mode:           r.mode,
		Frequency:      r.frequency,
		Modulation:     r.modulation,
		Filter:         r.filter,
		SequenceActive: r.seq != nil,
		DateTimeSent:   r.dateTimeSent,
	}
}
