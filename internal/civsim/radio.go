package civsim

import (
	"sync"

	"civ-go-home/internal/civ"
)

// Request is a frame received by a simulated radio.
type Request struct {
	Cmd  civ.Command
	Data civ.Data
}

// Radio answers frames addressed to it the way a real transceiver does for
// the supported command subset.
type Radio struct {
	Model civ.Model
	Addr  civ.Address

	// NAKWhenOff answers every frame with NOK while powered off (IC-9700);
	// other models stay silent.
	NAKWhenOff bool
	// BootFrames is the number of frames a booting radio ignores after the
	// power-on command before it answers again.
	BootFrames int

	mu         sync.Mutex
	on         bool
	booting    int
	silent     bool
	frequency  uint64
	modulation byte
	filter     byte
	dataMode   bool
	reject     map[civ.Command]bool
	received   []Request

	tod, date, offset civ.Data
}

// NewRadio creates a powered-on radio at the model's default settings on
// 14.074 MHz USB FIL1.
func NewRadio(model civ.Model, addr civ.Address) *Radio {
	return &Radio{
		Model:      model,
		Addr:       addr,
		NAKWhenOff: model == civ.ModelIC9700,
		on:         true,
		frequency:  14074000,
		modulation: 0x01,
		filter:     0x01,
		reject:     make(map[civ.Command]bool),
	}
}

// SetPower switches the radio without a bus command.
func (r *Radio) SetPower(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.on = on
	r.booting = 0
}

// On reports whether the radio is powered and booted.
func (r *Radio) On() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on && r.booting == 0
}

// SetSilent makes the radio ignore the bus entirely (cable pulled).
func (r *Radio) SetSilent(silent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.silent = silent
}

// Reject makes the radio answer cmd with NOK.
func (r *Radio) Reject(cmd civ.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reject[cmd] = true
}

// Received returns the frames addressed to the radio, oldest first.
func (r *Radio) Received() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.received...)
}

// Frequency returns the operating frequency in Hz.
func (r *Radio) Frequency() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frequency
}

// DataMode reports whether the last mode command selected a data mode.
func (r *Radio) DataMode() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dataMode
}

// Clock returns the last UTC offset, time and date groups set over the bus.
func (r *Radio) Clock() (tod, date, offset civ.Data) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tod, r.date, r.offset
}

var (
	replyOK  = []byte{civ.ByteOK}
	replyNOK = []byte{civ.ByteNOK}
)

// handle returns the reply body for one frame, or nil for no reply.
func (r *Radio) handle(cmd civ.Command, data civ.Data) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, Request{Cmd: cmd, Data: data})

	if r.silent {
		return nil
	}
	if r.booting > 0 {
		r.booting--
		return nil
	}
	if !r.on {
		if cmd == civ.CmdPower && data == civ.DataOn {
			r.on = true
			r.booting = r.BootFrames
			return replyOK
		}
		if r.NAKWhenOff {
			return replyNOK
		}
		return nil
	}
	if r.reject[cmd] {
		return replyNOK
	}

	switch {
	case cmd == civ.CmdTransceiverID:
		return append(cmd.Bytes(), byte(r.Addr))

	case cmd == civ.CmdFreqRead:
		bcd, _ := civ.EncodeBCDLittleEndian(r.frequency, 5)
		return append(cmd.Bytes(), bcd...)

	case cmd == civ.CmdModeRead:
		return append(cmd.Bytes(), r.modulation, r.filter)

	case cmd == civ.CmdPower:
		if data == civ.DataOff {
			r.on = false
		}
		return replyOK

	case cmd == civ.CmdTime:
		r.tod = data
	case cmd == civ.CmdDate:
		r.date = data
	case cmd == civ.CmdUTCOffset:
		r.offset = data

	case cmd.Opcode() == 0x05 && data.Len() == 5:
		r.frequency = civ.DecodeBCDLittleEndian(data.Bytes())

	case cmd.Opcode() == 0x06 && data.Len() >= 1:
		r.modulation = data.At(0)
		if data.Len() > 1 {
			r.filter = data.At(1)
		}

	case cmd.Opcode() == 0x26 && data.Len() == 4:
		// selected/unselected VFO, mode, data flag, filter
		r.modulation = data.At(1)
		r.dataMode = data.At(2) == 0x01
		r.filter = data.At(3)
	}
	return replyOK
}
