package civ

import (
	"fmt"
	"log/slog"
	"time"
)

// Transport is a byte-level, half-duplex line. Buffered must report without
// blocking how many bytes can be read right away.
type Transport interface {
	Buffered() int
	ReadByte() (byte, error)
	WriteByte(b byte) error
	Flush() error
}

// WriteMode selects how Write treats the echo of the transmitted frame.
type WriteMode uint8

const (
	WriteFast    WriteMode = iota // send and return, echo left to the receiver
	WriteChecked                  // send and verify the echo
	WritePowerOn                  // wake-up preamble, send and verify the echo
)

func (m WriteMode) String() string {
	switch m {
	case WriteFast:
		return "fast"
	case WriteChecked:
		return "checked"
	case WritePowerOn:
		return "power-on"
	}
	return fmt.Sprintf("WriteMode(%d)", uint8(m))
}

// powerOnPreamble is the number of START bytes sent ahead of a power-on
// frame so a sleeping radio can lock onto the baud rate.
const powerOnPreamble = 40

// Options tunes a Bus. Zero fields take the defaults below.
type Options struct {
	ReadTimeout     time.Duration // default 40ms
	EchoTimeout     time.Duration // default 10ms
	PollInterval    time.Duration // default 50µs
	PendingCapacity int           // default 6
	KnownCapacity   int           // default 3

	// NoEcho is for lines that do not loop transmitted bytes back
	// (USB CI-V with echo back off, Bluetooth). Checked writes then skip
	// the read-back.
	NoEcho bool

	// Trace receives every frame sent or received, if set.
	Trace *Trace

	// Sleep waits between polls; tests replace it with a no-op.
	Sleep func(time.Duration)
}

func (o *Options) setDefaults() {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 40 * time.Millisecond
	}
	if o.EchoTimeout <= 0 {
		o.EchoTimeout = 10 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Microsecond
	}
	if o.PendingCapacity <= 0 {
		o.PendingCapacity = 6
	}
	if o.KnownCapacity <= 0 {
		o.KnownCapacity = 3
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
}

// Bus is the master end of one CI-V line. It is not safe for concurrent use;
// a single goroutine owns the bus and every radio on it.
type Bus struct {
	t      Transport
	opts   Options
	logger *slog.Logger

	rx        receiver
	readPolls int
	echoPolls int

	known   []Address
	pending []Result
}

// NewBus creates a bus engine over t.
func NewBus(t Transport, logger *slog.Logger, opts Options) *Bus {
	opts.setDefaults()
	b := &Bus{
		t:         t,
		opts:      opts,
		logger:    logger.With("component", "civ"),
		readPolls: pollCount(opts.ReadTimeout, opts.PollInterval),
		echoPolls: pollCount(opts.EchoTimeout, opts.PollInterval),
		known:     make([]Address, opts.KnownCapacity),
		pending:   make([]Result, 0, opts.PendingCapacity),
	}
	for i := range b.known {
		b.known[i] = AddrNone
	}
	return b
}

func pollCount(timeout, interval time.Duration) int {
	n := int(timeout / interval)
	if n < 1 {
		n = 1
	}
	return n
}

// Trace returns the diagnostic sink, or nil.
func (b *Bus) Trace() *Trace { return b.opts.Trace }

// RegisterAddress adds a to the known-address registry. It returns false when
// a is reserved or the registry is full. Registering a known address is a
// no-op that returns true.
func (b *Bus) RegisterAddress(a Address) bool {
	if a.Reserved() {
		return false
	}
	if b.IsAddressKnown(a) {
		return true
	}
	for i, k := range b.known {
		if k == AddrNone {
			b.known[i] = a
			return true
		}
	}
	b.logger.Warn("address registry full", "addr", a.String())
	return false
}

// UnregisterAddress frees the slot of a, if any, and drops the messages
// buffered for it. The remaining buffered messages keep their order.
func (b *Bus) UnregisterAddress(a Address) {
	if a == AddrNone {
		return
	}
	for i, k := range b.known {
		if k == a {
			b.known[i] = AddrNone
		}
	}
	kept := b.pending[:0]
	for _, r := range b.pending {
		if r.Source != a {
			kept = append(kept, r)
		}
	}
	if n := len(b.pending) - len(kept); n > 0 {
		b.logger.Debug("civ buffered messages dropped", "from", a.String(), "count", n)
	}
	clear(b.pending[len(kept):])
	b.pending = kept
}

// IsAddressKnown reports whether a occupies a registry slot.
func (b *Bus) IsAddressKnown(a Address) bool {
	if a.Reserved() {
		return false
	}
	for _, k := range b.known {
		if k == a {
			return true
		}
	}
	return false
}

// Pending returns the number of buffered messages awaiting their addressee.
func (b *Bus) Pending() int { return len(b.pending) }

// Read returns the next message sent by addr.
//
// A buffered message from addr is returned first without touching the
// transport. Otherwise, if the buffer has room, one raw message is read: it is
// returned when it comes from addr or is not a message at all, and buffered
// when it comes from another known radio. In every other case the result is
// StatusNoMessage.
func (b *Bus) Read(addr Address) Result {
	for i, r := range b.pending {
		if r.Source == addr {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return r
		}
	}
	if len(b.pending) >= b.opts.PendingCapacity {
		return noMessage()
	}

	r := b.ReadRaw()
	if !r.Status.IsMessage() || r.Source == addr {
		return r
	}
	b.buffer(r)
	return noMessage()
}

func (b *Bus) buffer(r Result) {
	if !b.IsAddressKnown(r.Source) || len(b.pending) >= b.opts.PendingCapacity {
		b.logger.Debug("civ message dropped", "from", r.Source.String(), "status", r.Status.String())
		return
	}
	b.pending = append(b.pending, r)
}

// ReadRaw returns the next complete frame addressed to us or broadcast,
// whichever radio sent it. It returns StatusNoMessage at once when the line is
// idle and after ReadTimeout when no frame completes.
func (b *Bus) ReadRaw() Result {
	if b.t.Buffered() == 0 {
		return noMessage()
	}
	b.rx.reset()
	for i := 0; i < b.readPolls; i++ {
		for n := b.t.Buffered(); n > 0; n-- {
			c, err := b.t.ReadByte()
			if err != nil {
				b.logger.Warn("civ read failed", "err", err)
				return Result{Status: StatusHardwareFault, Source: AddrNone}
			}
			if b.rx.feed(c) == rxStop {
				f := b.rx.frame()
				r := DecodeFrame(f)
				b.trace(TraceRX, r.Status, f)
				b.logger.Debug("civ rx", "frame", fmt.Sprintf("%X", f), "status", r.Status.String())
				b.rx.reset()
				return r
			}
		}
		b.opts.Sleep(b.opts.PollInterval)
	}
	b.rx.reset()
	return noMessage()
}

// Write sends cmd with data to addr.
//
// One pending raw message is drained into the buffer first. If bytes are
// still waiting on the line the bus is busy and nothing is sent. Checked and
// power-on writes then compare the echo against the transmitted bytes.
func (b *Bus) Write(addr Address, cmd Command, data Data, mode WriteMode) Result {
	if len(b.pending) < b.opts.PendingCapacity {
		if r := b.ReadRaw(); r.Status.IsMessage() {
			b.buffer(r)
		}
	}
	frame := EncodeFrame(addr, AddrMaster, cmd, data)
	if b.t.Buffered() > 0 {
		b.logger.Debug("civ bus busy", "to", addr.String(), "buffered", b.t.Buffered())
		b.trace(TraceBusy, StatusBusBusy, frame)
		return Result{Status: StatusBusBusy, Source: AddrNone}
	}

	var out []byte
	if mode == WritePowerOn {
		out = make([]byte, 0, powerOnPreamble+len(frame))
		for i := 0; i < powerOnPreamble; i++ {
			out = append(out, ByteStart)
		}
	}
	out = append(out, frame...)

	for _, c := range out {
		if err := b.t.WriteByte(c); err != nil {
			b.logger.Warn("civ write failed", "to", addr.String(), "err", err)
			return Result{Status: StatusHardwareFault, Source: AddrNone}
		}
	}
	if err := b.t.Flush(); err != nil {
		b.logger.Warn("civ flush failed", "to", addr.String(), "err", err)
		return Result{Status: StatusHardwareFault, Source: AddrNone}
	}
	b.logger.Debug("civ tx", "frame", fmt.Sprintf("%X", frame), "mode", mode.String())

	ok := Result{Status: StatusOK, Source: addr, Command: cmd, Data: data}
	if mode == WriteFast || b.opts.NoEcho {
		b.trace(TraceSent, StatusOK, frame)
		return ok
	}

	st, echo := b.checkEcho(out)
	if st != StatusOK {
		if st == StatusBusConflict {
			b.trace(TraceConflict, st, echo)
		} else {
			b.trace(TraceShorted, st, echo)
		}
		b.logger.Warn("civ echo check failed", "to", addr.String(), "status", st.String(),
			"sent", fmt.Sprintf("%X", frame), "echo", fmt.Sprintf("%X", echo))
		return Result{Status: st, Source: AddrNone}
	}
	b.trace(TraceSent, StatusOK, frame)
	return ok
}

// checkEcho reads back len(sent) bytes within EchoTimeout.
func (b *Bus) checkEcho(sent []byte) (Status, []byte) {
	echo := make([]byte, 0, len(sent))
	for i := 0; i < b.echoPolls; i++ {
		for b.t.Buffered() > 0 && len(echo) < len(sent) {
			c, err := b.t.ReadByte()
			if err != nil {
				return StatusHardwareFault, echo
			}
			echo = append(echo, c)
			if c != sent[len(echo)-1] {
				return StatusBusConflict, echo
			}
		}
		if len(echo) == len(sent) {
			return StatusOK, echo
		}
		b.opts.Sleep(b.opts.PollInterval)
	}
	return StatusHardwareFault, echo
}

func (b *Bus) trace(label TraceLabel, st Status, frame []byte) {
	if b.opts.Trace != nil {
		b.opts.Trace.Add(label, st, frame)
	}
}
