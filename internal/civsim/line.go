// Package civsim simulates a CI-V line in memory: transmitted bytes are
// echoed like on the real open-collector bus and complete frames are answered
// by simulated radios. It implements civ.Transport.
package civsim

import (
	"fmt"
	"log/slog"
	"sync"

	"civ-go-home/internal/civ"
)

// Line is an in-memory CI-V bus.
type Line struct {
	mu     sync.Mutex
	rx     []byte
	unsent []byte
	asm    []byte
	radios map[civ.Address]*Radio
	logger *slog.Logger

	echo    bool
	corrupt int

	frames    int
	bytesRead int
}

// NewLine creates an echoing line with the given radios attached.
func NewLine(logger *slog.Logger, radios ...*Radio) *Line {
	l := &Line{
		radios: make(map[civ.Address]*Radio),
		logger: logger.With("component", "civsim"),
		echo:   true,
	}
	for _, r := range radios {
		l.Attach(r)
	}
	return l
}

// Attach connects a simulated radio, replacing any radio on the same address.
func (l *Line) Attach(r *Radio) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.radios[r.Addr] = r
}

// Detach disconnects the radio on addr.
func (l *Line) Detach(addr civ.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.radios, addr)
}

// SetEcho switches the loop-back of transmitted bytes. Without echo a checked
// write sees a hardware fault unless the bus was told not to expect one.
func (l *Line) SetEcho(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.echo = on
}

// Corrupt garbles the echo of the next n transmissions, as a collision
// with another bus member would.
func (l *Line) Corrupt(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.corrupt = n
}

// Inject queues raw bytes for the master, e.g. traffic from a foreign device.
func (l *Line) Inject(b ...byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rx = append(l.rx, b...)
}

// Frames returns the number of frames the master transmitted.
func (l *Line) Frames() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}

// BytesRead returns the number of bytes the master consumed.
func (l *Line) BytesRead() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytesRead
}

func (l *Line) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rx)
}

func (l *Line) ReadByte() (byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.rx) == 0 {
		return 0, fmt.Errorf("civsim: read on empty line")
	}
	c := l.rx[0]
	l.rx = l.rx[1:]
	l.bytesRead++
	return c, nil
}

func (l *Line) WriteByte(c byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unsent = append(l.unsent, c)
	return nil
}

// Flush puts the written bytes on the line. Each radio sees them after the
// echo, so replies always follow the echo in the receive queue.
func (l *Line) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.unsent
	l.unsent = nil
	if len(out) == 0 {
		return nil
	}

	if l.echo {
		e := append([]byte(nil), out...)
		if l.corrupt > 0 {
			l.corrupt--
			e[len(e)/2] ^= 0x55
		}
		l.rx = append(l.rx, e...)
	}

	for _, c := range out {
		l.asm = append(l.asm, c)
		if c == civ.ByteStop {
			l.dispatch(l.asm)
			l.asm = l.asm[:0]
		}
	}
	return nil
}

// Close implements io.Closer for symmetry with the serial transports.
func (l *Line) Close() error { return nil }

// dispatch hands a complete frame, START run included, to the addressed radio.
func (l *Line) dispatch(raw []byte) {
	i := 0
	for i < len(raw) && raw[i] == civ.ByteStart {
		i++
	}
	if i < 2 || len(raw)-i < 4 {
		l.logger.Debug("civsim malformed frame", "frame", fmt.Sprintf("%X", raw))
		return
	}
	l.frames++
	dst, src := civ.Address(raw[i]), civ.Address(raw[i+1])
	body := raw[i+2 : len(raw)-1]
	cmd, data, err := civ.SplitBody(body)
	if err != nil {
		l.logger.Debug("civsim bad body", "frame", fmt.Sprintf("%X", raw), "err", err)
		return
	}

	r, ok := l.radios[dst]
	if !ok {
		return
	}
	reply := r.handle(cmd, data)
	if reply == nil {
		return
	}
	frame := append([]byte{civ.ByteStart, civ.ByteStart, byte(src), byte(dst)}, reply...)
	l.rx = append(l.rx, append(frame, civ.ByteStop)...)
}

// Transceive makes the radio on addr report a new frequency to every bus
// member, as radios with CI-V transceive enabled do when the dial turns.
func (l *Line) Transceive(addr civ.Address, hz uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.radios[addr]
	if !ok {
		return fmt.Errorf("civsim: no radio at %s", addr)
	}
	bcd, err := civ.EncodeBCDLittleEndian(hz, 5)
	if err != nil {
		return fmt.Errorf("civsim: transceive: %w", err)
	}
	r.mu.Lock()
	r.frequency = hz
	r.mu.Unlock()
	frame := []byte{civ.ByteStart, civ.ByteStart, byte(civ.AddrAll), byte(addr), civ.CmdFreqSend.Opcode()}
	frame = append(frame, bcd...)
	l.rx = append(l.rx, append(frame, civ.ByteStop)...)
	return nil
}
