package civ

import (
	"fmt"
	"strings"
)

// Size limits of the command and data sections of a frame.
const (
	MaxCommandLen = 4
	MaxDataLen    = 9
)

// Command is a command body: an opcode optionally followed by subcodes.
// Valid lengths are 1, 2 and 4; the zero value is an empty command.
type Command struct {
	b [MaxCommandLen]byte
	n uint8
}

// NewCommand builds a command body of 1, 2 or 4 bytes.
func NewCommand(b ...byte) (Command, error) {
	switch len(b) {
	case 1, 2, 4:
	default:
		return Command{}, fmt.Errorf("civ: command length %d, want 1, 2 or 4", len(b))
	}
	var c Command
	c.n = uint8(copy(c.b[:], b))
	return c, nil
}

// MustCommand is NewCommand for static tables; it panics on a bad length.
func MustCommand(b ...byte) Command {
	c, err := NewCommand(b...)
	if err != nil {
		panic(err)
	}
	return c
}

// Len returns the number of bytes in the command.
func (c Command) Len() int { return int(c.n) }

// Bytes returns a copy of the command bytes.
func (c Command) Bytes() []byte {
	out := make([]byte, c.n)
	copy(out, c.b[:c.n])
	return out
}

// Opcode returns the first byte, or 0 for an empty command.
func (c Command) Opcode() byte { return c.b[0] }

// Sub returns the i-th subcode (1-based), or 0 if absent.
func (c Command) Sub(i int) byte {
	if i < 1 || i >= int(c.n) {
		return 0
	}
	return c.b[i]
}

func (c Command) String() string { return hexDots(c.b[:c.n]) }

// Data is the payload following the command body, at most MaxDataLen bytes.
type Data struct {
	b [MaxDataLen]byte
	n uint8
}

// NewData builds a data field of up to MaxDataLen bytes.
func NewData(b ...byte) (Data, error) {
	if len(b) > MaxDataLen {
		return Data{}, fmt.Errorf("civ: data length %d exceeds %d", len(b), MaxDataLen)
	}
	var d Data
	d.n = uint8(copy(d.b[:], b))
	return d, nil
}

// MustData is NewData for static tables; it panics when too long.
func MustData(b ...byte) Data {
	d, err := NewData(b...)
	if err != nil {
		panic(err)
	}
	return d
}

// Len returns the number of data bytes.
func (d Data) Len() int { return int(d.n) }

// Empty reports whether the field carries no bytes.
func (d Data) Empty() bool { return d.n == 0 }

// At returns byte i, or 0 when out of range.
func (d Data) At(i int) byte {
	if i < 0 || i >= int(d.n) {
		return 0
	}
	return d.b[i]
}

// Bytes returns a copy of the data bytes.
func (d Data) Bytes() []byte {
	out := make([]byte, d.n)
	copy(out, d.b[:d.n])
	return out
}

func (d Data) String() string { return hexDots(d.b[:d.n]) }

// compound lists the opcodes whose command body carries one subcode.
var compound = [...]byte{0x07, 0x0E, 0x13, 0x14, 0x15, 0x16, 0x19, 0x1A, 0x1B, 0x1C, 0x1E, 0x21, 0x27}

// CommandLength resolves the length of a command body from its first two
// bytes. 0x1A 0x05 is the only 4-byte command in use.
func CommandLength(first, second byte) int {
	if first == 0x1A && second == 0x05 {
		return 4
	}
	for _, op := range compound {
		if first == op {
			return 2
		}
	}
	return 1
}

// SplitBody splits the bytes following the address header into command and
// data using CommandLength.
func SplitBody(body []byte) (Command, Data, error) {
	if len(body) == 0 {
		return Command{}, Data{}, fmt.Errorf("civ: empty body")
	}
	var second byte
	if len(body) > 1 {
		second = body[1]
	}
	n := CommandLength(body[0], second)
	if len(body) < n {
		return Command{}, Data{}, fmt.Errorf("civ: body % X shorter than %d-byte command", body, n)
	}
	cmd, err := NewCommand(body[:n]...)
	if err != nil {
		return Command{}, Data{}, err
	}
	data, err := NewData(body[n:]...)
	if err != nil {
		return Command{}, Data{}, err
	}
	return cmd, data, nil
}

func hexDots(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte('.')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}
