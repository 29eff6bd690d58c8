// Package civ implements the master side of ICOM's CI-V bus: framing, command
// catalog, packed-decimal decoding and the bus engine that multiplexes replies
// from several radios sharing one half-duplex line.
package civ

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a CI-V bus address.
type Address uint8

// Reserved addresses.
const (
	AddrAll    Address = 0x00 // broadcast ("transceive" address)
	AddrMaster Address = 0xE0 // this controller
	AddrNone   Address = 0xF9 // invalid on the bus, marks an empty slot
)

// Default addresses of the supported radios.
const (
	AddrIC7100 Address = 0x88
	AddrIC7300 Address = 0x94
	AddrIC9700 Address = 0xA2
	AddrIC705  Address = 0xA4
)

// Reserved reports whether a is one of the addresses a radio can never use.
func (a Address) Reserved() bool {
	return a == AddrAll || a == AddrMaster || a == AddrNone
}

func (a Address) String() string {
	return fmt.Sprintf("0x%02X", uint8(a))
}

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(b []byte) error {
	v, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ParseAddress parses "0x94", "94h", "94" (hex) or "d148" (decimal).
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	base := 16
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s = s[2:]
	case strings.HasSuffix(s, "h"), strings.HasSuffix(s, "H"):
		s = s[:len(s)-1]
	case strings.HasPrefix(s, "d"), strings.HasPrefix(s, "D"):
		s = s[1:]
		base = 10
	}
	v, err := strconv.ParseUint(s, base, 8)
	if err != nil {
		return AddrNone, fmt.Errorf("civ: parse address %q: %w", s, err)
	}
	return Address(v), nil
}
