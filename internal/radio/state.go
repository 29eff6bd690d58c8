package radio

import (
	"fmt"
	"strings"
)

// PowerState is what the controller knows about the radio's DC power.
type PowerState uint8

const (
	StateOff              PowerState = iota
	StateOn                          // answers the ID query
	StateOffTransitioning            // booting after a power-on command
	StateOnTransitioning             // shutting down after a power-off command
	StateUnknown                     // not determined yet
)

var powerStateNames = [...]string{
	StateOff:              "off",
	StateOn:               "on",
	StateOffTransitioning: "off_transitioning",
	StateOnTransitioning:  "on_transitioning",
	StateUnknown:          "unknown",
}

func (s PowerState) String() string {
	if int(s) < len(powerStateNames) {
		return powerStateNames[s]
	}
	return fmt.Sprintf("PowerState(%d)", uint8(s))
}

func (s PowerState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// PowerRequest is the argument of SetPowerState.
type PowerRequest uint8

const (
	PowerOn PowerRequest = iota
	PowerOff
	PowerToggle // off when on or shutting down, on otherwise
)

func (p PowerRequest) String() string {
	switch p {
	case PowerOn:
		return "on"
	case PowerOff:
		return "off"
	case PowerToggle:
		return "toggle"
	}
	return fmt.Sprintf("PowerRequest(%d)", uint8(p))
}

// ParsePowerRequest parses "on", "off" or "toggle".
func ParsePowerRequest(s string) (PowerRequest, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return PowerOn, nil
	case "off":
		return PowerOff, nil
	case "toggle":
		return PowerToggle, nil
	}
	return 0, fmt.Errorf("radio: unknown power request %q", s)
}

// Modulation follows ICOM's numbering of operating modes.
type Modulation uint8

const (
	ModLSB Modulation = iota
	ModUSB
	ModAM
	ModCW
	ModRTTY
	ModFM
	ModWFM
	ModCWR
	ModRTTYR
	ModDV
	ModUndefined
)

var modulationNames = [...]string{
	ModLSB:       "LSB",
	ModUSB:       "USB",
	ModAM:        "AM",
	ModCW:        "CW",
	ModRTTY:      "RTTY",
	ModFM:        "FM",
	ModWFM:       "WFM",
	ModCWR:       "CW-R",
	ModRTTYR:     "RTTY-R",
	ModDV:        "DV",
	ModUndefined: "undefined",
}

func (m Modulation) String() string {
	if int(m) < len(modulationNames) {
		return modulationNames[m]
	}
	return modulationNames[ModUndefined]
}

func (m Modulation) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// dvCode is the mode byte of digital voice, coded in BCD unlike the others.
const dvCode = 0x17

func decodeModulation(b byte) Modulation {
	switch {
	case b == dvCode:
		return ModDV
	case b <= byte(ModRTTYR):
		return Modulation(b)
	}
	return ModUndefined
}

// Filter is the selected RX filter.
type Filter uint8

const (
	FilterUndefined Filter = iota
	Filter1
	Filter2
	Filter3
)

func (f Filter) String() string {
	if f >= Filter1 && f <= Filter3 {
		return fmt.Sprintf("FIL%d", uint8(f))
	}
	return "undefined"
}

func (f Filter) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func decodeFilter(b byte) Filter {
	if b >= byte(Filter1) && b <= byte(Filter3) {
		return Filter(b)
	}
	return FilterUndefined
}
