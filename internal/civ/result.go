package civ

import "fmt"

// Status classifies the outcome of a bus exchange.
type Status uint8

const (
	StatusOK            Status = iota // radio acknowledged (FB)
	StatusOKWithData                  // radio sent a command with data
	StatusNotOK                       // radio rejected the command (FA)
	StatusNoMessage                   // nothing (complete) received
	StatusBusBusy                     // unread bytes pending, write refused
	StatusBusConflict                 // echo differs from what was sent
	StatusHardwareFault               // echo never completed
)

var statusNames = [...]string{
	StatusOK:            "OK",
	StatusOKWithData:    "OK_WITH_DATA",
	StatusNotOK:         "NOT_OK",
	StatusNoMessage:     "NO_MESSAGE",
	StatusBusBusy:       "BUS_BUSY",
	StatusBusConflict:   "BUS_CONFLICT",
	StatusHardwareFault: "HARDWARE_FAULT",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("civ: unknown status %q", b)
}

// IsMessage reports whether the status stems from a frame sent by a radio.
func (s Status) IsMessage() bool {
	return s == StatusOK || s == StatusOKWithData || s == StatusNotOK
}

// Failed reports whether the status is a local bus or hardware failure.
func (s Status) Failed() bool {
	return s == StatusBusBusy || s == StatusBusConflict || s == StatusHardwareFault
}

// Result is returned by every bus read and write.
type Result struct {
	Status  Status
	Source  Address
	Command Command
	Data    Data
	Value   uint64
}

func noMessage() Result {
	return Result{Status: StatusNoMessage, Source: AddrNone}
}

func (r Result) String() string {
	switch r.Status {
	case StatusOKWithData:
		return fmt.Sprintf("%s from %s cmd=%s data=%s value=%d", r.Status, r.Source, r.Command, r.Data, r.Value)
	case StatusOK, StatusNotOK:
		return fmt.Sprintf("%s from %s", r.Status, r.Source)
	}
	return r.Status.String()
}
