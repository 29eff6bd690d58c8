package civ

import (
	"bytes"
	"testing"
)

func TestEncodeFrame(t *testing.T) {
	got := EncodeFrame(AddrIC7300, AddrMaster, CmdTransceiverID, DataNone)
	want := []byte{0xFE, 0xFE, 0x94, 0xE0, 0x19, 0x00, 0xFD}
	if !bytes.Equal(got, want) {
		t.Errorf("got %X, want %X", got, want)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		data Data
	}{
		{"one byte command", MustCommand(0x06), MustData(0x01, 0x01)},
		{"two byte command", CmdRFPower, MustData(0x02, 0x55)},
		{"four byte command", CmdUTCOffset, MustData(0x01, 0x00, 0x00)},
		{"frequency", CmdFreqSend, MustData(0x00, 0x40, 0x07, 0x14, 0x00)},
		{"max data", MustCommand(0x06), MustData(1, 2, 3, 4, 5, 6, 7, 8, 9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Replies travel radio to master.
			f := EncodeFrame(AddrMaster, AddrIC7300, tt.cmd, tt.data)
			r := DecodeFrame(f)
			if r.Status != StatusOKWithData {
				t.Fatalf("status: got %s, want OK_WITH_DATA", r.Status)
			}
			if r.Source != AddrIC7300 {
				t.Errorf("source: got %s, want 0x94", r.Source)
			}
			if r.Command != tt.cmd {
				t.Errorf("command: got %s, want %s", r.Command, tt.cmd)
			}
			if r.Data != tt.data {
				t.Errorf("data: got %s, want %s", r.Data, tt.data)
			}
		})
	}
}

func TestDecodeOKAndNOK(t *testing.T) {
	ok := DecodeFrame([]byte{0xFE, 0xFE, 0xE0, 0x94, 0xFB, 0xFD})
	if ok.Status != StatusOK || ok.Source != 0x94 {
		t.Errorf("OK frame: got %s from %s", ok.Status, ok.Source)
	}
	if !ok.Data.Empty() || ok.Value != 0 {
		t.Errorf("OK frame carries data %s value %d", ok.Data, ok.Value)
	}

	nok := DecodeFrame([]byte{0xFE, 0xFE, 0xE0, 0x94, 0xFA, 0xFD})
	if nok.Status != StatusNotOK || nok.Source != 0x94 {
		t.Errorf("NOK frame: got %s from %s", nok.Status, nok.Source)
	}
	if !nok.Data.Empty() || nok.Value != 0 {
		t.Errorf("NOK frame carries data %s value %d", nok.Data, nok.Value)
	}
}

func TestDecodeFrequencyFrame(t *testing.T) {
	r := DecodeFrame([]byte{0xFE, 0xFE, 0xE0, 0x94, 0x03, 0x00, 0x40, 0x07, 0x14, 0x00, 0xFD})
	if r.Status != StatusOKWithData {
		t.Fatalf("status: got %s", r.Status)
	}
	if r.Command != CmdFreqRead {
		t.Errorf("command: got %s, want 03", r.Command)
	}
	if r.Value != 14074000 {
		t.Errorf("value: got %d, want 14074000", r.Value)
	}
}

func TestDecodeEdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		frame  []byte
		status Status
		source Address
	}{
		{"too short", []byte{0xFE, 0xFE, 0xE0, 0xFD}, StatusNotOK, AddrNone},
		{"no body", []byte{0xFE, 0xFE, 0xE0, 0x94, 0xFD}, StatusNotOK, 0x94},
		{"truncated four byte command", []byte{0xFE, 0xFE, 0xE0, 0x94, 0x1A, 0x05, 0x00, 0xFD}, StatusNotOK, 0x94},
		{"command echo without data", []byte{0xFE, 0xFE, 0xE0, 0x94, 0x19, 0x00, 0xFD}, StatusOK, 0x94},
		{"data too long", []byte{0xFE, 0xFE, 0xE0, 0x94, 0x06, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 0xFD}, StatusNoMessage, AddrNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := DecodeFrame(tt.frame)
			if r.Status != tt.status {
				t.Errorf("status: got %s, want %s", r.Status, tt.status)
			}
			if r.Source != tt.source {
				t.Errorf("source: got %s, want %s", r.Source, tt.source)
			}
		})
	}
}

func TestCommandLength(t *testing.T) {
	tests := []struct {
		first, second byte
		want          int
	}{
		{0x03, 0x00, 1},
		{0x14, 0x0A, 2},
		{0x19, 0x00, 2},
		{0x1A, 0x05, 4},
		{0x1A, 0x00, 2},
		{0x26, 0x00, 1},
		{0x27, 0x10, 2},
	}
	for _, tt := range tests {
		if got := CommandLength(tt.first, tt.second); got != tt.want {
			t.Errorf("CommandLength(0x%02X, 0x%02X): got %d, want %d", tt.first, tt.second, got, tt.want)
		}
	}
}

func TestReceiverIgnoresNonFraming(t *testing.T) {
	var r receiver
	for v := 0; v < 256; v++ {
		if v == ByteStart || v == ByteStop {
			continue
		}
		if st := r.feed(byte(v)); st != rxIdle {
			t.Fatalf("byte 0x%02X moved receiver to %s", v, st)
		}
	}
}

func TestReceiverAbortsOnForeignDestination(t *testing.T) {
	var r receiver
	// Echo of our own query to 0x94 must never complete.
	for _, c := range []byte{0xFE, 0xFE, 0x94, 0xE0, 0x19, 0x00, 0xFD} {
		if r.feed(c) == rxStop {
			t.Fatal("frame to 0x94 accepted")
		}
	}
	// A STOP in the destination slot aborts rather than completes.
	r.reset()
	for _, c := range []byte{0xFE, 0xFE, 0xFD} {
		if r.feed(c) == rxStop {
			t.Fatal("STOP as destination accepted")
		}
	}
}

func TestReceiverResyncsOnStrayStart(t *testing.T) {
	var r receiver
	in := []byte{0xFE, 0xFE, 0xE0, 0x94, 0xFE, 0xE0, 0x94, 0xFB, 0xFD}
	var st rxState
	for _, c := range in {
		st = r.feed(c)
	}
	if st == rxStop {
		t.Fatalf("frame with stray START accepted: %X", r.frame())
	}

	// Restart with a clean frame after the abort.
	for _, c := range []byte{0xFE, 0xFE, 0xE0, 0x94, 0xFB, 0xFD} {
		st = r.feed(c)
	}
	if st != rxStop {
		t.Fatalf("clean frame not accepted, state %s", st)
	}
	if !bytes.Equal(r.frame(), []byte{0xFE, 0xFE, 0xE0, 0x94, 0xFB, 0xFD}) {
		t.Errorf("frame: got %X", r.frame())
	}
}

func TestReceiverDiscardsOverlongFrame(t *testing.T) {
	var r receiver
	r.feed(0xFE)
	r.feed(0xFE)
	r.feed(0xE0)
	for i := 0; i < rxBufferSize; i++ {
		r.feed(0x01)
	}
	if r.state != rxIdle {
		t.Errorf("state after overlong frame: got %s, want idle", r.state)
	}
}
