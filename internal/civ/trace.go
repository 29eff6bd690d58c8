package civ

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// TraceLabel tags the direction and stage of a traced frame.
type TraceLabel string

const (
	TraceRX       TraceLabel = "RX"   // frame received
	TraceBusy     TraceLabel = "CHK"  // write refused, line busy
	TraceShorted  TraceLabel = "TX_S" // echo never completed, bus shorted or dead
	TraceConflict TraceLabel = "TX_C" // echo differed from the sent bytes
	TraceSent     TraceLabel = "TXok" // frame sent
)

// Trace defaults.
const (
	DefaultTraceEntries  = 40
	DefaultTraceFrameLen = 25
)

// TraceEntry is one recorded frame.
type TraceEntry struct {
	Time   time.Time  `json:"time"`
	Label  TraceLabel `json:"label"`
	Status Status     `json:"status"`
	Frame  []byte     `json:"-"`
}

type traceEntryJSON struct {
	Time   time.Time  `json:"time"`
	Label  TraceLabel `json:"label"`
	Status Status     `json:"status"`
	Frame  string     `json:"frame"`
}

// MarshalJSON encodes the frame as an upper-case hex string.
func (e TraceEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(traceEntryJSON{
		Time:   e.Time,
		Label:  e.Label,
		Status: e.Status,
		Frame:  fmt.Sprintf("%X", e.Frame),
	})
}

func (e *TraceEntry) UnmarshalJSON(b []byte) error {
	var v traceEntryJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	frame, err := hex.DecodeString(v.Frame)
	if err != nil {
		return fmt.Errorf("civ: trace frame: %w", err)
	}
	*e = TraceEntry{Time: v.Time, Label: v.Label, Status: v.Status, Frame: frame}
	return nil
}

// String renders the entry as ".FE.FE.E0.94.FB.FD : RX * OK".
func (e TraceEntry) String() string {
	var sb strings.Builder
	for _, c := range e.Frame {
		fmt.Fprintf(&sb, ".%02X", c)
	}
	fmt.Fprintf(&sb, " : %s * %s", e.Label, e.Status)
	return sb.String()
}

// Trace is a bounded ring of recent bus frames. The oldest entry is
// overwritten when full. Safe for concurrent use.
type Trace struct {
	mu       sync.Mutex
	entries  []TraceEntry
	next     int
	full     bool
	frameLen int
	now      func() time.Time
}

// NewTrace creates a trace holding up to size entries of at most frameLen
// bytes each. Non-positive arguments take the defaults.
func NewTrace(size, frameLen int) *Trace {
	if size <= 0 {
		size = DefaultTraceEntries
	}
	if frameLen <= 0 {
		frameLen = DefaultTraceFrameLen
	}
	return &Trace{
		entries:  make([]TraceEntry, size),
		frameLen: frameLen,
		now:      time.Now,
	}
}

// Add records a frame, truncated to the configured length.
func (t *Trace) Add(label TraceLabel, st Status, frame []byte) {
	n := len(frame)
	if n > t.frameLen {
		n = t.frameLen
	}
	f := make([]byte, n)
	copy(f, frame)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[t.next] = TraceEntry{Time: t.now(), Label: label, Status: st, Frame: f}
	t.next++
	if t.next == len(t.entries) {
		t.next = 0
		t.full = true
	}
}

// Clear drops all entries.
func (t *Trace) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		t.entries[i] = TraceEntry{}
	}
	t.next = 0
	t.full = false
}

// Len returns the number of recorded entries.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.full {
		return len(t.entries)
	}
	return t.next
}

// Entries returns a copy of the recorded entries, oldest first.
func (t *Trace) Entries() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]TraceEntry(nil), t.entries[:t.next]...)
	}
	out := make([]TraceEntry, 0, len(t.entries))
	out = append(out, t.entries[t.next:]...)
	return append(out, t.entries[:t.next]...)
}

// WriteTo writes one line per entry, oldest first.
func (t *Trace) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, e := range t.Entries() {
		n, err := fmt.Fprintln(w, e.String())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
