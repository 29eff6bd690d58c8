package civ

// rxBufferSize bounds a frame under collection; longer input is discarded.
const rxBufferSize = 256

type rxState uint8

const (
	rxIdle rxState = iota
	rxSync
	rxCollect
	rxStop
)

func (s rxState) String() string {
	switch s {
	case rxIdle:
		return "idle"
	case rxSync:
		return "sync"
	case rxCollect:
		return "collect"
	default:
		return "stop"
	}
}

// receiver assembles one inbound frame byte by byte.
type receiver struct {
	state rxState
	buf   [rxBufferSize]byte
	n     int
}

func (r *receiver) reset() {
	r.state = rxIdle
	r.n = 0
}

// frame returns the collected frame once the receiver reached rxStop.
func (r *receiver) frame() []byte { return r.buf[:r.n] }

// feed advances the state machine by one byte.
func (r *receiver) feed(b byte) rxState {
	switch r.state {
	case rxIdle:
		if b == ByteStart {
			r.buf[0] = b
			r.n = 1
			r.state = rxSync
		} else {
			r.n = 0
		}

	case rxSync:
		if b == ByteStart {
			r.buf[1] = b
			r.n = 2
			r.state = rxCollect
		} else {
			r.reset()
		}

	case rxCollect:
		if r.n == len(r.buf) {
			r.reset()
			break
		}
		r.buf[r.n] = b
		r.n++
		// The destination must be us or broadcast; this also drops the echo
		// of our own frames. A START inside a frame means we lost sync.
		if (r.n == 3 && Address(b) != AddrAll && Address(b) != AddrMaster) || b == ByteStart {
			r.reset()
			break
		}
		if b == ByteStop {
			r.state = rxStop
		}
	}
	return r.state
}
