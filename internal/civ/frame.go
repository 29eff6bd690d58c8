package civ

// Frame layout: FE FE <dst> <src> <cmd 1|2|4> <data 0..9> FD
const frameHeaderLen = 4 // two START bytes, destination, source

// EncodeFrame builds the wire frame for a command sent from src to dst.
func EncodeFrame(dst, src Address, cmd Command, data Data) []byte {
	f := make([]byte, 0, frameHeaderLen+cmd.Len()+data.Len()+1)
	f = append(f, ByteStart, ByteStart, byte(dst), byte(src))
	f = append(f, cmd.b[:cmd.n]...)
	f = append(f, data.b[:data.n]...)
	return append(f, ByteStop)
}

// DecodeFrame classifies a complete frame, both START bytes through STOP.
//
// A frame whose body is shorter than its resolved command is reported as
// StatusNotOK, as is a frame with no body at all. A command without data is
// StatusOK with the command filled in. A data section longer than MaxDataLen
// cannot be represented and yields StatusNoMessage.
func DecodeFrame(f []byte) Result {
	if len(f) < frameHeaderLen+1 {
		return Result{Status: StatusNotOK, Source: AddrNone}
	}
	r := Result{Source: Address(f[3])}
	body := f[frameHeaderLen : len(f)-1]
	if len(body) == 0 {
		r.Status = StatusNotOK
		return r
	}

	switch body[0] {
	case ByteNOK:
		r.Status = StatusNotOK
		r.Command = CmdNOK
		return r
	case ByteOK:
		r.Status = StatusOK
		r.Command = CmdOK
		return r
	}

	var second byte
	if len(body) > 1 {
		second = body[1]
	}
	n := CommandLength(body[0], second)
	if len(body) < n {
		r.Status = StatusNotOK
		return r
	}
	if len(body)-n > MaxDataLen {
		return noMessage()
	}

	r.Command.n = uint8(copy(r.Command.b[:], body[:n]))
	r.Data.n = uint8(copy(r.Data.b[:], body[n:]))
	if r.Data.Empty() {
		r.Status = StatusOK
		return r
	}
	r.Status = StatusOKWithData
	r.Value = DecodeValue(r.Data)
	return r
}
