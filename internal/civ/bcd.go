package civ

import (
	"fmt"
	"time"
)

// DecodeValue extracts the numeric value carried by a data field: one byte is
// taken as is, two bytes are packed decimal with the most significant byte
// first, five bytes are packed decimal with the least significant byte first
// (ICOM frequency layout). Any other length yields 0.
func DecodeValue(d Data) uint64 {
	b := d.b[:d.n]
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return DecodeBCDBigEndian(b)
	case 5:
		return DecodeBCDLittleEndian(b)
	}
	return 0
}

// DecodeBCDBigEndian decodes packed decimal, most significant byte first.
func DecodeBCDBigEndian(b []byte) uint64 {
	var v, mul uint64 = 0, 1
	for i := len(b) - 1; i >= 0; i-- {
		v += uint64(b[i]&0x0F) * mul
		mul *= 10
		v += uint64(b[i]>>4) * mul
		mul *= 10
	}
	return v
}

// DecodeBCDLittleEndian decodes packed decimal, least significant byte first.
func DecodeBCDLittleEndian(b []byte) uint64 {
	var v, mul uint64 = 0, 1
	for _, x := range b {
		v += uint64(x&0x0F) * mul
		mul *= 10
		v += uint64(x>>4) * mul
		mul *= 10
	}
	return v
}

// EncodeBCDLittleEndian packs v into n bytes, least significant byte first.
func EncodeBCDLittleEndian(v uint64, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		lo := v % 10
		v /= 10
		hi := v % 10
		v /= 10
		out[i] = byte(hi<<4 | lo)
	}
	if v != 0 {
		return nil, fmt.Errorf("civ: value does not fit %d BCD bytes", n)
	}
	return out, nil
}

// EncodeBCDBigEndian packs v into n bytes, most significant byte first.
func EncodeBCDBigEndian(v uint64, n int) ([]byte, error) {
	out, err := EncodeBCDLittleEndian(v, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ValidBCD reports whether every nibble of b is a decimal digit.
func ValidBCD(b []byte) bool {
	for _, x := range b {
		if x&0x0F > 9 || x>>4 > 9 {
			return false
		}
	}
	return true
}

// EncodeTimeOfDay returns the 2-byte HH MM group for the set-time command.
func EncodeTimeOfDay(t time.Time) Data {
	return MustData(bcdByte(t.Hour()), bcdByte(t.Minute()))
}

// EncodeDate returns the 4-byte YYYY MM DD group for the set-date command.
func EncodeDate(t time.Time) Data {
	y := t.Year()
	return MustData(bcdByte(y/100), bcdByte(y%100), bcdByte(int(t.Month())), bcdByte(t.Day()))
}

// EncodeUTCOffset returns the 3-byte HH MM sign group for the UTC offset
// command. The sign byte is 0x00 for east of UTC and 0x01 for west.
func EncodeUTCOffset(offset time.Duration) Data {
	var sign byte
	if offset < 0 {
		sign = 0x01
		offset = -offset
	}
	mins := int(offset / time.Minute)
	return MustData(bcdByte(mins/60%100), bcdByte(mins%60), sign)
}

func bcdByte(v int) byte {
	return byte((v/10%10)<<4 | v%10)
}
