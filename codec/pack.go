// Package codec packs and unpacks the CIP scalar wire types in little-endian
// order, independent of host endianness.
package codec

import (
	"fmt"
	"math"
)

// PackU8 appends a single byte.
func PackU8(buf []byte, v uint8) []byte {
	return append(buf, v)
}

// PackU16 appends a little-endian u16.
func PackU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

// PackU32 appends a little-endian u32.
func PackU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// PackF32 appends a little-endian IEEE-754 single-precision float,
// preserving its exact bit pattern.
func PackF32(buf []byte, v float32) []byte {
	return PackU32(buf, math.Float32bits(v))
}

// UnpackU8 reads one byte at offset 0 of b.
func UnpackU8(b []byte) (uint8, error) {
	if len(b) < 1 {
		return 0, fmt.Errorf("codec: UnpackU8: need 1 byte, have %d", len(b))
	}
	return b[0], nil
}

// UnpackU16 reads a little-endian u16 at offset 0 of b.
func UnpackU16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("codec: UnpackU16: need 2 bytes, have %d", len(b))
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

// UnpackU32 reads a little-endian u32 at offset 0 of b.
func UnpackU32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("codec: UnpackU32: need 4 bytes, have %d", len(b))
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// UnpackF32 reads a little-endian IEEE-754 single-precision float at offset 0 of b.
func UnpackF32(b []byte) (float32, error) {
	u, err := UnpackU32(b)
	if err != nil {
		return 0, fmt.Errorf("codec: UnpackF32: %w", err)
	}
	return math.Float32frombits(u), nil
}

// Width returns the byte width of a format character, or 0 if unknown.
func Width(c byte) int {
	switch c {
	case 's', 'S':
		return 1
	case 'i', 'I':
		return 2
	case 'd', 'D':
		return 4
	case 'r', 'R':
		return 4
	default:
		return 0
	}
}

// Unpack walks b according to a format descriptor of single characters:
// lowercase 's|i|d|r' stores the field (u8/u16/u32/f32 respectively) into
// the next element of out, in order; uppercase 'S|I|D|R' skips a field of
// the same width without storing it. An unknown format character is an
// error. out must have exactly as many elements as there are lowercase
// (storing) characters in format.
func Unpack(format string, b []byte, out ...*uint32) error {
	oi := 0
	off := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		w := Width(c)
		if w == 0 {
			return fmt.Errorf("codec: Unpack: unknown format character %q", c)
		}
		if off+w > len(b) {
			return fmt.Errorf("codec: Unpack: format %q needs %d bytes at offset %d, have %d", format, w, off, len(b))
		}
		switch c {
		case 's', 'i', 'd', 'r':
			if oi >= len(out) {
				return fmt.Errorf("codec: Unpack: format %q has more storing fields than out slots", format)
			}
			var v uint32
			switch w {
			case 1:
				v = uint32(b[off])
			case 2:
				v = uint32(b[off]) | uint32(b[off+1])<<8
			case 4:
				v = uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
			}
			*out[oi] = v
			oi++
		}
		off += w
	}
	if oi != len(out) {
		return fmt.Errorf("codec: Unpack: format %q has %d storing fields, out has %d slots", format, oi, len(out))
	}
	return nil
}
