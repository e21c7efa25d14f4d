package codec

import (
	"math"
	"testing"
)

func TestPackUnpackU8(t *testing.T) {
	tests := []struct {
		v    uint8
		want []byte
	}{
		{0x00, []byte{0x00}},
		{0xFF, []byte{0xFF}},
		{0x42, []byte{0x42}},
	}
	for _, tt := range tests {
		got := PackU8(nil, tt.v)
		if string(got) != string(tt.want) {
			t.Errorf("PackU8(%v) = %v, want %v", tt.v, got, tt.want)
		}
		back, err := UnpackU8(got)
		if err != nil {
			t.Fatalf("UnpackU8: %v", err)
		}
		if back != tt.v {
			t.Errorf("UnpackU8(PackU8(%v)) = %v", tt.v, back)
		}
	}
}

func TestPackUnpackU16(t *testing.T) {
	tests := []struct {
		v    uint16
		want []byte
	}{
		{0x0000, []byte{0x00, 0x00}},
		{0xFFFF, []byte{0xFF, 0xFF}},
		{0x1234, []byte{0x34, 0x12}},
	}
	for _, tt := range tests {
		got := PackU16(nil, tt.v)
		if string(got) != string(tt.want) {
			t.Errorf("PackU16(%v) = % X, want % X", tt.v, got, tt.want)
		}
		back, err := UnpackU16(got)
		if err != nil {
			t.Fatalf("UnpackU16: %v", err)
		}
		if back != tt.v {
			t.Errorf("UnpackU16(PackU16(%v)) = %v", tt.v, back)
		}
	}
}

func TestPackUnpackU32(t *testing.T) {
	tests := []struct {
		v    uint32
		want []byte
	}{
		{0x00000000, []byte{0x00, 0x00, 0x00, 0x00}},
		{0xFFFFFFFF, []byte{0xFF, 0xFF, 0xFF, 0xFF}},
		{0x12345678, []byte{0x78, 0x56, 0x34, 0x12}},
	}
	for _, tt := range tests {
		got := PackU32(nil, tt.v)
		if string(got) != string(tt.want) {
			t.Errorf("PackU32(%v) = % X, want % X", tt.v, got, tt.want)
		}
		back, err := UnpackU32(got)
		if err != nil {
			t.Fatalf("UnpackU32: %v", err)
		}
		if back != tt.v {
			t.Errorf("UnpackU32(PackU32(%v)) = %v", tt.v, back)
		}
	}
}

func TestPackUnpackF32RoundTrip(t *testing.T) {
	values := []float32{0, 1, -1, 3.14159, float32(math.Inf(1)), float32(math.Inf(-1)), -0.0001}
	for _, v := range values {
		got := PackF32(nil, v)
		back, err := UnpackF32(got)
		if err != nil {
			t.Fatalf("UnpackF32: %v", err)
		}
		if back != v {
			t.Errorf("UnpackF32(PackF32(%v)) = %v", v, back)
		}
	}
}

func TestUnpackShortBuffer(t *testing.T) {
	if _, err := UnpackU16([]byte{0x01}); err == nil {
		t.Error("UnpackU16 on 1 byte: want error, got nil")
	}
	if _, err := UnpackU32([]byte{0x01, 0x02}); err == nil {
		t.Error("UnpackU32 on 2 bytes: want error, got nil")
	}
}

func TestUnpackFormatDescriptor(t *testing.T) {
	// i | S | d  => INT at 0, skip 1 byte, DINT at offset 3
	buf := []byte{0x34, 0x12, 0xAA, 0x78, 0x56, 0x34, 0x12}
	var a, b uint32
	if err := Unpack("iSd", buf, &a, &b); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if a != 0x1234 {
		t.Errorf("a = %#x, want 0x1234", a)
	}
	if b != 0x12345678 {
		t.Errorf("b = %#x, want 0x12345678", b)
	}
}

func TestUnpackUnknownFormatChar(t *testing.T) {
	var a uint32
	if err := Unpack("x", []byte{0x00}, &a); err == nil {
		t.Error("Unpack with unknown format char: want error, got nil")
	}
}

func TestUnpackTruncated(t *testing.T) {
	var a uint32
	if err := Unpack("d", []byte{0x01, 0x02}, &a); err == nil {
		t.Error("Unpack with truncated buffer: want error, got nil")
	}
}

func TestUnpackMismatchedOutCount(t *testing.T) {
	var a uint32
	if err := Unpack("ii", []byte{0x00, 0x00, 0x00, 0x00}, &a); err == nil {
		t.Error("Unpack with fewer out slots than storing fields: want error, got nil")
	}
}
