package tagpath

import (
	"reflect"
	"testing"
)

func TestParseS1(t *testing.T) {
	got, err := Parse("Fred.Barney[5].Wilma")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := ParsedTag{Segments: []Segment{
		{Kind: Name, Name: "Fred"},
		{Kind: Name, Name: "Barney"},
		{Kind: Index, Index: 5},
		{Kind: Name, Name: "Wilma"},
	}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Parse(Fred.Barney[5].Wilma) = %+v, want %+v", got, want)
	}
}

func TestEncodeS1(t *testing.T) {
	p, err := Parse("Fred.Barney[5].Wilma")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{
		0x91, 0x04, 'F', 'r', 'e', 'd',
		0x91, 0x06, 'B', 'a', 'r', 'n', 'e', 'y',
		0x28, 0x05,
		0x91, 0x05, 'W', 'i', 'l', 'm', 'a', 0x00,
	}
	if string(got) != string(want) {
		t.Errorf("Encode = % X, want % X", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"",
		".Foo",
		"Foo.",
		"Foo[5",
		"[5]Foo",
		"Foo..Bar",
		"Foo[]",
	}
	for _, in := range tests {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q): want error, got nil", in)
		}
	}
}

func TestEncodeNameTooLong(t *testing.T) {
	name := make([]byte, 256)
	for i := range name {
		name[i] = 'A'
	}
	p := ParsedTag{Segments: []Segment{{Kind: Name, Name: string(name)}}}
	if _, err := Encode(p); err == nil {
		t.Error("Encode with 256-byte name: want error, got nil")
	}
}

// TestPathRoundTrip exercises spec property P1: for every parsable tag and
// every element index in the literal test set, encode-then-reparse yields
// the same ParsedTag.
func TestPathRoundTrip(t *testing.T) {
	indices := []uint32{0, 255, 256, 65535, 65536, 4294967295}
	bases := []string{"Tag1", "Program.Sub.Member", "X"}

	for _, base := range bases {
		for _, idx := range indices {
			text := base + "[" + itoa(idx) + "]"
			parsed, err := Parse(text)
			if err != nil {
				t.Fatalf("Parse(%q): %v", text, err)
			}
			encoded, err := Encode(parsed)
			if err != nil {
				t.Fatalf("Encode(%q): %v", text, err)
			}
			if len(encoded)%2 != 0 {
				t.Errorf("Encode(%q) length %d is odd", text, len(encoded))
			}
			reparsed, err := ParsePath(encoded)
			if err != nil {
				t.Fatalf("ParsePath(Encode(%q)): %v", text, err)
			}
			if !reflect.DeepEqual(parsed, reparsed) {
				t.Errorf("round-trip mismatch for %q: got %+v, want %+v", text, reparsed, parsed)
			}
		}
	}
}

func TestEncodeIndexWidths(t *testing.T) {
	tests := []struct {
		idx  uint32
		want []byte
	}{
		{0, []byte{0x28, 0x00}},
		{255, []byte{0x28, 0xFF}},
		{256, []byte{0x29, 0x00, 0x00, 0x01}},
		{65535, []byte{0x29, 0x00, 0xFF, 0xFF}},
		{65536, []byte{0x2A, 0x00, 0x00, 0x00, 0x01, 0x00}},
		{4294967295, []byte{0x2A, 0x00, 0xFF, 0xFF, 0xFF, 0xFF}},
	}
	for _, tt := range tests {
		got := encodeIndex(tt.idx)
		if string(got) != string(tt.want) {
			t.Errorf("encodeIndex(%d) = % X, want % X", tt.idx, got, tt.want)
		}
	}
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
