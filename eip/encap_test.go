package eip

import "testing"

func TestFrameMarshalParseRoundTrip(t *testing.T) {
	f := NewRequestFrame(CmdSendRRData, 0x12345678, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	wire := f.Marshal()

	if len(wire) != HeaderSize+4 {
		t.Fatalf("wire length = %d, want %d", len(wire), HeaderSize+4)
	}

	back, err := ParseFrame(wire)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if back.Command != CmdSendRRData {
		t.Errorf("Command = %#x, want %#x", back.Command, CmdSendRRData)
	}
	if back.Session != 0x12345678 {
		t.Errorf("Session = %#x, want 0x12345678", back.Session)
	}
	if back.Context != senderContext {
		t.Errorf("Context = %v, want %v", back.Context, senderContext)
	}
	if string(back.Payload) != "\xDE\xAD\xBE\xEF" {
		t.Errorf("Payload = % X", back.Payload)
	}
}

func TestParseHeaderShort(t *testing.T) {
	if _, _, err := ParseHeader(make([]byte, 10)); err == nil {
		t.Error("ParseHeader on 10 bytes: want error, got nil")
	}
}

func TestParseFrameTruncatedPayload(t *testing.T) {
	f := NewRequestFrame(CmdNop, 0, []byte{0x01, 0x02, 0x03, 0x04})
	wire := f.Marshal()
	truncated := wire[:HeaderSize+2]
	if _, err := ParseFrame(truncated); err == nil {
		t.Error("ParseFrame on truncated payload: want error, got nil")
	}
}

func TestHeaderByteOrder(t *testing.T) {
	// Verify the header is exactly little-endian as specified: the first
	// two bytes are the command, low byte first.
	f := NewRequestFrame(0x1234, 0, nil)
	wire := f.Marshal()
	if wire[0] != 0x34 || wire[1] != 0x12 {
		t.Errorf("command bytes = %02X %02X, want 34 12", wire[0], wire[1])
	}
}
