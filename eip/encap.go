// Package eip implements the EtherNet/IP encapsulation layer: session
// header framing and the Connection socket lifecycle (connect-timeout,
// length-prefixed receive, growable buffers, ListServices/RegisterSession/
// UnRegisterSession/SendRRData).
package eip

import (
	"github.com/yatesdr/cipscan/ciperr"
	"github.com/yatesdr/cipscan/codec"
)

// Encapsulation commands used by this driver.
const (
	CmdNop               uint16 = 0x00
	CmdListServices      uint16 = 0x04
	CmdListInterfaces    uint16 = 0x64
	CmdRegisterSession   uint16 = 0x65
	CmdUnRegisterSession uint16 = 0x66
	CmdSendRRData        uint16 = 0x6F
	CmdSendUnitData      uint16 = 0x70
)

// HeaderSize is the fixed encapsulation header size in bytes.
const HeaderSize = 24

// senderContext is the free-form 8-byte correlator echoed by the server.
// The source uses the ASCII "AIRPLANE"; any value works since it is not
// interpreted, only echoed.
var senderContext = [8]byte{'A', 'I', 'R', 'P', 'L', 'A', 'N', 'E'}

// Frame is one EtherNet/IP encapsulation frame:
// u16 command | u16 length | u32 session | u32 status | u8[8] context | u32 options | payload.
type Frame struct {
	Command uint16
	Session uint32
	Status  uint32
	Context [8]byte
	Options uint32
	Payload []byte
}

// NewRequestFrame builds a frame for transmission, stamped with the
// module's sender context.
func NewRequestFrame(command uint16, session uint32, payload []byte) Frame {
	return Frame{Command: command, Session: session, Context: senderContext, Payload: payload}
}

// Marshal encodes the frame to wire bytes, little-endian throughout.
func (f Frame) Marshal() []byte {
	buf := make([]byte, 0, HeaderSize+len(f.Payload))
	buf = codec.PackU16(buf, f.Command)
	buf = codec.PackU16(buf, uint16(len(f.Payload)))
	buf = codec.PackU32(buf, f.Session)
	buf = codec.PackU32(buf, f.Status)
	buf = append(buf, f.Context[:]...)
	buf = codec.PackU32(buf, f.Options)
	buf = append(buf, f.Payload...)
	return buf
}

// ParseHeader decodes the fixed 24-byte header and returns the declared
// payload length. It does not require the payload to be present yet; it
// is used by the Connection's length-prefixed receive loop.
func ParseHeader(b []byte) (f Frame, payloadLen uint16, err error) {
	if len(b) < HeaderSize {
		return Frame{}, 0, &ciperr.ProtocolErr{Reason: "encapsulation header shorter than 24 bytes"}
	}
	cmd, _ := codec.UnpackU16(b[0:2])
	length, _ := codec.UnpackU16(b[2:4])
	session, _ := codec.UnpackU32(b[4:8])
	status, _ := codec.UnpackU32(b[8:12])
	var ctx [8]byte
	copy(ctx[:], b[12:20])
	options, _ := codec.UnpackU32(b[20:24])
	f = Frame{Command: cmd, Session: session, Status: status, Context: ctx, Options: options}
	return f, length, nil
}

// ParseFrame decodes a complete frame (header + exactly payloadLen bytes
// of payload already appended).
func ParseFrame(b []byte) (Frame, error) {
	f, payloadLen, err := ParseHeader(b)
	if err != nil {
		return Frame{}, err
	}
	if len(b) < HeaderSize+int(payloadLen) {
		return Frame{}, &ciperr.ProtocolErr{Reason: "frame shorter than declared payload length"}
	}
	f.Payload = b[HeaderSize : HeaderSize+int(payloadLen)]
	return f, nil
}
