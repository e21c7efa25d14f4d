package cip

import (
	"github.com/yatesdr/cipscan/ciperr"
)

// MessageRouterRequest is "service(1) | path_size_words(1) | path | data".
type MessageRouterRequest struct {
	Service Service
	Path    []byte // already-encoded EPath bytes (even length)
	Data    []byte
}

// Marshal encodes the request to wire bytes.
func (r MessageRouterRequest) Marshal() []byte {
	out := make([]byte, 0, 2+len(r.Path)+len(r.Data))
	out = append(out, byte(r.Service), WordLen(r.Path))
	out = append(out, r.Path...)
	out = append(out, r.Data...)
	return out
}

// MessageRouterResponse is
// "service|0x80 (1) | reserved (1) | general_status (1) | ext_status_size_words (1) | ext_status[...] | data[...]".
type MessageRouterResponse struct {
	ReplyService  byte
	GeneralStatus byte
	ExtStatus     []uint16
	Data          []byte
}

// OK reports whether the response carries a zero general status.
func (r MessageRouterResponse) OK() bool {
	return r.GeneralStatus == 0
}

// ParseMessageRouterResponse parses a raw Message Router response body.
func ParseMessageRouterResponse(raw []byte) (*MessageRouterResponse, error) {
	if len(raw) < 4 {
		return nil, &ciperr.ProtocolErr{Reason: "message router response shorter than 4-byte header"}
	}
	replyService := raw[0]
	generalStatus := raw[2]
	extWords := int(raw[3])
	need := 4 + extWords*2
	if len(raw) < need {
		return nil, &ciperr.ProtocolErr{Reason: "message router response truncated in extended status"}
	}
	ext := make([]uint16, extWords)
	for i := 0; i < extWords; i++ {
		off := 4 + i*2
		ext[i] = uint16(raw[off]) | uint16(raw[off+1])<<8
	}
	data := raw[need:]
	return &MessageRouterResponse{
		ReplyService:  replyService,
		GeneralStatus: generalStatus,
		ExtStatus:     ext,
		Data:          data,
	}, nil
}

// AsError converts a non-OK response into a *ciperr.CipStatusErr, or
// returns nil if the response succeeded.
func (r MessageRouterResponse) AsError() error {
	if r.OK() {
		return nil
	}
	return &ciperr.CipStatusErr{GeneralStatus: r.GeneralStatus, ExtStatus: r.ExtStatus}
}
