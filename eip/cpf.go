package eip

import (
	"github.com/yatesdr/cipscan/ciperr"
	"github.com/yatesdr/cipscan/codec"
)

// CPF item type IDs used to wrap CIP requests inside SendRRData, per
// ODVA v1.4.
const (
	cpfAddressNullID        uint16 = 0x0000
	cpfUnconnectedDataID    uint16 = 0x00B2
	cpfListServicesRespID   uint16 = 0x0100
)

// BuildSendRRDataPayload wraps a CIP Message Router request as a
// SendRRData command payload: u32 interface_handle=0 | u16 timeout |
// u16 item_count=2 | (null address item) | (unconnected data item
// carrying mrRequest) (spec §4.4).
func BuildSendRRDataPayload(mrRequest []byte, timeout uint16) []byte {
	out := codec.PackU32(nil, 0) // interface handle
	out = codec.PackU16(out, timeout)
	out = codec.PackU16(out, 2) // item count

	// Null address item (no target connection — unconnected messaging).
	out = codec.PackU16(out, cpfAddressNullID)
	out = codec.PackU16(out, 0) // length 0

	// Unconnected data item carrying the CIP request.
	out = codec.PackU16(out, cpfUnconnectedDataID)
	out = codec.PackU16(out, uint16(len(mrRequest)))
	out = append(out, mrRequest...)

	return out
}

// ParseSendRRDataPayload extracts the CIP Message Router response bytes
// from a SendRRData response payload.
func ParseSendRRDataPayload(payload []byte) ([]byte, error) {
	if len(payload) < 8 {
		return nil, &ciperr.ProtocolErr{Reason: "SendRRData payload shorter than 8-byte prefix"}
	}
	itemCount, err := codec.UnpackU16(payload[6:8])
	if err != nil {
		return nil, &ciperr.ProtocolErr{Reason: "SendRRData payload: " + err.Error()}
	}
	off := 8
	var data []byte
	for i := 0; i < int(itemCount); i++ {
		if off+4 > len(payload) {
			return nil, &ciperr.ProtocolErr{Reason: "SendRRData payload: truncated item header"}
		}
		var typeID32, length32 uint32
		_ = codec.Unpack(itemHeaderFormat, payload[off:off+4], &typeID32, &length32)
		typeID, length := uint16(typeID32), uint16(length32)
		off += 4
		if off+int(length) > len(payload) {
			return nil, &ciperr.ProtocolErr{Reason: "SendRRData payload: truncated item data"}
		}
		if typeID == cpfUnconnectedDataID {
			data = payload[off : off+int(length)]
		}
		off += int(length)
	}
	if data == nil {
		return nil, &ciperr.ProtocolErr{Reason: "SendRRData payload: no unconnected data item found"}
	}
	return data, nil
}

// ServiceEntry is one entry in a ListServices response.
type ServiceEntry struct {
	Type    uint16
	Version uint16
	Flags   uint16
	Name    string
}

// cipPDUFlag is bit 5 of a ListServices entry's flags field; a session
// is only usable for CIP traffic if some entry sets it.
const cipPDUFlag = 1 << 5

// itemHeaderFormat is the "type, length" header common to every CPF
// item, both in SendRRData and ListServices payloads.
const itemHeaderFormat = "ii"

// listServicesEntryFormat is the fixed version/flags prefix of one
// ListServices entry; the trailing 16-byte name is read separately
// since Unpack only stores numeric fields.
const listServicesEntryFormat = "ii"

// SupportsCIP reports whether any entry advertises CIP PDU encapsulation
// support.
func SupportsCIP(entries []ServiceEntry) bool {
	for _, e := range entries {
		if e.Flags&cipPDUFlag != 0 {
			return true
		}
	}
	return false
}

// ParseListServicesPayload parses a ListServices response payload: a u16
// item count followed by that many { u16 type, u16 length, u16 version,
// u16 flags, u8[16] name } entries.
func ParseListServicesPayload(payload []byte) ([]ServiceEntry, error) {
	if len(payload) < 2 {
		return nil, &ciperr.ProtocolErr{Reason: "ListServices payload shorter than count field"}
	}
	count, err := codec.UnpackU16(payload)
	if err != nil {
		return nil, &ciperr.ProtocolErr{Reason: "ListServices payload: " + err.Error()}
	}
	off := 2
	entries := make([]ServiceEntry, 0, count)
	for i := 0; i < int(count); i++ {
		if off+4 > len(payload) {
			return nil, &ciperr.ProtocolErr{Reason: "ListServices payload: truncated item header"}
		}
		var typeID32, length32 uint32
		_ = codec.Unpack(itemHeaderFormat, payload[off:off+4], &typeID32, &length32)
		typeID, length := uint16(typeID32), uint16(length32)
		off += 4
		if off+int(length) > len(payload) {
			return nil, &ciperr.ProtocolErr{Reason: "ListServices payload: truncated item data"}
		}
		item := payload[off : off+int(length)]
		off += int(length)

		if len(item) < 20 {
			continue
		}
		var version32, flags32 uint32
		_ = codec.Unpack(listServicesEntryFormat, item[0:4], &version32, &flags32)
		name := cstring(item[4:20])
		entries = append(entries, ServiceEntry{Type: typeID, Version: uint16(version32), Flags: uint16(flags32), Name: name})
	}
	return entries, nil
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
