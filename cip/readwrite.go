package cip

import (
	"github.com/yatesdr/cipscan/ciperr"
	"github.com/yatesdr/cipscan/codec"
)

// BuildReadDataRequest builds the CIP_ReadData request body: u16 elements.
func BuildReadDataRequest(elements uint16) []byte {
	return codec.PackU16(nil, elements)
}

// ParseReadDataResponse parses a CIP_ReadData response body:
// u16 type_code | raw element bytes.
func ParseReadDataResponse(data []byte) (TypeCode, []byte, error) {
	if len(data) < 2 {
		return 0, nil, &ciperr.ProtocolErr{Reason: "read data response shorter than 2-byte type code"}
	}
	tc, err := codec.UnpackU16(data)
	if err != nil {
		return 0, nil, &ciperr.ProtocolErr{Reason: "read data response: " + err.Error()}
	}
	return TypeCode(tc), data[2:], nil
}

// BuildWriteDataRequest builds the CIP_WriteData request body:
// u16 type_code | u16 elements | raw bytes.
func BuildWriteDataRequest(typeCode TypeCode, elements uint16, data []byte) []byte {
	out := codec.PackU16(nil, uint16(typeCode))
	out = codec.PackU16(out, elements)
	out = append(out, data...)
	return out
}
