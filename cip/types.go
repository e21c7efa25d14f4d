// Package cip builds and parses Common Industrial Protocol Message Router
// requests and responses: read/write data bodies, MultiRequest packing
// with offset tables, and CM_Unconnected_Send wrapping.
package cip

// Service identifies a CIP service code.
type Service byte

// Recognized services, required for wire compatibility.
const (
	SvcGetAttributeSingle Service = 0x0E
	SvcGetAttributeAll    Service = 0x01
	SvcReadData           Service = 0x4C
	SvcWriteData          Service = 0x4D
	SvcMultiRequest       Service = 0x0A
	SvcUnconnectedSend    Service = 0x52
	SvcForwardOpen        Service = 0x54
)

// replyBit is OR'd into the request's service code to form the reply's
// service code in every Message Router response.
const replyBit = 0x80

// TypeCode identifies a CIP elementary data type on the wire.
type TypeCode uint16

// Bit-exact wire type codes.
const (
	TypeBOOL TypeCode = 0x00C1
	TypeSINT TypeCode = 0x00C2
	TypeINT  TypeCode = 0x00C3
	TypeDINT TypeCode = 0x00C4
	TypeREAL TypeCode = 0x00CA
	TypeBITS TypeCode = 0x00D3
)

// Size returns the element byte width for a known type code, or 0 if the
// type code is not one of the enumerated scalar types.
func (t TypeCode) Size() int {
	switch t {
	case TypeBOOL, TypeSINT:
		return 1
	case TypeINT:
		return 2
	case TypeDINT, TypeREAL, TypeBITS:
		return 4
	default:
		return 0
	}
}

// String returns a human-readable name for a known type code.
func (t TypeCode) String() string {
	switch t {
	case TypeBOOL:
		return "BOOL"
	case TypeSINT:
		return "SINT"
	case TypeINT:
		return "INT"
	case TypeDINT:
		return "DINT"
	case TypeREAL:
		return "REAL"
	case TypeBITS:
		return "BITS"
	default:
		return "UNKNOWN"
	}
}
