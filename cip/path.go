package cip

// Logical-segment path helpers for CIP class/instance/attribute
// addressing (as opposed to the symbolic tag paths in package tagpath,
// which this package's request builders also accept directly as []byte).
// Encoding follows the same padded 8-bit logical-segment layout as the
// teacher's cip/epath.go logicalSegment: segment byte =
// (segmentType<<5)|(logicalType<<2)|format, with segmentType=0b001
// (logical segment) and format=0b00 (8-bit) throughout, since every use
// in this driver addresses classes/instances/attributes in the 0..255
// range (ConnectionManager, Message Router, Identity object).

const (
	logicalClass     = 0x20
	logicalInstance  = 0x24
	logicalAttribute = 0x30
)

// ClassInstance builds an 8-bit class+instance logical path, e.g. for
// the Connection Manager (class 0x06, instance 1) or Message Router
// (class 0x02, instance 1).
func ClassInstance(class, instance byte) []byte {
	return []byte{logicalClass, class, logicalInstance, instance}
}

// ClassInstanceAttribute builds an 8-bit class+instance+attribute
// logical path, used for Get_Attribute_Single identity queries.
func ClassInstanceAttribute(class, instance, attribute byte) []byte {
	return []byte{logicalClass, class, logicalInstance, instance, logicalAttribute, attribute}
}

// WordLen returns a path's length in 16-bit words, as required by the
// Message Router request path_size field.
func WordLen(path []byte) byte {
	return byte(len(path) / 2)
}
