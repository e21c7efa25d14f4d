// Package publish fans out scanned tag values to external sinks (MQTT,
// Redis/Valkey, Kafka). Each sink subscribes to tag changes through
// scan.TagInfo.RegisterCallback and renders the same TagMessage shape.
package publish

import (
	"time"

	"github.com/yatesdr/cipscan/cip"
	"github.com/yatesdr/cipscan/scan"
)

// TagMessage is the common JSON envelope published to every sink.
type TagMessage struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Type      string      `json:"type,omitempty"`
	Value     interface{} `json:"value"`
	Timestamp string      `json:"timestamp"`
}

// WriteRequest is the common JSON shape accepted from a sink's
// write-back channel.
type WriteRequest struct {
	PLC   string      `json:"plc"`
	Tag   string      `json:"tag"`
	Value interface{} `json:"value"`
}

// WriteResponse acknowledges a WriteRequest.
type WriteResponse struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// DebugLogger is satisfied by logging.DebugLogger without this package
// importing it directly, mirroring the teacher's sink packages.
type DebugLogger interface {
	Log(protocol, format string, args ...interface{})
}

// decodeValue converts a tag's packed element bytes into a publishable
// Go value using the same format codes as cip's type system. Only
// scalar element 0 is rendered; array tags publish their first element,
// matching the teacher publishers' single-value-per-topic behavior.
func decodeValue(typeCode cip.TypeCode, elementBytes []byte) interface{} {
	width := typeCode.Size()
	if width <= 0 || len(elementBytes) < width {
		return nil
	}
	switch typeCode {
	case cip.TypeBOOL, cip.TypeSINT:
		return elementBytes[0]
	case cip.TypeINT:
		return int(elementBytes[0]) | int(elementBytes[1])<<8
	case cip.TypeDINT, cip.TypeBITS:
		return uint32(elementBytes[0]) | uint32(elementBytes[1])<<8 |
			uint32(elementBytes[2])<<16 | uint32(elementBytes[3])<<24
	case cip.TypeREAL:
		bits := uint32(elementBytes[0]) | uint32(elementBytes[1])<<8 |
			uint32(elementBytes[2])<<16 | uint32(elementBytes[3])<<24
		return bits
	default:
		return elementBytes
	}
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// tagCallback adapts a scan.CallbackFunc to a sink-specific publish
// function, decoding the tag's value before handing it off.
func tagCallback(publish func(plcName string, msg TagMessage)) scan.CallbackFunc {
	return func(tag *scan.TagInfo, arg interface{}) {
		plcName, _ := arg.(string)
		typeCode, data, ok := tag.ReadValue()
		if !ok {
			return
		}
		publish(plcName, TagMessage{
			PLC:       plcName,
			Tag:       tag.Symbolic,
			Type:      typeCode.String(),
			Value:     decodeValue(typeCode, data),
			Timestamp: nowStamp(),
		})
	}
}
