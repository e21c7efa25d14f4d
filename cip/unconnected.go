package cip

import (
	"github.com/yatesdr/cipscan/ciperr"
	"github.com/yatesdr/cipscan/codec"
)

// DefaultTickBudgetMillis is the default millisecond timeout budget used
// to derive the CIP tick-time pair, matching the original ether_ip
// driver's calc_tick_time(245760, ...) call (ether_ip.c:761).
const DefaultTickBudgetMillis = 245760

// maxTickBudgetMillis is the largest millisecond budget calc_tick_time can
// express: a tick power of at most 15 (the low nibble of the priority/tick
// byte) times an 8-bit tick count, 255<<15 = 8355840.
const maxTickBudgetMillis = 8355840

// classConnectionManager, instanceConnectionManager address the
// ConnectionManager object (class 0x06, instance 1) that CM_Unconnected_Send
// targets.
const (
	classConnectionManager    = 0x06
	instanceConnectionManager = 0x01
	backplanePort             = 0x01
)

// ClassMessageRouter and InstanceMessageRouter address the Message
// Router object (class 0x02, instance 1) that every CIP request is
// ultimately routed to, whether addressed directly (a local session) or
// reached across the backplane via an Unconnected Send route path.
const (
	ClassMessageRouter    = 0x02
	InstanceMessageRouter = 0x01
)

// MessageRouterPath returns the 8-bit logical class+instance path
// addressing the Message Router object.
func MessageRouterPath() []byte {
	return ClassInstance(ClassMessageRouter, InstanceMessageRouter)
}

// CalcTickTime derives (tickPower, ticks) from a millisecond budget such
// that tick_ms = 1<<tickPower and ticks = millis>>tickPower, ticks<=255.
// This mirrors the original ether_ip driver's calc_tick_time bit for bit:
// halve the budget, counting halvings, until it fits a byte. Returns
// ok=false if millis exceeds the largest representable budget.
func CalcTickTime(millis uint32) (tickPower byte, ticks byte, ok bool) {
	if millis > maxTickBudgetMillis {
		return 0, 0, false
	}
	m := millis
	for m > 0xFF {
		tickPower++
		m >>= 1
	}
	return tickPower, byte(m), true
}

// BuildRoutedPath encodes the trailing CIP route path used by
// CM_Unconnected_Send to reach the destination Message Router: a
// backplane port segment (port 1, link=slot) followed by the
// class/instance of the Message Router object (spec §4.3, S3).
func BuildRoutedPath(slot byte) []byte {
	out := []byte{backplanePort, slot}
	out = append(out, MessageRouterPath()...)
	return out
}

// BuildUnconnectedSend wraps inner (an already-marshaled MR request) in a
// CM_Unconnected_Send request addressed to the ConnectionManager, using
// millisBudget to derive the tick-time pair (DefaultTickBudgetMillis if
// zero), and routing to the given backplane slot.
func BuildUnconnectedSend(inner []byte, millisBudget uint32, slot byte) ([]byte, error) {
	if millisBudget == 0 {
		millisBudget = DefaultTickBudgetMillis
	}
	tickPower, ticks, ok := CalcTickTime(millisBudget)
	if !ok {
		return nil, &ciperr.ProtocolErr{Reason: "unconnected send: millisecond budget out of range"}
	}

	padded := inner
	if len(padded)%2 != 0 {
		padded = append(append([]byte{}, padded...), 0x00)
	}

	route := BuildRoutedPath(slot)

	data := make([]byte, 0, 2+2+len(padded)+2+len(route))
	data = append(data, tickPower, ticks)
	data = codec.PackU16(data, uint16(len(inner)))
	data = append(data, padded...)
	data = append(data, WordLen(route), 0x00) // route path size (words), reserved
	data = append(data, route...)

	req := MessageRouterRequest{
		Service: SvcUnconnectedSend,
		Path:    ClassInstance(classConnectionManager, instanceConnectionManager),
		Data:    data,
	}
	return req.Marshal(), nil
}
