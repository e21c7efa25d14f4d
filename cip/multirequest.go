package cip

import (
	"github.com/yatesdr/cipscan/ciperr"
	"github.com/yatesdr/cipscan/codec"
)

// MaxMultiRequestItems bounds how many sub-requests one CIP_MultiRequest
// may carry.
const MaxMultiRequestItems = 200

// BuildMultiRequest packs items (already-marshaled inner MR requests)
// into a CIP_MultiRequest body: count | offset[0..N-1] | item bytes,
// with offset[0] = 2*(N+1) and offset[k+1] = offset[k] + len(items[k]),
// offsets measured in bytes from the start of count (spec P3).
func BuildMultiRequest(items [][]byte) ([]byte, error) {
	n := len(items)
	if n == 0 {
		return nil, &ciperr.ProtocolErr{Reason: "BuildMultiRequest: zero items"}
	}
	if n > MaxMultiRequestItems {
		return nil, &ciperr.ProtocolErr{Reason: "BuildMultiRequest: too many items"}
	}

	offsets := make([]uint16, n)
	offsets[0] = uint16(2 * (n + 1))
	for k := 0; k < n-1; k++ {
		offsets[k+1] = offsets[k] + uint16(len(items[k]))
	}

	out := codec.PackU16(nil, uint16(n))
	for _, off := range offsets {
		out = codec.PackU16(out, off)
	}
	for _, item := range items {
		out = append(out, item...)
	}
	return out, nil
}

// MultiRequestSize returns the total byte size of a CIP_MultiRequest body
// packing n items whose combined size is totalItemBytes, matching the
// layout BuildMultiRequest produces (spec P3).
func MultiRequestSize(n int, totalItemBytes int) int {
	return 2*(n+1) + totalItemBytes
}

// ParseMultiResponse splits a CIP_MultiRequest response body (the same
// count|offset-table|data layout) back into per-item byte slices. The
// last item's size is the remainder of the data area (spec §4.3).
func ParseMultiResponse(data []byte) ([][]byte, error) {
	if len(data) < 2 {
		return nil, &ciperr.ProtocolErr{Reason: "multi-response shorter than count field"}
	}
	n, err := codec.UnpackU16(data)
	if err != nil {
		return nil, &ciperr.ProtocolErr{Reason: "multi-response: " + err.Error()}
	}
	count := int(n)
	if count == 0 {
		return nil, &ciperr.ProtocolErr{Reason: "multi-response declares zero items"}
	}

	offTableEnd := 2 + count*2
	if len(data) < offTableEnd {
		return nil, &ciperr.ProtocolErr{Reason: "multi-response truncated in offset table"}
	}

	offsets := make([]int, count)
	for i := 0; i < count; i++ {
		o := 2 + i*2
		v, err := codec.UnpackU16(data[o:])
		if err != nil {
			return nil, &ciperr.ProtocolErr{Reason: "multi-response offset: " + err.Error()}
		}
		offsets[i] = int(v)
	}

	items := make([][]byte, count)
	for i := 0; i < count; i++ {
		start := offsets[i]
		var end int
		if i+1 < count {
			end = offsets[i+1]
		} else {
			end = len(data)
		}
		if start < 0 || end > len(data) || start > end {
			return nil, &ciperr.ProtocolErr{Reason: "multi-response: inconsistent offset table"}
		}
		items[i] = data[start:end]
	}
	return items, nil
}

// DetermineCount returns the largest k (1 <= k <= len(reqSizes)) for which
// both the request and response packed sizes stay within limit, given the
// per-tag request and response item sizes in order. It returns 0 if even
// the first tag does not fit (spec §4.7 batching guarantee, property P4).
func DetermineCount(limit int, reqSizes, respSizes []int) int {
	n := len(reqSizes)
	if len(respSizes) < n {
		n = len(respSizes)
	}
	best := 0
	reqTotal, respTotal := 0, 0
	for k := 0; k < n; k++ {
		reqTotal += reqSizes[k]
		respTotal += respSizes[k]
		reqPacked := MultiRequestSize(k+1, reqTotal)
		respPacked := MultiRequestSize(k+1, respTotal)
		if reqPacked <= limit && respPacked <= limit {
			best = k + 1
		} else {
			break
		}
	}
	return best
}
