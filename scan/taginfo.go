// Package scan implements the PLC registry and scan-loop scheduler: one
// worker goroutine per PLC groups tags into period-based scan lists,
// batches reads/writes into CIP_MultiRequest transfers, and dispatches
// per-tag callbacks in scan-list order.
package scan

import (
	"reflect"
	"sync"

	"github.com/yatesdr/cipscan/cip"
	"github.com/yatesdr/cipscan/codec"
	"github.com/yatesdr/cipscan/tagpath"
)

// CallbackFunc is invoked synchronously by the worker whenever a new value
// is deposited, after the tag's data lock has been released (so a callback
// may call ReadValue on the tag) and while the worker still holds the PLC
// lock. Implementations must not block or attempt to acquire a PLC or
// registry lock (spec §5).
type CallbackFunc func(tag *TagInfo, arg interface{})

type callbackEntry struct {
	fn  CallbackFunc
	arg interface{}
}

// TagInfo is one distinct symbolic tag on one PLC. All fields below the
// mutex are guarded by it (the "tag data lock" of spec §5); Symbolic,
// Parsed, and Path are set once at construction and read without locking
// thereafter, and Elements is set at construction and only raised later by
// Registry.AddTag under the PLC lock.
type TagInfo struct {
	mu sync.Mutex

	Symbolic string
	Parsed   tagpath.ParsedTag
	Path     []byte
	Elements uint32

	// Cached wire sizes, 0 until the worker's first successful probe
	// (spec I5: a zero ReadReqSize means the worker skips this tag).
	ReadReqSize   int
	ReadRespSize  int
	WriteReqSize  int
	WriteRespSize int

	lastType cip.TypeCode

	buffer    []byte
	validSize int

	doWrite   bool
	isWriting bool
	writeData []byte

	callbacks []callbackEntry

	LastTransferTicks int64
}

func newTagInfo(symbolic string, parsed tagpath.ParsedTag, path []byte, elements uint32) *TagInfo {
	return &TagInfo{
		Symbolic: symbolic,
		Parsed:   parsed,
		Path:     path,
		Elements: elements,
	}
}

// ReadValue reads the tag's latest value under the tag lock. ok is false
// when validSize is 0 (spec I3: no valid data yet, or invalidated by a
// disconnect).
func (t *TagInfo) ReadValue() (typeCode cip.TypeCode, elementBytes []byte, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.validSize <= 0 {
		return 0, nil, false
	}
	tc, err := codec.UnpackU16(t.buffer[:2])
	if err != nil {
		return 0, nil, false
	}
	out := make([]byte, t.validSize-2)
	copy(out, t.buffer[2:t.validSize])
	return cip.TypeCode(tc), out, true
}

// ScheduleWrite sets do_write=1 under the tag lock and latches the bytes
// to send (spec §5, §6 schedule_write). Reentry while a write is already
// in flight ((1,1) or (0,1)) is tolerated: the new payload replaces the
// old one and will go out on the worker's next classification.
func (t *TagInfo) ScheduleWrite(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeData = append(t.writeData[:0], data...)
	t.doWrite = true
}

// RegisterCallback adds (fn, arg) to the tag's callback set, in insertion
// order, ignoring duplicates. Duplicate detection compares fn by function
// pointer identity and arg by == where arg's dynamic type is comparable;
// an incomparable arg (e.g. a slice or map) is always treated as distinct,
// matching Go's own equality restrictions.
func (t *TagInfo) RegisterCallback(fn CallbackFunc, arg interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.callbacks {
		if sameCallback(e.fn, fn) && argEqual(e.arg, arg) {
			return
		}
	}
	t.callbacks = append(t.callbacks, callbackEntry{fn: fn, arg: arg})
}

// UnregisterCallback removes a matching (fn, arg) pair, if present.
func (t *TagInfo) UnregisterCallback(fn CallbackFunc, arg interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.callbacks {
		if sameCallback(e.fn, fn) && argEqual(e.arg, arg) {
			t.callbacks = append(t.callbacks[:i], t.callbacks[i+1:]...)
			return
		}
	}
}

func sameCallback(a, b CallbackFunc) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func argEqual(a, b interface{}) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// classifyForPass snapshots do_write at the start of a scan pass. If a
// write is pending it transitions (1,0)->(1,1), latching is_writing, and
// returns the payload to send; otherwise it reports a read with the
// tag's last known type code so the worker can build a write body later
// if one becomes pending mid-cycle.
func (t *TagInfo) classifyForPass() (write bool, payload []byte, typeCode cip.TypeCode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.doWrite {
		t.isWriting = true
		return true, append([]byte(nil), t.writeData...), t.lastType
	}
	return false, nil, t.lastType
}

// markSent clears do_write after the write's bytes have been handed to
// the transport, completing the (1,1)->(0,1) transition of spec §5.
func (t *TagInfo) markSent() {
	t.mu.Lock()
	t.doWrite = false
	t.mu.Unlock()
}

// completeWrite clears is_writing, completing (0,1)->(0,0). A failed
// write also invalidates any cached read data.
func (t *TagInfo) completeWrite(ok bool) {
	t.mu.Lock()
	t.isWriting = false
	if !ok {
		t.validSize = 0
	}
	t.mu.Unlock()
}

// abortClassification reverts the (1,0)->(1,1) transition classifyForPass
// made for a write candidate that ultimately did not fit in this
// transfer, leaving do_write pending for a later attempt.
func (t *TagInfo) abortClassification(wasWrite bool) {
	if !wasWrite {
		return
	}
	t.mu.Lock()
	t.isWriting = false
	t.mu.Unlock()
}

// pendingWriteNow reports whether a write has been (re)scheduled since
// this tag was classified as a read this pass — the discard case of
// scenario S5.
func (t *TagInfo) pendingWriteNow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doWrite
}

// storeRead deposits a successful read's type code and element bytes,
// growing buffer monotonically (never shrinking, spec §4.5's growth
// policy applied to the tag buffer), then releases the tag lock and
// invokes a snapshot of the registered callbacks in insertion order.
func (t *TagInfo) storeRead(typeCode cip.TypeCode, elementBytes []byte) {
	t.mu.Lock()
	need := 2 + len(elementBytes)
	if cap(t.buffer) < need {
		grown := make([]byte, need)
		copy(grown, t.buffer)
		t.buffer = grown
	} else {
		t.buffer = t.buffer[:need]
	}
	codec.PackU16(t.buffer[:0], uint16(typeCode))
	copy(t.buffer[2:], elementBytes)
	t.validSize = need
	t.lastType = typeCode
	cbs := append([]callbackEntry(nil), t.callbacks...)
	t.mu.Unlock()

	for _, cb := range cbs {
		cb.fn(t, cb.arg)
	}
}

// invalidate zeroes valid_size (spec P6: no use-after-disconnect).
func (t *TagInfo) invalidate() {
	t.mu.Lock()
	t.validSize = 0
	t.mu.Unlock()
}

// setProbeSizes records the cached wire sizes established by the
// worker's first successful probe and derives the write sizes per
// spec §4.7 step 2.
func (t *TagInfo) setProbeSizes(readReqSize, readRespSize int, typeCode cip.TypeCode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadReqSize = readReqSize
	t.ReadRespSize = readRespSize
	t.lastType = typeCode
	if readRespSize > 4 {
		t.WriteReqSize = readReqSize + (readRespSize - 4)
		t.WriteRespSize = 4
	} else {
		t.WriteReqSize = 0
		t.WriteRespSize = 0
	}
}

func (t *TagInfo) snapshotSizes() (readReqSize, readRespSize, writeReqSize, writeRespSize int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ReadReqSize, t.ReadRespSize, t.WriteReqSize, t.WriteRespSize
}
