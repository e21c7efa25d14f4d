package scan

import (
	"testing"

	"github.com/yatesdr/cipscan/cip"
	"github.com/yatesdr/cipscan/tagpath"
)

func mustTag(t *testing.T, symbolic string) *TagInfo {
	t.Helper()
	parsed, err := tagpath.Parse(symbolic)
	if err != nil {
		t.Fatalf("tagpath.Parse(%q): %v", symbolic, err)
	}
	path, err := tagpath.Encode(parsed)
	if err != nil {
		t.Fatalf("tagpath.Encode(%q): %v", symbolic, err)
	}
	return newTagInfo(symbolic, parsed, path, 1)
}

// TestWriteStateMonotonicity walks the four-state do_write/is_writing
// protocol of spec §5 in order and checks property P5.
func TestWriteStateMonotonicity(t *testing.T) {
	tag := mustTag(t, "Foo")

	if tag.doWrite || tag.isWriting {
		t.Fatalf("initial state = (%v,%v), want (0,0)", tag.doWrite, tag.isWriting)
	}

	tag.ScheduleWrite([]byte{1, 2, 3, 4})
	if !tag.doWrite || tag.isWriting {
		t.Fatalf("after ScheduleWrite = (%v,%v), want (1,0)", tag.doWrite, tag.isWriting)
	}

	write, payload, _ := tag.classifyForPass()
	if !write || !tag.doWrite || !tag.isWriting {
		t.Fatalf("after classifyForPass = write=%v (%v,%v), want write=true (1,1)", write, tag.doWrite, tag.isWriting)
	}
	if string(payload) != "\x01\x02\x03\x04" {
		t.Errorf("classifyForPass payload = % X", payload)
	}

	// Reentry: a consumer reschedules while is_writing is already set.
	// The protocol tolerates (1,1)->(1,1).
	tag.ScheduleWrite([]byte{9, 9, 9, 9})
	write2, payload2, _ := tag.classifyForPass()
	if !write2 || !tag.doWrite || !tag.isWriting {
		t.Fatalf("reentry classification = write=%v (%v,%v), want write=true (1,1)", write2, tag.doWrite, tag.isWriting)
	}
	if string(payload2) != "\x09\x09\x09\x09" {
		t.Errorf("reentry payload = % X, want the rescheduled bytes", payload2)
	}

	tag.markSent()
	if tag.doWrite || !tag.isWriting {
		t.Fatalf("after markSent = (%v,%v), want (0,1)", tag.doWrite, tag.isWriting)
	}

	tag.completeWrite(true)
	if tag.doWrite || tag.isWriting {
		t.Fatalf("after completeWrite = (%v,%v), want (0,0)", tag.doWrite, tag.isWriting)
	}
}

// TestCompleteWriteFailureInvalidatesBuffer checks that a failed write
// zeroes valid_size, per spec §4.7 step 3c.
func TestCompleteWriteFailureInvalidatesBuffer(t *testing.T) {
	tag := mustTag(t, "Foo")
	tag.storeRead(cip.TypeDINT, []byte{1, 0, 0, 0})
	tag.ScheduleWrite([]byte{2, 0, 0, 0})
	tag.classifyForPass()
	tag.markSent()
	tag.completeWrite(false)

	if _, _, ok := tag.ReadValue(); ok {
		t.Error("ReadValue after a failed write: ok = true, want false (valid_size zeroed)")
	}
}

// TestStoreReadGrowsBufferMonotonically checks invariant I3 and the
// never-shrink growth policy applied to the tag buffer.
func TestStoreReadGrowsBufferMonotonically(t *testing.T) {
	tag := mustTag(t, "Foo")

	tag.storeRead(cip.TypeDINT, []byte{1, 0, 0, 0, 2, 0, 0, 0})
	firstCap := cap(tag.buffer)
	tc, data, ok := tag.ReadValue()
	if !ok {
		t.Fatal("ReadValue: ok = false after a successful store")
	}
	if tc != cip.TypeDINT {
		t.Errorf("type code = %v, want DINT", tc)
	}
	if len(data) != 8 {
		t.Errorf("element bytes length = %d, want 8", len(data))
	}

	tag.storeRead(cip.TypeDINT, []byte{1, 0, 0, 0})
	if cap(tag.buffer) < firstCap {
		t.Errorf("buffer capacity shrank from %d to %d", firstCap, cap(tag.buffer))
	}
	if tag.validSize != 2+4 {
		t.Errorf("valid_size = %d, want 6", tag.validSize)
	}
	if tag.buffer[0] != 0xC4 || tag.buffer[1] != 0x00 {
		t.Errorf("buffer[0:2] = % X, want the DINT type code", tag.buffer[:2])
	}
}

// TestInvalidateZeroesValidSize is property P6's unit-level check.
func TestInvalidateZeroesValidSize(t *testing.T) {
	tag := mustTag(t, "Foo")
	tag.storeRead(cip.TypeDINT, []byte{1, 0, 0, 0})
	if _, _, ok := tag.ReadValue(); !ok {
		t.Fatal("ReadValue: ok = false before invalidate")
	}
	tag.invalidate()
	if _, _, ok := tag.ReadValue(); ok {
		t.Error("ReadValue after invalidate: ok = true, want false")
	}
}

var dedupCallCount int

func dedupProbeCallback(tag *TagInfo, arg interface{}) { dedupCallCount++ }

// TestCallbackSetSemantics checks duplicate (fn, arg) pairs are ignored
// and insertion order is preserved (spec §4.6).
func TestCallbackSetSemantics(t *testing.T) {
	tag := mustTag(t, "Foo")

	var order []int
	cb1 := func(tg *TagInfo, arg interface{}) { order = append(order, arg.(int)) }

	tag.RegisterCallback(cb1, 1)
	tag.RegisterCallback(cb1, 2)
	tag.RegisterCallback(cb1, 1) // duplicate of the first, by fn identity + arg equality

	if len(tag.callbacks) != 2 {
		t.Fatalf("callbacks registered = %d, want 2 (duplicate ignored)", len(tag.callbacks))
	}

	tag.storeRead(cip.TypeDINT, []byte{0, 0, 0, 0})
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("callback fan-out order = %v, want [1 2] (insertion order)", order)
	}

	tag.UnregisterCallback(cb1, 1)
	if len(tag.callbacks) != 1 {
		t.Fatalf("callbacks after unregister = %d, want 1", len(tag.callbacks))
	}
}

func TestRegisterCallbackNamedFuncDedup(t *testing.T) {
	tag := mustTag(t, "Foo")
	tag.RegisterCallback(dedupProbeCallback, "x")
	tag.RegisterCallback(dedupProbeCallback, "x")
	if len(tag.callbacks) != 1 {
		t.Errorf("callbacks registered = %d, want 1", len(tag.callbacks))
	}
}

// TestAbortClassificationRevertsIsWriting checks that reverting a write
// classification leaves do_write pending rather than dropping it.
func TestAbortClassificationRevertsIsWriting(t *testing.T) {
	tag := mustTag(t, "Foo")
	tag.ScheduleWrite([]byte{1, 2, 3, 4})
	tag.classifyForPass()
	tag.abortClassification(true)

	if !tag.doWrite {
		t.Error("do_write cleared by abortClassification, want it to remain pending")
	}
	if tag.isWriting {
		t.Error("is_writing still set after abortClassification")
	}
}
