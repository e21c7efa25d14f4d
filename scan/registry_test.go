package scan

import (
	"testing"
	"time"
)

// TestDefinePLCIdempotent is property P7's PLC half: defining twice
// yields one entry, and the second call overwrites address/slot.
func TestDefinePLCIdempotent(t *testing.T) {
	reg := NewRegistry(time.Second)

	p1 := reg.DefinePLC("line1", "10.0.0.1", 0, time.Second, 0)
	p2 := reg.DefinePLC("line1", "10.0.0.2", 1, time.Second, 0)

	if p1 != p2 {
		t.Fatal("DefinePLC called twice with the same name returned different handles")
	}
	if p1.Address != "10.0.0.2" || p1.Slot != 1 {
		t.Errorf("address/slot = %s/%d, want overwritten 10.0.0.2/1", p1.Address, p1.Slot)
	}
	if reg.FindPLC("line1") != p1 {
		t.Error("FindPLC did not return the defined PLC")
	}
	if reg.FindPLC("missing") != nil {
		t.Error("FindPLC(missing) = non-nil, want nil")
	}
}

// TestAddTagIdempotentAndMove is property P7's tag half, plus the
// move-on-faster-period behavior of spec §4.6.
func TestAddTagIdempotentAndMove(t *testing.T) {
	reg := NewRegistry(time.Second)
	plc := reg.DefinePLC("line1", "10.0.0.1", 0, time.Second, 0)

	tag1, err := reg.AddTag(plc, time.Second, "Tag1", 1)
	if err != nil {
		t.Fatalf("AddTag: %v", err)
	}
	tag1b, err := reg.AddTag(plc, time.Second, "Tag1", 1)
	if err != nil {
		t.Fatalf("AddTag (repeat): %v", err)
	}
	if tag1 != tag1b {
		t.Fatal("AddTag with the same (tag, elements, period) twice returned different handles")
	}

	// Requesting a faster period moves the tag to a new list.
	tag1c, err := reg.AddTag(plc, 500*time.Millisecond, "Tag1", 1)
	if err != nil {
		t.Fatalf("AddTag (faster period): %v", err)
	}
	if tag1c != tag1 {
		t.Fatal("moving a tag to a faster scan list changed its handle")
	}

	plc.mu.Lock()
	oldList := plc.scanLists[time.Second]
	newList := plc.scanLists[500*time.Millisecond]
	oldHas := oldList.indexOf("Tag1") >= 0
	newHas := newList.indexOf("Tag1") >= 0
	plc.mu.Unlock()
	if oldHas {
		t.Error("Tag1 still present on the slower (1s) list after moving to 500ms")
	}
	if !newHas {
		t.Error("Tag1 not present on the faster (500ms) list after the move")
	}

	// Requesting a slower period than the tag's current list does not
	// move it, but does maximize elements in place.
	tag1d, err := reg.AddTag(plc, 2*time.Second, "Tag1", 5)
	if err != nil {
		t.Fatalf("AddTag (slower period): %v", err)
	}
	if tag1d != tag1 {
		t.Fatal("requesting a slower period returned a different handle")
	}
	if tag1d.Elements != 5 {
		t.Errorf("Elements = %d, want 5 (maximized)", tag1d.Elements)
	}
	plc.mu.Lock()
	stillOnFastList := newList.indexOf("Tag1") >= 0
	plc.mu.Unlock()
	if !stillOnFastList {
		t.Error("a slower period request moved the tag off its faster list")
	}
}

func TestAddTagRejectsMalformedSymbolic(t *testing.T) {
	reg := NewRegistry(time.Second)
	plc := reg.DefinePLC("line1", "10.0.0.1", 0, time.Second, 0)

	if _, err := reg.AddTag(plc, time.Second, "", 1); err == nil {
		t.Error("AddTag with an empty symbolic: want error, got nil")
	}
	if _, err := reg.AddTag(plc, 0, "Tag1", 1); err == nil {
		t.Error("AddTag with a zero period: want error, got nil")
	}
}

func TestResetStatistics(t *testing.T) {
	reg := NewRegistry(time.Second)
	plc := reg.DefinePLC("line1", "10.0.0.1", 0, time.Second, 0)
	if _, err := reg.AddTag(plc, time.Second, "Tag1", 1); err != nil {
		t.Fatalf("AddTag: %v", err)
	}

	plc.mu.Lock()
	plc.ErrorCount = 7
	plc.SlowScanCount = 3
	plc.scanLists[time.Second].ErrorCount = 2
	plc.mu.Unlock()

	reg.ResetStatistics()

	plc.mu.Lock()
	defer plc.mu.Unlock()
	if plc.ErrorCount != 0 || plc.SlowScanCount != 0 {
		t.Errorf("counters after ResetStatistics = %d/%d, want 0/0", plc.ErrorCount, plc.SlowScanCount)
	}
	if plc.scanLists[time.Second].ErrorCount != 0 {
		t.Error("scan list error count not reset")
	}
}
