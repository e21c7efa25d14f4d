package cip

import "testing"

func TestCalcTickTimeS3(t *testing.T) {
	tickPower, ticks, ok := CalcTickTime(DefaultTickBudgetMillis)
	if !ok {
		t.Fatal("CalcTickTime(245760): ok = false")
	}
	if ticks > 255 {
		t.Fatalf("ticks = %d, exceeds 255", ticks)
	}
	got := uint32(1<<tickPower) * uint32(ticks)
	if got > DefaultTickBudgetMillis {
		t.Errorf("(1<<tickPower)*ticks = %d, exceeds budget %d", got, DefaultTickBudgetMillis)
	}
	// the budget must be representable to within one tick unit
	if DefaultTickBudgetMillis-got >= (1 << tickPower) {
		t.Errorf("tick time too coarse: budget=%d, got=%d, unit=%d", DefaultTickBudgetMillis, got, 1<<tickPower)
	}
}

func TestCalcTickTimeOutOfRange(t *testing.T) {
	if _, _, ok := CalcTickTime(maxTickBudgetMillis + 1); ok {
		t.Error("CalcTickTime over the max budget: ok = true, want false")
	}
}

func TestCalcTickTimeSmallValues(t *testing.T) {
	tests := []uint32{0, 1, 254, 255, 256, 1000}
	for _, millis := range tests {
		tickPower, ticks, ok := CalcTickTime(millis)
		if !ok {
			t.Fatalf("CalcTickTime(%d): ok = false", millis)
		}
		got := uint32(1<<tickPower) * uint32(ticks)
		if got > millis {
			// tick time can only round down towards finer granularity at tickPower=0
			if tickPower != 0 {
				t.Errorf("CalcTickTime(%d) = (%d,%d): product %d exceeds input", millis, tickPower, ticks, got)
			}
		}
	}
}

func TestBuildUnconnectedSendS3(t *testing.T) {
	inner := make([]byte, 12)
	packed, err := BuildUnconnectedSend(inner, 0, 0)
	if err != nil {
		t.Fatalf("BuildUnconnectedSend: %v", err)
	}
	if packed[0] != byte(SvcUnconnectedSend) {
		t.Fatalf("service = %#x, want %#x", packed[0], SvcUnconnectedSend)
	}
	// trailing 6 bytes are the route path: 01 00 20 02 24 01
	wantRoute := []byte{0x01, 0x00, 0x20, 0x02, 0x24, 0x01}
	gotRoute := packed[len(packed)-6:]
	if string(gotRoute) != string(wantRoute) {
		t.Errorf("route path = % X, want % X", gotRoute, wantRoute)
	}
}

func TestBuildRoutedPathSlot(t *testing.T) {
	got := BuildRoutedPath(3)
	want := []byte{0x01, 0x03, 0x20, 0x02, 0x24, 0x01}
	if string(got) != string(want) {
		t.Errorf("BuildRoutedPath(3) = % X, want % X", got, want)
	}
}

func TestBuildUnconnectedSendOddInnerPadded(t *testing.T) {
	inner := []byte{0x01, 0x02, 0x03} // odd length
	packed, err := BuildUnconnectedSend(inner, 0, 0)
	if err != nil {
		t.Fatalf("BuildUnconnectedSend: %v", err)
	}
	// message_size field should report the unpadded length (3), but the
	// frame itself must be internally consistent with a padded inner copy.
	// Locate the u16 message_size just after the priority/tick bytes: the
	// path starts at offset 2 (after service+pathlen) and is 4 bytes
	// (class/instance), so data starts at 2+pathLen.
	pathLen := int(packed[1]) * 2
	dataStart := 2 + pathLen
	msgSize := uint16(packed[dataStart+2]) | uint16(packed[dataStart+3])<<8
	if msgSize != uint16(len(inner)) {
		t.Errorf("message_size = %d, want %d", msgSize, len(inner))
	}
}
