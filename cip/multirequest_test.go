package cip

import "testing"

// TestMultiRequestLayout exercises spec property P3: after building N
// items of sizes s_i in order, every offset satisfies
// offset[i] = 2*(N+1) + sum(s_j for j<i), and the total byte size equals
// MultiRequestSize(N, sum(s_i)).
func TestMultiRequestLayout(t *testing.T) {
	items := [][]byte{
		make([]byte, 10),
		make([]byte, 20),
		make([]byte, 7),
	}
	packed, err := BuildMultiRequest(items)
	if err != nil {
		t.Fatalf("BuildMultiRequest: %v", err)
	}

	n := len(items)
	total := 0
	for _, it := range items {
		total += len(it)
	}
	wantSize := MultiRequestSize(n, total)
	if len(packed) != wantSize {
		t.Fatalf("packed size = %d, want %d", len(packed), wantSize)
	}

	count := uint16(packed[0]) | uint16(packed[1])<<8
	if int(count) != n {
		t.Fatalf("count = %d, want %d", count, n)
	}

	wantOffsets := make([]int, n)
	wantOffsets[0] = 2 * (n + 1)
	for i := 0; i < n-1; i++ {
		wantOffsets[i+1] = wantOffsets[i] + len(items[i])
	}

	for i := 0; i < n; i++ {
		o := 2 + i*2
		got := int(uint16(packed[o]) | uint16(packed[o+1])<<8)
		if got != wantOffsets[i] {
			t.Errorf("offset[%d] = %d, want %d", i, got, wantOffsets[i])
		}
	}
}

func TestMultiRequestRoundTrip(t *testing.T) {
	items := [][]byte{
		{0x01, 0x02, 0x03},
		{0xAA, 0xBB},
		{0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	}
	packed, err := BuildMultiRequest(items)
	if err != nil {
		t.Fatalf("BuildMultiRequest: %v", err)
	}
	parsed, err := ParseMultiResponse(packed)
	if err != nil {
		t.Fatalf("ParseMultiResponse: %v", err)
	}
	if len(parsed) != len(items) {
		t.Fatalf("parsed %d items, want %d", len(parsed), len(items))
	}
	for i := range items {
		if string(parsed[i]) != string(items[i]) {
			t.Errorf("item %d = % X, want % X", i, parsed[i], items[i])
		}
	}
}

func TestBuildMultiRequestEmpty(t *testing.T) {
	if _, err := BuildMultiRequest(nil); err == nil {
		t.Error("BuildMultiRequest(nil): want error, got nil")
	}
}

func TestBuildMultiRequestTooMany(t *testing.T) {
	items := make([][]byte, MaxMultiRequestItems+1)
	for i := range items {
		items[i] = []byte{0x00}
	}
	if _, err := BuildMultiRequest(items); err == nil {
		t.Error("BuildMultiRequest over the item cap: want error, got nil")
	}
}

func TestParseMultiResponseInconsistentOffsets(t *testing.T) {
	// count=2, offsets deliberately descending (invalid)
	raw := []byte{0x02, 0x00, 0x06, 0x00, 0x02, 0x00, 0xAA, 0xBB, 0xCC}
	if _, err := ParseMultiResponse(raw); err == nil {
		t.Error("ParseMultiResponse with inconsistent offsets: want error, got nil")
	}
}

// TestDetermineCountS4 exercises spec property P4 and scenario S4: with
// limit=80 and three tags whose sizes are all 30, the worker packs
// exactly 2 tags in the first transfer.
func TestDetermineCountS4(t *testing.T) {
	sizes := []int{30, 30, 30}
	got := DetermineCount(80, sizes, sizes)
	if got != 2 {
		t.Errorf("DetermineCount(80, [30,30,30]) = %d, want 2", got)
	}
}

func TestDetermineCountOptimality(t *testing.T) {
	// With all sizes equal to 10, packed size(k) = 2*(k+1) + 10*k = 12k+2.
	tests := []struct {
		limit int
		sizes []int
		want  int
	}{
		{100, []int{10, 10, 10, 10, 10, 10, 10, 10, 10, 10}, 8}, // 12*8+2=98<=100, 12*9+2=110>100
		{10, []int{20}, 0},                                      // none fit
		{50, []int{10, 10, 10, 10, 10}, 4},                      // 12*4+2=50<=50, 12*5+2=62>50
		{49, []int{10, 10, 10, 10, 10}, 3},                      // 12*3+2=38<=49, 12*4+2=50>49
	}
	for _, tt := range tests {
		got := DetermineCount(tt.limit, tt.sizes, tt.sizes)
		if got != tt.want {
			t.Errorf("DetermineCount(%d, %v) = %d, want %d", tt.limit, tt.sizes, got, tt.want)
			continue
		}
		// Property: increasing k by one (if possible) always exceeds the limit.
		if got < len(tt.sizes) {
			total := 0
			for i := 0; i <= got; i++ {
				total += tt.sizes[i]
			}
			if MultiRequestSize(got+1, total) <= tt.limit {
				t.Errorf("DetermineCount(%d, %v) = %d, but k+1 still fits", tt.limit, tt.sizes, got)
			}
		}
	}
}
