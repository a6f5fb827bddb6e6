package textutil

import "testing"

func TestHexRoundTrip(t *testing.T) {
	cases := []string{"7F2278", "0A", ""}
	for _, s := range cases {
		b, err := HexToBytes(s)
		if err != nil {
			t.Fatalf("HexToBytes(%q): %v", s, err)
		}
		if got := BytesToHex(b); got != s {
			t.Fatalf("round trip mismatch: %q -> %q", s, got)
		}
	}
}

func TestHexToBytesPrefix(t *testing.T) {
	b, err := HexToBytes("0x1A2B")
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 2 || b[0] != 0x1A || b[1] != 0x2B {
		t.Fatalf("unexpected decode: %v", b)
	}
}

func TestHexToBytesOddLength(t *testing.T) {
	if _, err := HexToBytes("ABC"); err == nil {
		t.Fatal("expected error for odd-length hex string")
	}
}

func TestParseDurationMillis(t *testing.T) {
	cases := map[string]int64{
		"500ms": 500,
		"2s":    2000,
		"3m":    180000,
		"1h":    3600000,
	}
	for in, want := range cases {
		got, ok := ParseDurationMillis(in)
		if !ok || got != want {
			t.Fatalf("ParseDurationMillis(%q) = %d, %v; want %d", in, got, ok, want)
		}
	}
}

func TestParseDurationMillisUnknownUnit(t *testing.T) {
	if _, ok := ParseDurationMillis("10x"); ok {
		t.Fatal("expected unknown unit to fail")
	}
}

func TestCompareExpectValueWildcard(t *testing.T) {
	if !CompareExpectValue("62f186*", []byte{0x62, 0xF1, 0x86, 0x01}) {
		t.Fatal("expected wildcard match")
	}
	if !CompareExpectValue("7101ff00*", []byte{0x71, 0x01, 0xFF, 0x00}) {
		t.Fatal("expected exact-then-wildcard match on exact-length data")
	}
}

func TestCompareExpectValueExactMismatch(t *testing.T) {
	if CompareExpectValue("62F186", []byte{0x62, 0xF1, 0x87}) {
		t.Fatal("expected mismatch")
	}
}

func TestCompareExpectValueMonotoneInWildcard(t *testing.T) {
	data := []byte{0x71, 0x01}
	pattern := "71*"
	if !CompareExpectValue(pattern, data) {
		t.Fatal("base case should match")
	}
	extended := append(append([]byte{}, data...), 0xAB, 0xCD)
	if !CompareExpectValue(pattern, extended) {
		t.Fatal("wildcard match should remain true when data grows")
	}
}
