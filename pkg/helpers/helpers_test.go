package helpers

import (
	"testing"
)

func TestCompareBytes(t *testing.T) {
	tests := []struct {
		name string
		a    []byte
		b    []byte
		want int
	}{
		{"equal", []byte{1, 2, 3}, []byte{1, 2, 3}, 0},
		{"a less", []byte{1, 2, 3}, []byte{1, 2, 4}, -1},
		{"a greater", []byte{1, 2, 4}, []byte{1, 2, 3}, 1},
		{"a shorter", []byte{1, 2}, []byte{1, 2, 3}, -1},
		{"a longer", []byte{1, 2, 3}, []byte{1, 2}, 1},
		{"empty equal", []byte{}, []byte{}, 0},
		{"a empty", []byte{}, []byte{1}, -1},
		{"b empty", []byte{1}, []byte{}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompareBytes(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("CompareBytes = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBytesEqual(t *testing.T) {
	tests := []struct {
		name string
		a    []byte
		b    []byte
		want bool
	}{
		{"equal", []byte{1, 2, 3}, []byte{1, 2, 3}, true},
		{"not equal", []byte{1, 2, 3}, []byte{1, 2, 4}, false},
		{"different length", []byte{1, 2}, []byte{1, 2, 3}, false},
		{"empty equal", []byte{}, []byte{}, true},
		{"nil equal", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BytesEqual(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("BytesEqual = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsZeroBytes(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
		want bool
	}{
		{"all zeros", []byte{0, 0, 0}, true},
		{"has non-zero", []byte{0, 1, 0}, false},
		{"empty", []byte{}, true},
		{"single zero", []byte{0}, true},
		{"single non-zero", []byte{1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsZeroBytes(tt.b)
			if got != tt.want {
				t.Errorf("IsZeroBytes = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHexToBytesRoundtrip(t *testing.T) {
	tests := []string{"0x", "0x00", "0xdeadbeef", "deadbeef"}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			b, err := HexToBytes(in)
			if err != nil {
				t.Fatalf("HexToBytes(%s) failed: %v", in, err)
			}
			back := BytesToHex(b)
			b2, err := HexToBytes(back)
			if err != nil {
				t.Fatalf("HexToBytes(%s) failed: %v", back, err)
			}
			if !BytesEqual(b, b2) {
				t.Errorf("roundtrip mismatch: %x != %x", b, b2)
			}
		})
	}
}

func TestPadLeftRight(t *testing.T) {
	b := []byte{1, 2}
	if got := PadLeft(b, 4); !BytesEqual(got, []byte{0, 0, 1, 2}) {
		t.Errorf("PadLeft = %x", got)
	}
	if got := PadRight(b, 4); !BytesEqual(got, []byte{1, 2, 0, 0}) {
		t.Errorf("PadRight = %x", got)
	}
	if got := PadLeft(b, 1); !BytesEqual(got, b) {
		t.Errorf("PadLeft with length < len(b) should return b unchanged, got %x", got)
	}
}
