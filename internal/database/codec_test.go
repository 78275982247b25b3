package database

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestEncodeVector_Layout(t *testing.T) {
	data, err := EncodeVector(Vector{1.5, -2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(data) != 8+16 {
		t.Fatalf("expected 24 bytes, got %d", len(data))
	}
	if string(data[:4]) != "FV01" {
		t.Errorf("expected magic FV01, got %q", data[:4])
	}
	if n := binary.LittleEndian.Uint32(data[4:8]); n != 2 {
		t.Errorf("expected length prefix 2, got %d", n)
	}
	if x := math.Float64frombits(binary.LittleEndian.Uint64(data[8:16])); x != 1.5 {
		t.Errorf("expected first value 1.5, got %v", x)
	}
}

func TestDecodeVector_Exact(t *testing.T) {
	in := Vector{0.1, 0.2, 0.30000000000000004, -1e-300}
	data, err := EncodeVector(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := DecodeVector(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("position %d: %v != %v", i, in[i], out[i])
		}
	}
}

func TestDecodeVector_Corrupt(t *testing.T) {
	good, _ := EncodeVector(Vector{1, 2})

	nan := append([]byte(nil), good...)
	binary.LittleEndian.PutUint64(nan[8:], math.Float64bits(math.NaN()))

	zeroLen := append([]byte(nil), good[:8]...)
	binary.LittleEndian.PutUint32(zeroLen[4:8], 0)

	hugeLen := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(hugeLen[4:8], math.MaxUint32)

	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"short header", []byte("FV0")},
		{"bad magic", append([]byte("XX01"), good[4:]...)},
		{"truncated", good[:len(good)-1]},
		{"trailing bytes", append(append([]byte(nil), good...), 0)},
		{"zero length", zeroLen},
		{"huge length", hugeLen},
		{"nan value", nan},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeVector(tc.data)
			if !errors.Is(err, ErrCorruptEmbedding) {
				t.Errorf("expected ErrCorruptEmbedding, got %v", err)
			}
		})
	}
}

func TestEncodeVector_RejectsInvalid(t *testing.T) {
	if _, err := EncodeVector(nil); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord for empty vector, got %v", err)
	}
	if _, err := EncodeVector(Vector{math.Inf(-1)}); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord for inf, got %v", err)
	}
}
