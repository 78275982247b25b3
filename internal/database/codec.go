package database

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Vector wire layout, little-endian:
//
//	[4]byte magic "FV01"
//	uint32  element count n
//	n × float64 (IEEE-754)
var vectorMagic = [4]byte{'F', 'V', '0', '1'}

const vectorHeaderSize = 8

// maxVectorLen bounds decoding of untrusted lengths.
const maxVectorLen = 1 << 16

// EncodeVector serializes v in the portable vector layout.
func EncodeVector(v Vector) ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if len(v) > maxVectorLen {
		return nil, fmt.Errorf("%w: vector length %d exceeds %d", ErrInvalidRecord, len(v), maxVectorLen)
	}
	buf := make([]byte, vectorHeaderSize+8*len(v))
	copy(buf[:4], vectorMagic[:])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(v)))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[vectorHeaderSize+8*i:], math.Float64bits(x))
	}
	return buf, nil
}

// DecodeVector parses bytes produced by EncodeVector. Any structural problem
// is reported as ErrCorruptEmbedding.
func DecodeVector(data []byte) (Vector, error) {
	if len(data) < vectorHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptEmbedding, len(data))
	}
	if !bytes.Equal(data[:4], vectorMagic[:]) {
		return nil, fmt.Errorf("%w: unknown header %q", ErrCorruptEmbedding, data[:4])
	}
	n := binary.LittleEndian.Uint32(data[4:8])
	if n == 0 || n > maxVectorLen {
		return nil, fmt.Errorf("%w: invalid length %d", ErrCorruptEmbedding, n)
	}
	if want := vectorHeaderSize + 8*int(n); len(data) != want {
		return nil, fmt.Errorf("%w: expected %d bytes for %d values, got %d", ErrCorruptEmbedding, want, n, len(data))
	}
	v := make(Vector, n)
	for i := range v {
		x := math.Float64frombits(binary.LittleEndian.Uint64(data[vectorHeaderSize+8*i:]))
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: non-finite value at position %d", ErrCorruptEmbedding, i)
		}
		v[i] = x
	}
	return v, nil
}
