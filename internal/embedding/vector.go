package embedding

import (
	"encoding/binary"
	"math"
)

// =============================================================================
// VECTOR PACKING & SIMILARITY
// =============================================================================

// Pack serializes a float32 vector to little-endian bytes for BLOB
// storage. Unpack(Pack(v)) reproduces v exactly.
func Pack(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Unpack deserializes bytes produced by Pack. Trailing bytes that do
// not form a full float32 are ignored.
func Unpack(b []byte) []float32 {
	n := len(b) / 4
	v := make([]float32, n)
	for i := 0; i < n; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// Cosine computes cosine similarity in [-1, 1]. Length mismatch and
// zero-norm vectors yield 0 so ranking code never has to branch.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
