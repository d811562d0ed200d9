package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestSparseVector_Validate(t *testing.T) {
	// Given: a well-formed sparse vector
	sv := SparseVector{Indices: []uint32{1, 5, 9}, Values: []float32{0.1, 0.5, 0.9}}

	// Then: it validates
	require.NoError(t, sv.Validate())

	// When: lengths mismatch
	bad := SparseVector{Indices: []uint32{1, 2}, Values: []float32{1.0}}
	assert.Error(t, bad.Validate())

	// When: indices are unsorted
	bad = SparseVector{Indices: []uint32{5, 1}, Values: []float32{1, 2}}
	assert.Error(t, bad.Validate())

	// When: indices contain duplicates
	bad = SparseVector{Indices: []uint32{1, 1}, Values: []float32{1, 2}}
	assert.Error(t, bad.Validate())

	// And: the empty vector is valid
	assert.NoError(t, SparseVector{}.Validate())
}

func TestMultiDenseVector_Validate(t *testing.T) {
	// Given: two inner vectors of dimension 2
	mv := MultiDenseVector{Flattened: []float32{1, 2, 3, 4}, Dim: 2}
	require.NoError(t, mv.Validate())
	assert.Equal(t, 2, mv.Count())
	assert.Equal(t, []float32{3, 4}, mv.Inner(1))

	// When: the multivector is empty
	empty := MultiDenseVector{Dim: 2}
	assert.Error(t, empty.Validate())

	// When: the length is not a multiple of the dimension
	ragged := MultiDenseVector{Flattened: []float32{1, 2, 3}, Dim: 2}
	assert.Error(t, ragged.Validate())
}

func TestFloat32Codec_Identity(t *testing.T) {
	src := []float32{0, 0.5, 1, 2, 127, 255}
	enc := make([]float32, len(src))
	Float32Codec.Encode(src, enc)
	assert.Equal(t, src, Float32Codec.DecodeSlice(enc))
}

func TestFloat16Codec_RepresentableValues(t *testing.T) {
	// Powers of two and small integers survive the f16 round trip exactly.
	src := []float32{0, 0.5, 1, 2, 127}
	enc := make([]float16.Float16, len(src))
	Float16Codec.Encode(src, enc)
	assert.Equal(t, src, Float16Codec.DecodeSlice(enc))
}

func TestUint8Codec_Clamps(t *testing.T) {
	enc := make([]uint8, 4)
	Uint8Codec.Encode([]float32{-3, 0.4, 200, 300}, enc)
	assert.Equal(t, []uint8{0, 0, 200, 255}, enc)
	assert.Equal(t, []float32{0, 0, 200, 255}, Uint8Codec.DecodeSlice(enc))
}

func TestDefaultVectors(t *testing.T) {
	assert.Equal(t, DenseVector{1, 1, 1}, DefaultDenseVector(3))
	assert.Empty(t, DefaultSparseVector().Indices)

	multi := DefaultMultiDenseVector(2)
	assert.Equal(t, 1, multi.Count())
	assert.Equal(t, []float32{1, 1}, multi.Inner(0))
}
