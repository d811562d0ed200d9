package types

import (
	"math"

	"github.com/x448/float16"
)

// Codec converts between the float32 API boundary and a storage element
// precision. One codec instance exists per supported Datatype; storages are
// instantiated with the codec matching their element type.
type Codec[T any] struct {
	// Datatype names the precision this codec implements.
	Datatype Datatype
	// FromFloat32 narrows an API value to the storage element.
	FromFloat32 func(float32) T
	// ToFloat32 widens a storage element back to the API value.
	ToFloat32 func(T) float32
}

// Encode narrows src into dst. dst must have len(src) capacity.
func (c Codec[T]) Encode(src []float32, dst []T) {
	for i, v := range src {
		dst[i] = c.FromFloat32(v)
	}
}

// Decode widens src into dst. dst must have len(src) capacity.
func (c Codec[T]) Decode(src []T, dst []float32) {
	for i, v := range src {
		dst[i] = c.ToFloat32(v)
	}
}

// DecodeSlice widens src into a fresh float32 slice.
func (c Codec[T]) DecodeSlice(src []T) []float32 {
	dst := make([]float32, len(src))
	c.Decode(src, dst)
	return dst
}

// Float32Codec is the identity codec for f32 storages.
var Float32Codec = Codec[float32]{
	Datatype:    DatatypeFloat32,
	FromFloat32: func(v float32) float32 { return v },
	ToFloat32:   func(v float32) float32 { return v },
}

// Float16Codec narrows to IEEE 754 half precision.
var Float16Codec = Codec[float16.Float16]{
	Datatype:    DatatypeFloat16,
	FromFloat32: float16.Fromfloat32,
	ToFloat32:   func(v float16.Float16) float32 { return v.Float32() },
}

// Uint8Codec narrows to a byte, rounding and clamping to [0, 255].
var Uint8Codec = Codec[uint8]{
	Datatype: DatatypeUint8,
	FromFloat32: func(v float32) uint8 {
		r := math.Round(float64(v))
		if r < 0 {
			return 0
		}
		if r > 255 {
			return 255
		}
		return uint8(r)
	},
	ToFloat32: func(v uint8) float32 { return float32(v) },
}
