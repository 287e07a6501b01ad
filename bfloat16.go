package fbgemm

import (
	"math"
)

// BFloat16 represents a 16-bit brain floating point number
// Format: 1 sign bit, 8 exponent bits, 7 mantissa bits
type BFloat16 uint16

// ToBFloat16 converts float32 to BFloat16 with round-to-nearest-even.
// Kernel accumulators are cast through this before the descriptor store.
func ToBFloat16(f float32) BFloat16 {
	bits := math.Float32bits(f)

	// NaN must stay NaN after truncation
	if bits&0x7FFFFFFF > 0x7F800000 {
		return BFloat16(bits>>16 | 0x0040)
	}

	// Round to nearest even on the dropped 16 bits
	rounding := uint32(0x7FFF) + ((bits >> 16) & 1)
	return BFloat16((bits + rounding) >> 16)
}

// ToFloat32 converts BFloat16 to float32
func (b BFloat16) ToFloat32() float32 {
	// BFloat16 is the top 16 bits of float32
	return math.Float32frombits(uint32(b) << 16)
}

// BFloat16Slice wraps a byte slice as BFloat16 values
type BFloat16Slice struct {
	data []byte
}

// NewBFloat16Slice creates a BFloat16 slice from a byte slice
func NewBFloat16Slice(data []byte) BFloat16Slice {
	return BFloat16Slice{data: data}
}

// Len returns the number of BFloat16 elements
func (s BFloat16Slice) Len() int {
	return len(s.data) / 2
}

// Get returns the BFloat16 at index i
func (s BFloat16Slice) Get(i int) BFloat16 {
	return BFloat16(uint16(s.data[i*2]) | (uint16(s.data[i*2+1]) << 8))
}

// Set sets the BFloat16 at index i
func (s BFloat16Slice) Set(i int, val BFloat16) {
	s.data[i*2] = byte(val)
	s.data[i*2+1] = byte(val >> 8)
}

// GetFloat32 returns the value at index i as float32
func (s BFloat16Slice) GetFloat32(i int) float32 {
	return s.Get(i).ToFloat32()
}

// SetFloat32 sets the value at index i from float32
func (s BFloat16Slice) SetFloat32(i int, val float32) {
	s.Set(i, ToBFloat16(val))
}

// BFloat16 returns a BFloat16 slice view of the memory
func (d DevicePtr) BFloat16() BFloat16Slice {
	if d.ptr == nil {
		return BFloat16Slice{}
	}
	return NewBFloat16Slice(d.Byte())
}
