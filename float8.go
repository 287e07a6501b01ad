package fbgemm

import (
	"math"
)

// Float8 represents an 8-bit floating point number in the E4M3 format used
// by row-wise quantized GEMM inputs: 1 sign bit, 4 exponent bits (bias 7),
// 3 mantissa bits. The format has no infinities; the all-ones pattern in
// exponent and mantissa encodes NaN and the largest finite value is 448.
type Float8 uint8

// Float8 format constants
const (
	float8ExponentBias = 7
	float8MantissaBits = 3
	float8NaNBits      = 0x7F
	float8MaxBits      = 0x7E

	// Float8Max is the largest finite E4M3 value (1.75 * 2^8)
	Float8Max = 448.0
)

// float8Table holds float32 values for all 256 bit patterns. Loads on the
// quantized kernel path decode through this table.
var float8Table [256]float32

func init() {
	for i := 0; i < 256; i++ {
		float8Table[i] = decodeFloat8(uint8(i))
	}
}

// decodeFloat8 expands one E4M3 bit pattern to float32
func decodeFloat8(b uint8) float32 {
	sign := float64(1)
	if b&0x80 != 0 {
		sign = -1
	}
	exponent := (b >> float8MantissaBits) & 0xF
	mantissa := b & 0x7

	if exponent == 0xF && mantissa == 0x7 {
		return float32(math.NaN())
	}
	if exponent == 0 {
		// Subnormal: mantissa counts units of 2^-9
		return float32(sign * math.Ldexp(float64(mantissa), -9))
	}
	return float32(sign * math.Ldexp(1+float64(mantissa)/8, int(exponent)-float8ExponentBias))
}

// ToFloat8 converts float32 to Float8 with round-to-nearest-even.
// Values beyond the finite range saturate at ±448; NaN and ±Inf map to NaN
// since E4M3 has no infinity encoding.
func ToFloat8(f float32) Float8 {
	bits := math.Float32bits(f)
	sign := uint8(bits >> 24 & 0x80)
	absBits := bits & 0x7FFFFFFF

	if absBits >= 0x7F800000 {
		return Float8(sign | float8NaNBits)
	}

	abs := float64(math.Float32frombits(absBits))
	if abs > Float8Max {
		return Float8(sign | float8MaxBits)
	}

	if abs < 0x1p-6 {
		// Subnormal range: round to units of 2^-9
		q := int(math.RoundToEven(math.Ldexp(abs, 9)))
		if q == 0 {
			return Float8(sign)
		}
		if q < 8 {
			return Float8(sign | uint8(q))
		}
		// Rounded up to the smallest normal
		return Float8(sign | 1<<float8MantissaBits)
	}

	exponent := int(absBits>>23) - 127
	q := int(math.RoundToEven(math.Ldexp(abs, float8MantissaBits-exponent)))
	if q == 16 {
		exponent++
		q = 8
	}
	return Float8(sign | uint8(exponent+float8ExponentBias)<<float8MantissaBits | uint8(q-8))
}

// ToFloat32 converts Float8 to float32
func (f Float8) ToFloat32() float32 {
	return float8Table[f]
}

// Float8Slice wraps a byte slice as Float8 values
type Float8Slice struct {
	data []byte
}

// NewFloat8Slice creates a Float8 slice from a byte slice
func NewFloat8Slice(data []byte) Float8Slice {
	return Float8Slice{data: data}
}

// Len returns the number of Float8 elements
func (s Float8Slice) Len() int {
	return len(s.data)
}

// Get returns the Float8 at index i
func (s Float8Slice) Get(i int) Float8 {
	return Float8(s.data[i])
}

// Set sets the Float8 at index i
func (s Float8Slice) Set(i int, val Float8) {
	s.data[i] = byte(val)
}

// GetFloat32 returns the value at index i as float32
func (s Float8Slice) GetFloat32(i int) float32 {
	return float8Table[s.data[i]]
}

// SetFloat32 sets the value at index i from float32
func (s Float8Slice) SetFloat32(i int, val float32) {
	s.data[i] = byte(ToFloat8(val))
}

// Float8 returns a Float8 slice view of the memory
func (d DevicePtr) Float8() Float8Slice {
	if d.ptr == nil {
		return Float8Slice{}
	}
	return NewFloat8Slice(d.Byte())
}

// QuantizeFP8Row quantizes a bf16 matrix row-wise to E4M3: each row is
// scaled by maxAbs(row)/448 and rounded, and the scales are returned as a
// float32 vector aligned with the row index so that x ≈ xq * scale[row].
// Rows are distributed across the device's multiprocessors.
func QuantizeFP8Row(t *Tensor) (*Tensor, *Tensor, error) {
	if t.DType() != DTypeBFloat16 {
		return nil, nil, NewInvalidArgError("QuantizeFP8Row", "input must be bf16")
	}
	if !t.IsContiguous() {
		return nil, nil, NewInvalidArgError("QuantizeFP8Row", "input must be contiguous")
	}

	rows, cols := t.Rows(), t.Cols()
	q, err := NewTensor(DTypeFloat8E4M3, rows, cols)
	if err != nil {
		return nil, nil, err
	}
	scale, err := NewTensor(DTypeFloat32, rows, 1)
	if err != nil {
		return nil, nil, err
	}

	src := t.Data().BFloat16()
	dst := q.Data().Float8()
	scales := scale.Data().Float32()

	ctx := defaultContext
	numSMs := ctx.device.NumSMs
	err = ctx.launchPersistent(ctx.defaultStream, numSMs, func(tidx int) {
		for row := tidx; row < rows; row += numSMs {
			base := row * cols
			maxAbs := float32(0)
			for j := 0; j < cols; j++ {
				v := src.GetFloat32(base + j)
				if v < 0 {
					v = -v
				}
				if v > maxAbs {
					maxAbs = v
				}
			}
			if maxAbs < 1e-12 {
				maxAbs = 1e-12
			}
			rowScale := maxAbs / Float8Max
			for j := 0; j < cols; j++ {
				dst.SetFloat32(base+j, src.GetFloat32(base+j)/rowScale)
			}
			scales[row] = rowScale
		}
	})
	if err != nil {
		return nil, nil, err
	}
	ctx.defaultStream.Synchronize()

	return q, scale, nil
}
