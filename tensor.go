package fbgemm

import (
	"fmt"
)

// DType identifies the element type of tensor storage.
type DType int

const (
	DTypeFloat32 DType = iota
	DTypeBFloat16
	DTypeFloat8E4M3
	DTypeInt32
)

// Size returns the element size in bytes
func (d DType) Size() int {
	switch d {
	case DTypeFloat32, DTypeInt32:
		return 4
	case DTypeBFloat16:
		return 2
	case DTypeFloat8E4M3:
		return 1
	default:
		return 0
	}
}

// String returns the dtype name
func (d DType) String() string {
	switch d {
	case DTypeFloat32:
		return "float32"
	case DTypeBFloat16:
		return "bfloat16"
	case DTypeFloat8E4M3:
		return "float8_e4m3"
	case DTypeInt32:
		return "int32"
	default:
		return "unknown"
	}
}

// Tensor is a row-major 2D view over device memory. A vector is an Nx1
// tensor. The grouped GEMM entry points require contiguous tensors; strided
// views exist so callers can detect and reject padded storage rather than
// silently miscompute over it.
type Tensor struct {
	data   DevicePtr
	dtype  DType
	rows   int
	cols   int
	stride int // leading dimension in elements
}

// NewTensor allocates a contiguous rows x cols tensor on the device.
func NewTensor(dtype DType, rows, cols int) (*Tensor, error) {
	if rows <= 0 || cols <= 0 {
		return nil, NewInvalidArgError("NewTensor",
			fmt.Sprintf("dimensions must be positive, got %dx%d", rows, cols))
	}
	if dtype.Size() == 0 {
		return nil, NewInvalidArgError("NewTensor", "unknown dtype")
	}

	data, err := Malloc(rows * cols * dtype.Size())
	if err != nil {
		return nil, err
	}

	return &Tensor{
		data:   data,
		dtype:  dtype,
		rows:   rows,
		cols:   cols,
		stride: cols,
	}, nil
}

// NewTensorStrided wraps existing device memory with an explicit leading
// dimension. stride must be at least cols; a stride larger than cols yields
// a non-contiguous view.
func NewTensorStrided(dtype DType, rows, cols, stride int, data DevicePtr) (*Tensor, error) {
	if rows <= 0 || cols <= 0 {
		return nil, NewInvalidArgError("NewTensorStrided",
			fmt.Sprintf("dimensions must be positive, got %dx%d", rows, cols))
	}
	if stride < cols {
		return nil, NewInvalidArgError("NewTensorStrided", "stride must be >= cols")
	}
	if data.Size() < rows*stride*dtype.Size() {
		return nil, NewInvalidArgError("NewTensorStrided", "backing memory too small")
	}

	return &Tensor{
		data:   data,
		dtype:  dtype,
		rows:   rows,
		cols:   cols,
		stride: stride,
	}, nil
}

// Rows returns the number of rows
func (t *Tensor) Rows() int { return t.rows }

// Cols returns the number of columns
func (t *Tensor) Cols() int { return t.cols }

// Stride returns the leading dimension in elements
func (t *Tensor) Stride() int { return t.stride }

// DType returns the element type
func (t *Tensor) DType() DType { return t.dtype }

// Data returns the backing device memory
func (t *Tensor) Data() DevicePtr { return t.data }

// IsContiguous reports whether rows are packed with no padding between them
func (t *Tensor) IsContiguous() bool { return t.stride == t.cols }

// NumElements returns rows * cols
func (t *Tensor) NumElements() int { return t.rows * t.cols }

// Free returns the tensor's memory to the pool
func (t *Tensor) Free() error { return Free(t.data) }
