package fbgemm

import (
	"math/rand"
	"sort"
	"testing"
)

// NewTensorOrFail allocates a tensor and fails the test if unsuccessful
func NewTensorOrFail(t testing.TB, dtype DType, rows, cols int) *Tensor {
	t.Helper()
	ten, err := NewTensor(dtype, rows, cols)
	if err != nil {
		t.Fatalf("Failed to allocate %s tensor %dx%d: %v", dtype, rows, cols, err)
	}
	return ten
}

// RandomBF16Tensor fills a fresh bf16 tensor with values in [-1, 1)
func RandomBF16Tensor(t testing.TB, rng *rand.Rand, rows, cols int) *Tensor {
	t.Helper()
	ten := NewTensorOrFail(t, DTypeBFloat16, rows, cols)
	s := ten.Data().BFloat16()
	for i := 0; i < rows*cols; i++ {
		s.SetFloat32(i, rng.Float32()*2-1)
	}
	return ten
}

// RandomMOffsets builds a sorted int32 offsets vector of length g whose
// final entry is exactly m, matching the grouped GEMM contract
func RandomMOffsets(t testing.TB, rng *rand.Rand, g, m int) *Tensor {
	t.Helper()
	offs := make([]int32, g)
	for i := range offs {
		offs[i] = int32(rng.Intn(m + 1))
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	offs[g-1] = int32(m)

	ten := NewTensorOrFail(t, DTypeInt32, g, 1)
	copy(ten.Data().Int32()[:g], offs)
	return ten
}

// MallocOrFail allocates device memory and fails the test if unsuccessful
func MallocOrFail(t testing.TB, size int) DevicePtr {
	t.Helper()
	ptr, err := Malloc(size)
	if err != nil {
		t.Fatalf("Failed to allocate %d bytes: %v", size, err)
	}
	return ptr
}
