package fbgemm

import (
	"testing"
)

func TestMallocFree(t *testing.T) {
	sizes := []int{64, 1024, 1024 * 1024, 3}
	for _, size := range sizes {
		ptr, err := Malloc(size)
		if err != nil {
			t.Fatalf("Malloc(%d) failed: %v", size, err)
		}
		if ptr.Size() != size {
			t.Errorf("Malloc(%d) reports size %d", size, ptr.Size())
		}
		if err := Free(ptr); err != nil {
			t.Errorf("Free failed: %v", err)
		}
	}
}

func TestMallocInvalidSize(t *testing.T) {
	if _, err := Malloc(0); !IsInvalidArgError(err) {
		t.Errorf("Malloc(0) should be rejected, got %v", err)
	}
	if _, err := Malloc(-8); !IsInvalidArgError(err) {
		t.Errorf("Malloc(-8) should be rejected, got %v", err)
	}
}

func TestDoubleFree(t *testing.T) {
	ptr := MallocOrFail(t, 256)
	if err := Free(ptr); err != nil {
		t.Fatalf("First free failed: %v", err)
	}
	if err := Free(ptr); err != ErrDoubleFree {
		t.Errorf("Second free returned %v, want ErrDoubleFree", err)
	}
}

func TestDevicePtrViews(t *testing.T) {
	ptr := MallocOrFail(t, 64)
	defer Free(ptr)

	f := ptr.Float32()
	if len(f) != 16 {
		t.Fatalf("Float32 view has %d elements, want 16", len(f))
	}
	f[0] = 3.5
	f[15] = -1

	// Views alias the same storage
	raw := ptr.Byte()
	if len(raw) != 64 {
		t.Fatalf("Byte view has %d elements, want 64", len(raw))
	}
	i := ptr.Int32()
	if i[0] == 0 {
		t.Error("Float32 write not visible through the Int32 view")
	}

	if got := ptr.Float32()[15]; got != -1 {
		t.Errorf("Element 15 = %g, want -1", got)
	}
}

func TestDevicePtrOffset(t *testing.T) {
	ptr := MallocOrFail(t, 64)
	defer Free(ptr)

	base := ptr.Float32()
	for i := range base {
		base[i] = float32(i)
	}

	off := ptr.Offset(16)
	if off.Size() != 48 {
		t.Errorf("Offset view is %d bytes, want 48", off.Size())
	}
	view := off.Float32()
	if view[0] != 4 {
		t.Errorf("Offset view starts at %g, want 4", view[0])
	}
}

func TestMemcpyRoundTrip(t *testing.T) {
	src := []float32{1, 2, 3, 4}
	dev := MallocOrFail(t, 16)
	defer Free(dev)

	if err := Memcpy(dev, src, 16, MemcpyHostToDevice); err != nil {
		t.Fatalf("H2D copy failed: %v", err)
	}

	dev2 := MallocOrFail(t, 16)
	defer Free(dev2)
	if err := Memcpy(dev2, dev, 16, MemcpyDeviceToDevice); err != nil {
		t.Fatalf("D2D copy failed: %v", err)
	}

	dst := make([]float32, 4)
	if err := Memcpy(dst, dev2, 16, MemcpyDeviceToHost); err != nil {
		t.Fatalf("D2H copy failed: %v", err)
	}

	for i := range src {
		if dst[i] != src[i] {
			t.Errorf("Element %d = %g, want %g", i, dst[i], src[i])
		}
	}
}

func TestMemcpyRejectsUnsupportedTypes(t *testing.T) {
	dev := MallocOrFail(t, 16)
	defer Free(dev)

	if err := Memcpy(dev, "not a buffer", 8, MemcpyDefault); !IsInvalidArgError(err) {
		t.Errorf("String source should be rejected, got %v", err)
	}
	if err := Memcpy(42, dev, 8, MemcpyDefault); !IsInvalidArgError(err) {
		t.Errorf("Integer destination should be rejected, got %v", err)
	}
}

func TestMemoryPoolReuseAndStats(t *testing.T) {
	pool := NewMemoryPool()

	ptr1, err := pool.Allocate(1024)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	allocated, peak := pool.GetStats()
	if allocated != 1024 || peak != 1024 {
		t.Errorf("Stats after one allocation: allocated=%d peak=%d, want 1024/1024", allocated, peak)
	}

	if err := pool.Free(ptr1); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	allocated, peak = pool.GetStats()
	if allocated != 0 || peak != 1024 {
		t.Errorf("Stats after free: allocated=%d peak=%d, want 0/1024", allocated, peak)
	}

	// A smaller request must reuse the freed block
	ptr2, err := pool.Allocate(512)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if ptr2.ptr != ptr1.ptr {
		t.Error("Pool allocated fresh memory instead of reusing the free list")
	}
	if err := pool.Free(ptr2); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
}
