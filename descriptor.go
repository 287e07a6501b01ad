package fbgemm

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// tileDescriptor describes rectangular block transfers between a row-major
// matrix in global memory and a worker's private tile buffers: a base
// address, the global matrix shape bounding every transfer, and the fixed
// box (tile) shape moved per load or store.
//
// Descriptors for the A and B operands are built once per launch on the
// host, since their base and shape are launch invariants. The output
// descriptor changes with every group (its base address encodes the group's
// first row and its row bound is the group's row count), so each persistent
// worker re-encodes it into a private workspace slot at group entry and
// fences the slot before the first store through it.
type tileDescriptor struct {
	base       DevicePtr
	globalRows int
	globalCols int
	boxRows    int
	boxCols    int
	dtype      DType
}

// Workspace slot layout. The slot size matches the hardware descriptor
// footprint; the shape fields occupy the front and the fence word follows.
// The base pointer is never serialized into the slot: an integer round-trip
// would hide the allocation from the garbage collector, so the pointer rides
// beside the slot in a Go-visible field (deviceSlots.bases) and is handed
// back at decode.
const (
	descGlobalRowsOff = 0
	descGlobalColsOff = 4
	descBoxRowsOff    = 8
	descBoxColsOff    = 12
	descDTypeOff      = 16
	descFenceOff      = 20

	descriptorMagic = 0x544D4131 // "TMA1"
)

// makeTileDescriptor builds a descriptor for a globalRows x globalCols
// row-major matrix at base, transferring boxRows x boxCols tiles.
func makeTileDescriptor(base DevicePtr, globalRows, globalCols, boxRows, boxCols int, dtype DType) tileDescriptor {
	return tileDescriptor{
		base:       base,
		globalRows: globalRows,
		globalCols: globalCols,
		boxRows:    boxRows,
		boxCols:    boxCols,
		dtype:      dtype,
	}
}

// encodeTileDescriptor serializes d into a workspace slot. The slot is not
// valid for transfers until fenceDescriptorAcquire publishes it.
func encodeTileDescriptor(slot []byte, d tileDescriptor) {
	binary.LittleEndian.PutUint32(slot[descGlobalRowsOff:], uint32(d.globalRows))
	binary.LittleEndian.PutUint32(slot[descGlobalColsOff:], uint32(d.globalCols))
	binary.LittleEndian.PutUint32(slot[descBoxRowsOff:], uint32(d.boxRows))
	binary.LittleEndian.PutUint32(slot[descBoxColsOff:], uint32(d.boxCols))
	binary.LittleEndian.PutUint32(slot[descDTypeOff:], uint32(d.dtype))
}

// fenceDescriptorAcquire publishes a freshly encoded slot. The release store
// of the validity word orders the field writes before any transfer that
// observes the word, mirroring the hardware fence between descriptor
// creation and first use.
func fenceDescriptorAcquire(slot []byte) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&slot[descFenceOff])), descriptorMagic)
}

// decodeTileDescriptor reconstructs the descriptor from a fenced workspace
// slot and the live base pointer held beside it. The acquire load pairs with
// fenceDescriptorAcquire; reading a slot that was never fenced is a
// programming error.
func decodeTileDescriptor(slot []byte, base DevicePtr) tileDescriptor {
	if atomic.LoadUint32((*uint32)(unsafe.Pointer(&slot[descFenceOff]))) != descriptorMagic {
		panic("fbgemm: descriptor slot read before fence")
	}
	return tileDescriptor{
		base:       base,
		globalRows: int(binary.LittleEndian.Uint32(slot[descGlobalRowsOff:])),
		globalCols: int(binary.LittleEndian.Uint32(slot[descGlobalColsOff:])),
		boxRows:    int(binary.LittleEndian.Uint32(slot[descBoxRowsOff:])),
		boxCols:    int(binary.LittleEndian.Uint32(slot[descBoxColsOff:])),
		dtype:      DType(binary.LittleEndian.Uint32(slot[descDTypeOff:])),
	}
}

// loadTileFloat32 copies the boxRows x boxCols window whose top-left corner
// is (row, col) into dst, decoding elements to float32. Elements outside the
// global bounds are masked: they are never read and the corresponding dst
// lanes are zero-filled.
func (d *tileDescriptor) loadTileFloat32(row, col int, dst []float32) {
	switch d.dtype {
	case DTypeBFloat16:
		src := d.base.BFloat16()
		for i := 0; i < d.boxRows; i++ {
			r := row + i
			out := dst[i*d.boxCols : (i+1)*d.boxCols]
			if r < 0 || r >= d.globalRows {
				clearFloat32(out)
				continue
			}
			rowBase := r * d.globalCols
			for j := 0; j < d.boxCols; j++ {
				c := col + j
				if c < 0 || c >= d.globalCols {
					out[j] = 0
					continue
				}
				out[j] = src.GetFloat32(rowBase + c)
			}
		}
	case DTypeFloat8E4M3:
		src := d.base.Float8()
		for i := 0; i < d.boxRows; i++ {
			r := row + i
			out := dst[i*d.boxCols : (i+1)*d.boxCols]
			if r < 0 || r >= d.globalRows {
				clearFloat32(out)
				continue
			}
			rowBase := r * d.globalCols
			for j := 0; j < d.boxCols; j++ {
				c := col + j
				if c < 0 || c >= d.globalCols {
					out[j] = 0
					continue
				}
				out[j] = src.GetFloat32(rowBase + c)
			}
		}
	case DTypeFloat32:
		src := d.base.Float32()
		for i := 0; i < d.boxRows; i++ {
			r := row + i
			out := dst[i*d.boxCols : (i+1)*d.boxCols]
			if r < 0 || r >= d.globalRows {
				clearFloat32(out)
				continue
			}
			rowBase := r * d.globalCols
			for j := 0; j < d.boxCols; j++ {
				c := col + j
				if c < 0 || c >= d.globalCols {
					out[j] = 0
					continue
				}
				out[j] = src[rowBase+c]
			}
		}
	default:
		panic("fbgemm: descriptor load for unsupported dtype " + d.dtype.String())
	}
}

// storeTileBFloat16 writes the boxRows x boxCols window at (row, col),
// rounding src to bf16. Stores are masked the same way loads are: elements
// outside the global bounds are dropped, never written.
func (d *tileDescriptor) storeTileBFloat16(row, col int, src []float32) {
	if d.dtype != DTypeBFloat16 {
		panic("fbgemm: descriptor store for unsupported dtype " + d.dtype.String())
	}
	dst := d.base.BFloat16()
	for i := 0; i < d.boxRows; i++ {
		r := row + i
		if r < 0 || r >= d.globalRows {
			continue
		}
		rowBase := r * d.globalCols
		in := src[i*d.boxCols : (i+1)*d.boxCols]
		for j := 0; j < d.boxCols; j++ {
			c := col + j
			if c < 0 || c >= d.globalCols {
				continue
			}
			dst.SetFloat32(rowBase+c, in[j])
		}
	}
}

func clearFloat32(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
