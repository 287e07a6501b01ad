package fbgemm

import (
	"fmt"
)

// groupedGEMMParams carries the launch-time constants into the persistent
// kernel bodies. Everything here is immutable for the duration of a launch.
type groupedGEMMParams struct {
	aDesc     tileDescriptor
	bDesc     tileDescriptor
	cPtr      DevicePtr
	workspace *deviceSlots
	offsets   []int32
	aScale    []float32 // nil on the plain path
	bScale    []float32 // nil on the plain path
	n         int
	k         int
	numSMs    int
	cfg       KernelConfig
}

// GroupedGEMM multiplies a ragged batch of G bf16 problems in one launch:
// C[start_g:end_g, :] = A[start_g:end_g, :] @ B[g*N:(g+1)*N, :]^T for every
// group g, where the row ranges come from mOffsets (cumulative, final entry
// equal to A's row count). Returns the bf16 output of shape [M, N].
func GroupedGEMM(a, b, mOffsets *Tensor) (*Tensor, error) {
	return groupedGEMM(defaultContext, a, b, mOffsets, nil, nil)
}

// GroupedGEMMFP8Rowwise is the row-wise quantized variant: A and B hold
// E4M3 values and the accumulator is dequantized with one scale per row of A
// and one per row of B (i.e. per output column within its group) before the
// bf16 store. Scales must be the ones produced alongside the quantized
// inputs so their indices stay aligned.
func GroupedGEMMFP8Rowwise(a, b, mOffsets, aScale, bScale *Tensor) (*Tensor, error) {
	return groupedGEMM(defaultContext, a, b, mOffsets, aScale, bScale)
}

func groupedGEMM(ctx *Context, a, b, mOffsets, aScale, bScale *Tensor) (*Tensor, error) {
	const op = "GroupedGEMM"

	if !ctx.device.DescriptorEngine {
		return nil, ErrNoDescriptorEngine
	}
	if a == nil || b == nil || mOffsets == nil {
		return nil, NewInvalidArgError(op, "a, b and m_offsets are required")
	}
	if (aScale == nil) != (bScale == nil) {
		return nil, NewInvalidArgError(op, "exactly one scale tensor supplied; need both or neither")
	}
	quantized := aScale != nil

	if mOffsets.DType() != DTypeInt32 || mOffsets.Cols() != 1 {
		return nil, NewInvalidArgError(op, "m_offsets must be an int32 vector")
	}
	g := mOffsets.Rows()
	// TODO: G=1 corrupts the descriptor store path and can produce NaNs;
	// reject until the single-group store is fixed.
	if g == 1 {
		return nil, ErrSingleGroup
	}

	if !a.IsContiguous() {
		return nil, NewInvalidArgError(op, "a must be contiguous")
	}
	if !b.IsContiguous() {
		return nil, NewInvalidArgError(op, "b must be contiguous")
	}
	if !mOffsets.IsContiguous() {
		return nil, NewInvalidArgError(op, "m_offsets must be contiguous")
	}

	wantIn := DTypeBFloat16
	if quantized {
		wantIn = DTypeFloat8E4M3
	}
	if a.DType() != wantIn || b.DType() != wantIn {
		return nil, NewInvalidArgError(op, fmt.Sprintf(
			"operands must be %s, got a=%s b=%s", wantIn, a.DType(), b.DType()))
	}

	m, k := a.Rows(), a.Cols()
	if b.Cols() != k {
		return nil, NewInvalidArgError(op, fmt.Sprintf(
			"inner dimensions differ: a is [%d,%d], b is [%d,%d]", m, k, b.Rows(), b.Cols()))
	}
	if b.Rows()%g != 0 {
		return nil, NewInvalidArgError(op, fmt.Sprintf(
			"b has %d rows, not divisible by %d groups", b.Rows(), g))
	}
	n := b.Rows() / g

	offsets := mOffsets.Data().Int32()[:g]
	prev := int32(0)
	for i, off := range offsets {
		if off < prev {
			return nil, NewInvalidArgError(op, fmt.Sprintf(
				"m_offsets must be non-decreasing, offset %d decreases to %d", i, off))
		}
		prev = off
	}
	if int(offsets[g-1]) != m {
		return nil, NewInvalidArgError(op, fmt.Sprintf(
			"final m_offset %d must equal a's row count %d", offsets[g-1], m))
	}

	if quantized {
		if !aScale.IsContiguous() || !bScale.IsContiguous() {
			return nil, NewInvalidArgError(op, "scale tensors must be contiguous")
		}
		if aScale.DType() != DTypeFloat32 || bScale.DType() != DTypeFloat32 {
			return nil, NewInvalidArgError(op, "scale tensors must be float32")
		}
		if aScale.Cols() != 1 || aScale.Rows() != m {
			return nil, NewInvalidArgError(op, fmt.Sprintf(
				"a_scale must be a vector of length %d", m))
		}
		if bScale.Cols() != 1 || bScale.Rows() != g*n {
			return nil, NewInvalidArgError(op, fmt.Sprintf(
				"b_scale must be a vector of length %d", g*n))
		}
	}

	cfg := selectConfig(TuneKey{G: g, MBucket: nextPowerOfTwo(m), N: n, K: k})
	if cfg.BlockK <= 0 || k%cfg.BlockK != 0 {
		return nil, NewInvalidArgError(op, fmt.Sprintf(
			"k=%d is not a multiple of a supported block size", k))
	}

	y, err := NewTensor(DTypeBFloat16, m, n)
	if err != nil {
		return nil, err
	}

	// A and B descriptors are invariant for the whole launch, so they are
	// built once on the host; only the per-group output descriptor lives
	// in the workspace.
	p := &groupedGEMMParams{
		aDesc:   makeTileDescriptor(a.Data(), m, k, cfg.BlockM, cfg.BlockK, a.DType()),
		bDesc:   makeTileDescriptor(b.Data(), g*n, k, cfg.BlockN, cfg.BlockK, b.DType()),
		cPtr:    y.Data(),
		offsets: offsets,
		n:       n,
		k:       k,
		numSMs:  ctx.device.NumSMs,
		cfg:     cfg,
	}
	if quantized {
		p.aScale = aScale.Data().Float32()[:m]
		p.bScale = bScale.Data().Float32()[:g*n]
	}

	p.workspace, err = deviceWorkspace(ctx)
	if err != nil {
		return nil, err
	}

	kernel := kernelGroupedGEMM
	if quantized {
		kernel = kernelGroupedGEMMFP8Rowwise
	}
	if err := ctx.launchPersistent(ctx.defaultStream, p.numSMs, func(tidx int) {
		kernel(p, tidx)
	}); err != nil {
		return nil, err
	}

	// The grid runs to completion before control returns to the caller.
	ctx.defaultStream.Synchronize()

	return y, nil
}

// kernelGroupedGEMM is the persistent worker body for the bf16 path. Worker
// tidx owns every tile whose linear index is congruent to tidx modulo the
// multiprocessor count and accumulates each one in float32 over BLOCK_K
// chunks of the shared inner dimension.
func kernelGroupedGEMM(p *groupedGEMMParams, tidx int) {
	slot := p.workspace.slot(tidx)
	spans := groupSpans(p.offsets)
	bm, bn, bk := p.cfg.BlockM, p.cfg.BlockN, p.cfg.BlockK

	aTile := make([]float32, bm*bk)
	bTile := make([]float32, bn*bk)
	acc := make([]float32, bm*bn)

	var cDesc tileDescriptor
	visitTiles(tidx, p.numSMs, spans, p.n, bm, bn, func(v tileVisit) {
		if v.newGroup {
			// The output descriptor depends on the group's base row
			// and row count, so it is re-encoded and fenced at every
			// group entry before the first store through it.
			base := p.cPtr.Offset(v.groupStart * p.n * DTypeBFloat16.Size())
			p.workspace.bases[tidx] = base
			encodeTileDescriptor(slot, makeTileDescriptor(
				base, v.mSize, p.n, bm, bn, DTypeBFloat16,
			))
			fenceDescriptorAcquire(slot)
			cDesc = decodeTileDescriptor(slot, p.workspace.bases[tidx])
		}

		clearFloat32(acc)
		mOffset := v.groupStart + v.tileM*bm
		nOffset := v.group*p.n + v.tileN*bn
		for kOffset := 0; kOffset < p.k; kOffset += bk {
			p.aDesc.loadTileFloat32(mOffset, kOffset, aTile)
			p.bDesc.loadTileFloat32(nOffset, kOffset, bTile)
			accumulateTile(acc, aTile, bTile, bm, bn, bk)
		}

		// Coordinates are group-local: the descriptor base already
		// encodes the group's row offset.
		cDesc.storeTileBFloat16(v.tileM*bm, v.tileN*bn, acc)
	})
}

// kernelGroupedGEMMFP8Rowwise is the persistent worker body for the
// quantized path: identical tiling, fp8 operand loads, and a row/column
// scale dequantization of the accumulator before the bf16 store. Scale loads
// are masked at the tile tail exactly like the store, so out-of-range
// indices are never touched.
func kernelGroupedGEMMFP8Rowwise(p *groupedGEMMParams, tidx int) {
	slot := p.workspace.slot(tidx)
	spans := groupSpans(p.offsets)
	bm, bn, bk := p.cfg.BlockM, p.cfg.BlockN, p.cfg.BlockK

	aTile := make([]float32, bm*bk)
	bTile := make([]float32, bn*bk)
	acc := make([]float32, bm*bn)
	aScaleTile := make([]float32, bm)
	bScaleTile := make([]float32, bn)

	var cDesc tileDescriptor
	visitTiles(tidx, p.numSMs, spans, p.n, bm, bn, func(v tileVisit) {
		if v.newGroup {
			base := p.cPtr.Offset(v.groupStart * p.n * DTypeBFloat16.Size())
			p.workspace.bases[tidx] = base
			encodeTileDescriptor(slot, makeTileDescriptor(
				base, v.mSize, p.n, bm, bn, DTypeBFloat16,
			))
			fenceDescriptorAcquire(slot)
			cDesc = decodeTileDescriptor(slot, p.workspace.bases[tidx])
		}

		clearFloat32(acc)
		mOffset := v.groupStart + v.tileM*bm
		nOffset := v.group*p.n + v.tileN*bn
		for kOffset := 0; kOffset < p.k; kOffset += bk {
			p.aDesc.loadTileFloat32(mOffset, kOffset, aTile)
			p.bDesc.loadTileFloat32(nOffset, kOffset, bTile)
			accumulateTile(acc, aTile, bTile, bm, bn, bk)
		}

		// a_scale is indexed by global row, b_scale by group-local
		// column; both masked at the true bounds.
		for i := 0; i < bm; i++ {
			if r := v.tileM*bm + i; r < v.mSize {
				aScaleTile[i] = p.aScale[v.groupStart+r]
			} else {
				aScaleTile[i] = 0
			}
		}
		for j := 0; j < bn; j++ {
			if c := v.tileN*bn + j; c < p.n {
				bScaleTile[j] = p.bScale[v.group*p.n+c]
			} else {
				bScaleTile[j] = 0
			}
		}
		for i := 0; i < bm; i++ {
			rowScale := aScaleTile[i]
			row := acc[i*bn : (i+1)*bn]
			for j := 0; j < bn; j++ {
				row[j] = row[j] * rowScale * bScaleTile[j]
			}
		}

		cDesc.storeTileBFloat16(v.tileM*bm, v.tileN*bn, acc)
	})
}

// accumulateTile adds aTile · bTileᵀ into acc. For every output element the
// additions run strictly left to right over K, continuing from the chunk
// before, so a result is bit-reproducible across runs and worker counts.
func accumulateTile(acc, aTile, bTile []float32, bm, bn, bk int) {
	for i := 0; i < bm; i++ {
		aRow := aTile[i*bk : (i+1)*bk]
		accRow := acc[i*bn : (i+1)*bn]
		for j := 0; j < bn; j++ {
			bRow := bTile[j*bk : (j+1)*bk]
			sum := accRow[j]
			for kk := 0; kk < bk; kk++ {
				sum += aRow[kk] * bRow[kk]
			}
			accRow[j] = sum
		}
	}
}
