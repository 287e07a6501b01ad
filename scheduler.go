package fbgemm

// Tile scheduling for the persistent grouped GEMM kernels.
//
// The schedule is a static partition of a linear tile index space spanning
// all groups: no work queue, no stealing, no cross-worker communication.
// Everything a worker needs is derived from the group offsets, the tile
// shape, and its own index, which keeps the whole algorithm pure index
// arithmetic that can be tested on the host without a launch.

// groupSpan is one group's row range within the batched activation buffer.
type groupSpan struct {
	start int // first global row owned by the group
	size  int // number of rows; zero for an empty group
}

// groupSpans derives every group's row range from the boundary offsets.
// Offsets are cumulative row counts: group g ends at offsets[g] and starts
// where the previous group ended, with an implicit 0 for the first group.
func groupSpans(offsets []int32) []groupSpan {
	spans := make([]groupSpan, len(offsets))
	start := 0
	for g, end := range offsets {
		spans[g] = groupSpan{start: start, size: int(end) - start}
		start = int(end)
	}
	return spans
}

// tileVisit describes one output tile handed to a worker.
type tileVisit struct {
	group      int  // group index
	groupStart int  // group's first global row
	mSize      int  // rows in the group
	tileM      int  // M-tile coordinate within the group
	tileN      int  // N-tile coordinate within the group
	newGroup   bool // first tile this worker executes in this group
}

// visitTiles walks the persistent schedule for worker tidx of numWorkers.
//
// Tiles are enumerated group-major with the M tile varying fastest
// (tileM = idx % numMTiles). Each worker starts at its own index into that
// linear space and strides by the worker count, so load balances round-robin
// at tile granularity: one huge group spreads across all workers and many
// tiny groups interleave naturally. Empty groups contribute zero tiles and
// no descriptor work. A worker whose index never lands inside any group's
// range performs nothing, which is valid whenever the total tile count is
// smaller than the worker count.
func visitTiles(tidx, numWorkers int, spans []groupSpan, n, blockM, blockN int, visit func(v tileVisit)) {
	iteratedTiles := 0
	for g, span := range spans {
		if span.size == 0 {
			continue
		}

		numMTiles := ceilDiv(span.size, blockM)
		numNTiles := ceilDiv(n, blockN)
		numTiles := numMTiles * numNTiles

		newGroup := true
		for tidx >= iteratedTiles && tidx < iteratedTiles+numTiles {
			gidx := tidx - iteratedTiles
			// Split M first and N second.
			visit(tileVisit{
				group:      g,
				groupStart: span.start,
				mSize:      span.size,
				tileM:      gidx % numMTiles,
				tileN:      gidx / numMTiles,
				newGroup:   newGroup,
			})
			newGroup = false
			tidx += numWorkers
		}

		iteratedTiles += numTiles
	}
}

// ceilDiv rounds the quotient up
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
