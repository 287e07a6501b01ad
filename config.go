// Package fbgemm configuration constants
package fbgemm

// Descriptor workspace parameters
const (
	// descriptorSize is the footprint in bytes of one block-copy
	// descriptor slot. The per-device workspace holds one slot per
	// streaming multiprocessor.
	descriptorSize = 128
)

// Tile-size search grid. These are the candidates an exhaustive tuner
// sweeps; the default selector picks from the same grid so an injected
// tuner and the heuristic always agree on the legal configuration space.
var (
	blockMCandidates = []int{64, 128}
	blockNCandidates = []int{128, 256}

	// BLOCK_K must divide K exactly, so candidates run from the preferred
	// size downward.
	blockKCandidates = []int{256, 128, 64, 32, 16}
)
