package fbgemm

import (
	"io"
	"sync"

	"github.com/goccy/go-json"
)

// TuneKey identifies a problem shape for configuration lookup. M is bucketed
// to the next power of two so ragged batches with drifting row counts reuse
// the same entry instead of exploding the table.
type TuneKey struct {
	G       int `json:"g"`
	MBucket int `json:"m_bucket"`
	N       int `json:"n"`
	K       int `json:"k"`
}

// KernelConfig carries the tile shape selected for one launch. The grouped
// kernels receive it as launch-time constants.
type KernelConfig struct {
	BlockM int `json:"block_m"`
	BlockN int `json:"block_n"`
	BlockK int `json:"block_k"`
}

// ConfigSelector maps a problem-shape key to launch parameters. The default
// selector is a heuristic over the same grid an exhaustive search would
// sweep; an external autotuning harness can be injected with
// SetConfigSelector.
type ConfigSelector func(TuneKey) KernelConfig

var tuneState struct {
	mu       sync.Mutex
	selector ConfigSelector
	table    map[TuneKey]KernelConfig
}

func init() {
	tuneState.selector = defaultConfigSelector
	tuneState.table = make(map[TuneKey]KernelConfig)
}

// SetConfigSelector injects a configuration-selection strategy and drops the
// memoized table. Passing nil restores the default heuristic.
func SetConfigSelector(sel ConfigSelector) {
	tuneState.mu.Lock()
	defer tuneState.mu.Unlock()
	if sel == nil {
		sel = defaultConfigSelector
	}
	tuneState.selector = sel
	tuneState.table = make(map[TuneKey]KernelConfig)
}

// selectConfig returns the launch configuration for a key, memoizing the
// selector's answer.
func selectConfig(key TuneKey) KernelConfig {
	tuneState.mu.Lock()
	defer tuneState.mu.Unlock()

	if cfg, ok := tuneState.table[key]; ok {
		return cfg
	}
	cfg := tuneState.selector(key)
	tuneState.table[key] = cfg
	return cfg
}

// defaultConfigSelector picks tile sizes from the candidate grid. Hosts
// without wide vector units get the small M/N tiles since the larger
// accumulators stop fitting in cache; BLOCK_K is the largest candidate that
// divides K exactly, or zero when none does (rejected at launch validation).
func defaultConfigSelector(key TuneKey) KernelConfig {
	cfg := KernelConfig{
		BlockM: blockMCandidates[len(blockMCandidates)-1],
		BlockN: blockNCandidates[len(blockNCandidates)-1],
	}
	if key.MBucket <= 128 || !hasWideVectors() {
		cfg.BlockM = blockMCandidates[0]
	}
	if key.N <= 128 || !hasWideVectors() {
		cfg.BlockN = blockNCandidates[0]
	}
	for _, bk := range blockKCandidates {
		if key.K%bk == 0 {
			cfg.BlockK = bk
			break
		}
	}
	return cfg
}

// nextPowerOfTwo rounds n up to the next power of two
func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// tuneTableEntry pairs a key with its configuration for serialization
type tuneTableEntry struct {
	Key    TuneKey      `json:"key"`
	Config KernelConfig `json:"config"`
}

// WriteTuneTable serializes the memoized configuration table as JSON, so a
// table produced by an offline search can be shipped with a deployment.
func WriteTuneTable(w io.Writer) error {
	tuneState.mu.Lock()
	entries := make([]tuneTableEntry, 0, len(tuneState.table))
	for key, cfg := range tuneState.table {
		entries = append(entries, tuneTableEntry{Key: key, Config: cfg})
	}
	tuneState.mu.Unlock()

	if err := json.NewEncoder(w).Encode(entries); err != nil {
		return NewExecutionError("WriteTuneTable", "failed to encode tuning table", err)
	}
	return nil
}

// LoadTuneTable seeds the memoized table from JSON produced by
// WriteTuneTable. Loaded entries take precedence over the selector for their
// keys; other keys still fall through to the selector.
func LoadTuneTable(r io.Reader) error {
	var entries []tuneTableEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return NewInvalidArgError("LoadTuneTable", "malformed tuning table: "+err.Error())
	}

	tuneState.mu.Lock()
	defer tuneState.mu.Unlock()
	for _, e := range entries {
		tuneState.table[e.Key] = e.Config
	}
	return nil
}
