package fbgemm

import (
	"math/rand"
	"testing"
)

// expectedTiles enumerates every (group, tileM, tileN) the schedule must
// produce, independently of the worker-striding logic under test.
func expectedTiles(spans []groupSpan, n, blockM, blockN int) map[[3]int]bool {
	tiles := make(map[[3]int]bool)
	for g, span := range spans {
		if span.size == 0 {
			continue
		}
		for tm := 0; tm < ceilDiv(span.size, blockM); tm++ {
			for tn := 0; tn < ceilDiv(n, blockN); tn++ {
				tiles[[3]int{g, tm, tn}] = true
			}
		}
	}
	return tiles
}

func TestGroupSpans(t *testing.T) {
	spans := groupSpans([]int32{0, 128, 128, 512})

	want := []groupSpan{
		{start: 0, size: 0},
		{start: 0, size: 128},
		{start: 128, size: 0},
		{start: 128, size: 384},
	}
	if len(spans) != len(want) {
		t.Fatalf("Expected %d spans, got %d", len(want), len(spans))
	}
	for g := range want {
		if spans[g] != want[g] {
			t.Errorf("Span %d: expected %+v, got %+v", g, want[g], spans[g])
		}
	}
}

func TestVisitTilesCoversEveryTileOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(0))

	for trial := 0; trial < 50; trial++ {
		g := 2 + rng.Intn(15)
		m := 1 + rng.Intn(600)
		n := 1 + rng.Intn(400)
		blockM := []int{16, 64, 128}[rng.Intn(3)]
		blockN := []int{16, 128, 256}[rng.Intn(3)]
		numWorkers := 1 + rng.Intn(64)

		offsets := make([]int32, g)
		for i := range offsets {
			offsets[i] = int32(rng.Intn(m + 1))
		}
		for i := 1; i < g; i++ {
			if offsets[i] < offsets[i-1] {
				offsets[i] = offsets[i-1]
			}
		}
		offsets[g-1] = int32(m)

		spans := groupSpans(offsets)
		seen := make(map[[3]int]int)
		for tidx := 0; tidx < numWorkers; tidx++ {
			visitTiles(tidx, numWorkers, spans, n, blockM, blockN, func(v tileVisit) {
				seen[[3]int{v.group, v.tileM, v.tileN}]++
			})
		}

		want := expectedTiles(spans, n, blockM, blockN)
		if len(seen) != len(want) {
			t.Fatalf("Trial %d: expected %d distinct tiles, saw %d", trial, len(want), len(seen))
		}
		for tile, count := range seen {
			if !want[tile] {
				t.Errorf("Trial %d: unexpected tile %v", trial, tile)
			}
			if count != 1 {
				t.Errorf("Trial %d: tile %v visited %d times", trial, tile, count)
			}
		}
	}
}

func TestVisitTilesSkipsEmptyGroups(t *testing.T) {
	// Groups 0 and 2 are empty
	spans := groupSpans([]int32{0, 100, 100, 200})

	for tidx := 0; tidx < 8; tidx++ {
		visitTiles(tidx, 8, spans, 64, 64, 64, func(v tileVisit) {
			if v.mSize == 0 {
				t.Errorf("Worker %d visited empty group %d", tidx, v.group)
			}
			if v.group == 0 || v.group == 2 {
				t.Errorf("Worker %d visited group %d which has no rows", tidx, v.group)
			}
		})
	}
}

func TestVisitTilesSplitsMFirst(t *testing.T) {
	// One group of 256 rows with 64x64 tiles over N=128: 4 M-tiles, 2
	// N-tiles. A single worker must see the M coordinate vary fastest.
	spans := groupSpans([]int32{0, 256}) // leading empty group keeps G >= 2

	var visits []tileVisit
	visitTiles(0, 1, spans, 128, 64, 64, func(v tileVisit) {
		visits = append(visits, v)
	})

	if len(visits) != 8 {
		t.Fatalf("Expected 8 tiles, got %d", len(visits))
	}
	for i, v := range visits {
		if v.tileM != i%4 || v.tileN != i/4 {
			t.Errorf("Visit %d: expected tile (%d,%d), got (%d,%d)",
				i, i%4, i/4, v.tileM, v.tileN)
		}
	}
}

func TestVisitTilesIdleWorker(t *testing.T) {
	// 1 tile total, 4 workers: workers 1..3 must do nothing
	spans := groupSpans([]int32{32, 32})

	for tidx := 1; tidx < 4; tidx++ {
		visitTiles(tidx, 4, spans, 32, 64, 64, func(v tileVisit) {
			t.Errorf("Worker %d should be idle, visited tile (%d,%d)", tidx, v.tileM, v.tileN)
		})
	}

	count := 0
	visitTiles(0, 4, spans, 32, 64, 64, func(v tileVisit) { count++ })
	if count != 1 {
		t.Errorf("Worker 0 should own the only tile, visited %d", count)
	}
}

func TestVisitTilesNewGroupFlag(t *testing.T) {
	// Two groups large enough that every worker revisits each group
	spans := groupSpans([]int32{512, 1024})

	for tidx := 0; tidx < 4; tidx++ {
		lastGroup := -1
		visitTiles(tidx, 4, spans, 256, 64, 64, func(v tileVisit) {
			if v.newGroup != (v.group != lastGroup) {
				t.Errorf("Worker %d group %d tile (%d,%d): newGroup=%v after group %d",
					tidx, v.group, v.tileM, v.tileN, v.newGroup, lastGroup)
			}
			lastGroup = v.group
		})
	}
}

func TestVisitTilesBalance(t *testing.T) {
	// One huge group must spread across all workers at tile granularity
	spans := groupSpans([]int32{0, 4096})
	numWorkers := 16

	perWorker := make([]int, numWorkers)
	total := 0
	for tidx := 0; tidx < numWorkers; tidx++ {
		visitTiles(tidx, numWorkers, spans, 1024, 64, 128, func(v tileVisit) {
			perWorker[tidx]++
			total++
		})
	}

	expected := ceilDiv(4096, 64) * ceilDiv(1024, 128)
	if total != expected {
		t.Fatalf("Expected %d tiles total, got %d", expected, total)
	}
	for w, c := range perWorker {
		if c < total/numWorkers || c > total/numWorkers+1 {
			t.Errorf("Worker %d got %d tiles, want %d or %d",
				w, c, total/numWorkers, total/numWorkers+1)
		}
	}
}
