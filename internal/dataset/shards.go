package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// ShardOptions configures LoadShards.
type ShardOptions struct {
	Roots      []string
	Grid       int
	NumWorkers int
	Seed       int64
}

// LoadShards discovers the shards under every root, interleaves the roots
// round-robin (shard order within a root is shuffled with Seed), decodes the
// shards with NumWorkers goroutines and stacks the rows in that order.
func LoadShards(ctx context.Context, opts ShardOptions) (*mat.Dense, error) {
	if len(opts.Roots) == 0 {
		return nil, errors.New("dataset: no shard roots provided")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.Grid <= 0 {
		opts.Grid = defaultGrid
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}

	roots, err := DiscoverByRoot(opts.Roots)
	if err != nil {
		return nil, err
	}
	order := buildRoundRobinOrder(roots, rand.New(rand.NewSource(opts.Seed)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([][][]float64, len(order))
	errs := make([]error, len(order))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				rows, err := ReadShard(ctx, order[idx].path, opts.Grid)
				if err != nil {
					errs[idx] = fmt.Errorf("shard %s: %w", order[idx].path, err)
					cancel()
					continue
				}
				results[idx] = rows
			}
		}()
	}

feed:
	for idx := range order {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cols := opts.Grid * opts.Grid
	var data []float64
	for _, rows := range results {
		for _, row := range rows {
			data = append(data, row...)
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("dataset: shards: %w", ErrEmptyPartition)
	}
	return mat.NewDense(len(data)/cols, cols, data), nil
}

type orderEntry struct {
	root string
	path string
}

func buildRoundRobinOrder(roots map[string][]string, rng *rand.Rand) []orderEntry {
	rootNames := make([]string, 0, len(roots))
	copied := make(map[string][]string, len(roots))
	for root, shards := range roots {
		if len(shards) == 0 {
			continue
		}
		rootNames = append(rootNames, root)
		copied[root] = append([]string(nil), shards...)
	}
	sort.Strings(rootNames)
	if rng != nil {
		for _, root := range rootNames {
			shards := copied[root]
			rng.Shuffle(len(shards), func(i, j int) {
				shards[i], shards[j] = shards[j], shards[i]
			})
		}
	}
	var order []orderEntry
	for {
		advanced := false
		for _, root := range rootNames {
			shards := copied[root]
			if len(shards) == 0 {
				continue
			}
			order = append(order, orderEntry{root: root, path: shards[0]})
			copied[root] = shards[1:]
			advanced = true
		}
		if !advanced {
			break
		}
	}
	return order
}
