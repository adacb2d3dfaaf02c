package backtest

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/rustyeddy/backtester/market"
	"github.com/rustyeddy/backtester/stats"
	"github.com/rustyeddy/backtester/strategy"
)

// Metric reduces a run's statistics to a single score to maximize.
type Metric func(*stats.Stats) float64

// FinalEquity is the default optimization metric.
func FinalEquity(s *stats.Stats) float64 { return s.FinalEquity() }

// OptimizeResult is the winning parameter combination of a grid search.
type OptimizeResult struct {
	Params map[string]float64
	Stats  *stats.Stats
	Score  float64
}

// Optimize runs the full cross-product of the parameter grid and returns
// the combination with the highest metric. Runs are independent
// simulations with no shared mutable state, so they execute concurrently
// on a worker pool; ties are broken by grid enumeration order.
func Optimize(data *market.Series, factory strategy.Factory, grid map[string][]float64, opts Options, metric Metric, workers int) (*OptimizeResult, error) {
	if len(grid) == 0 {
		return nil, fmt.Errorf("backtest: optimization grid is empty")
	}
	names := make([]string, 0, len(grid))
	for name, values := range grid {
		if len(values) == 0 {
			return nil, fmt.Errorf("backtest: parameter %q has no candidate values", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if metric == nil {
		metric = FinalEquity
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	combos := enumerate(names, grid)

	type outcome struct {
		stats *stats.Stats
		err   error
	}
	outcomes := make([]outcome, len(combos))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				params := combos[idx]
				bt, err := New(data, func() strategy.Strategy { return factory(params) }, opts)
				if err != nil {
					outcomes[idx] = outcome{err: err}
					continue
				}
				st, err := bt.Run()
				outcomes[idx] = outcome{stats: st, err: err}
			}
		}()
	}
	for idx := range combos {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	var best *OptimizeResult
	for idx, oc := range outcomes {
		if oc.err != nil {
			return nil, fmt.Errorf("backtest: optimize %v: %w", combos[idx], oc.err)
		}
		score := metric(oc.stats)
		if best == nil || score > best.Score {
			best = &OptimizeResult{Params: combos[idx], Stats: oc.stats, Score: score}
		}
	}
	return best, nil
}

// enumerate expands the grid into the cross-product of parameter values,
// in deterministic order: names sorted, the last name varying fastest.
func enumerate(names []string, grid map[string][]float64) []map[string]float64 {
	combos := []map[string]float64{{}}
	for _, name := range names {
		var next []map[string]float64
		for _, combo := range combos {
			for _, value := range grid[name] {
				expanded := make(map[string]float64, len(combo)+1)
				for k, v := range combo {
					expanded[k] = v
				}
				expanded[name] = value
				next = append(next, expanded)
			}
		}
		combos = next
	}
	return combos
}
