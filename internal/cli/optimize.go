package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/backtester/backtest"
	"github.com/rustyeddy/backtester/market"
	"github.com/rustyeddy/backtester/strategy"
)

func newOptimizeCmd(rc *RootConfig) *cobra.Command {
	var (
		dataFile     string
		strategyName string
		paramSpecs   []string
		workers      int
	)

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Grid-search strategy parameters and report the best run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rc)
			if err != nil {
				return err
			}
			if dataFile != "" {
				cfg.Data.File = dataFile
			}
			if strategyName != "" {
				cfg.Strategy.Name = strategyName
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			grid, err := parseGrid(paramSpecs)
			if err != nil {
				return err
			}

			data, err := market.Load(cfg.Data.File)
			if err != nil {
				return err
			}

			factory := func(params map[string]float64) strategy.Strategy {
				merged := make(map[string]float64, len(cfg.Strategy.Params)+len(params))
				for k, v := range cfg.Strategy.Params {
					merged[k] = v
				}
				for k, v := range params {
					merged[k] = v
				}
				strat, err := strategy.ByName(cfg.Strategy.Name, merged)
				if err != nil {
					panic(err) // name was validated before the grid run
				}
				return strat
			}

			// Fail early on an unknown strategy name.
			if _, err := strategy.ByName(cfg.Strategy.Name, nil); err != nil {
				return err
			}

			best, err := backtest.Optimize(data, factory, grid, brokerOptions(cfg), backtest.FinalEquity, workers)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(best.Params))
			for name := range best.Params {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%s=%v ", name, best.Params[name])
			}
			fmt.Println()
			fmt.Print(best.Stats)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataFile, "data", "", "Bar CSV file (.csv, .csv.xz or .zip)")
	cmd.Flags().StringVar(&strategyName, "strategy", "", "Registered strategy name")
	cmd.Flags().StringArrayVar(&paramSpecs, "param", nil, "Parameter grid entry, e.g. n1=5,10,20 (repeatable)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel simulations (default: GOMAXPROCS)")

	return cmd
}

// parseGrid turns "n1=5,10,20" specs into a parameter grid.
func parseGrid(specs []string) (map[string][]float64, error) {
	grid := make(map[string][]float64, len(specs))
	for _, spec := range specs {
		name, list, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("bad --param %q, want name=v1,v2,...", spec)
		}
		for _, raw := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, fmt.Errorf("bad --param %q: value %q is not a number", spec, raw)
			}
			grid[name] = append(grid[name], v)
		}
	}
	return grid, nil
}
