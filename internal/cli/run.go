package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/backtester/backtest"
	"github.com/rustyeddy/backtester/config"
	"github.com/rustyeddy/backtester/journal"
	"github.com/rustyeddy/backtester/market"
	"github.com/rustyeddy/backtester/stats"
	"github.com/rustyeddy/backtester/strategy"
)

func newRunCmd(rc *RootConfig) *cobra.Command {
	var (
		dataFile     string
		strategyName string
		cash         float64
		commission   float64
		margin       float64
		tradeOnClose bool
		hedging      bool
		exclusive    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single backtest and print its statistics",
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
			if cmd.Flags().Changed("cash") {
				cfg.Broker.Cash = cash
			}
			if cmd.Flags().Changed("commission") {
				cfg.Broker.Commission = commission
			}
			if cmd.Flags().Changed("margin") {
				cfg.Broker.Margin = margin
			}
			if cmd.Flags().Changed("trade-on-close") {
				cfg.Broker.TradeOnClose = tradeOnClose
			}
			if cmd.Flags().Changed("hedging") {
				cfg.Broker.Hedging = hedging
			}
			if cmd.Flags().Changed("exclusive-orders") {
				cfg.Broker.ExclusiveOrders = exclusive
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			data, err := market.Load(cfg.Data.File)
			if err != nil {
				return err
			}

			strat, err := strategy.ByName(cfg.Strategy.Name, cfg.Strategy.Params)
			if err != nil {
				return err
			}

			bt, err := backtest.New(data, func() strategy.Strategy { return strat }, brokerOptions(cfg))
			if err != nil {
				return err
			}
			st, err := bt.Run()
			if err != nil {
				return err
			}

			fmt.Print(st)
			return writeJournal(cfg, strat.Name(), st)
		},
	}

	cmd.Flags().StringVar(&dataFile, "data", "", "Bar CSV file (.csv, .csv.xz or .zip)")
	cmd.Flags().StringVar(&strategyName, "strategy", "", "Registered strategy name")
	cmd.Flags().Float64Var(&cash, "cash", 10000, "Initial cash")
	cmd.Flags().Float64Var(&commission, "commission", 0, "Fractional commission per fill")
	cmd.Flags().Float64Var(&margin, "margin", 1, "Required margin fraction (leverage = 1/margin)")
	cmd.Flags().BoolVar(&tradeOnClose, "trade-on-close", false, "Fill market orders on the previous close")
	cmd.Flags().BoolVar(&hedging, "hedging", false, "Allow simultaneous long and short trades")
	cmd.Flags().BoolVar(&exclusive, "exclusive-orders", false, "New orders cancel pending ones and close open trades")

	return cmd
}

func loadConfig(rc *RootConfig) (*config.Config, error) {
	if rc.ConfigPath == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(rc.ConfigPath)
}

func brokerOptions(cfg *config.Config) backtest.Options {
	return backtest.Options{
		Cash:            cfg.Broker.Cash,
		Commission:      cfg.Broker.Commission,
		Margin:          cfg.Broker.Margin,
		TradeOnClose:    cfg.Broker.TradeOnClose,
		Hedging:         cfg.Broker.Hedging,
		ExclusiveOrders: cfg.Broker.ExclusiveOrders,
	}
}

func writeJournal(cfg *config.Config, strategyName string, st *stats.Stats) error {
	j, err := openJournal(cfg)
	if err != nil || j == nil {
		return err
	}
	defer j.Close()

	runID, err := journal.RecordStats(j, strategyName, st)
	if err != nil {
		return fmt.Errorf("journal run %s: %w", runID, err)
	}
	fmt.Printf("journaled run %s\n", runID)
	return nil
}

func openJournal(cfg *config.Config) (journal.Journal, error) {
	switch cfg.Journal.Type {
	case "", "none":
		return nil, nil
	case "csv":
		return journal.NewCSV(cfg.Journal.TradesFile, cfg.Journal.EquityFile)
	case "sqlite":
		return journal.NewSQLite(cfg.Journal.DBPath)
	}
	return nil, fmt.Errorf("unknown journal type %q", cfg.Journal.Type)
}
