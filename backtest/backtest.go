// Package backtest drives a strategy over a bar series: it advances the
// broker one bar at a time, hands each bar's context to the strategy, and
// computes statistics from the resulting equity curve and trade log.
package backtest

import (
	"fmt"
	"os"

	"github.com/rustyeddy/backtester/broker"
	"github.com/rustyeddy/backtester/market"
	"github.com/rustyeddy/backtester/stats"
	"github.com/rustyeddy/backtester/strategy"
)

// Options configures one backtest.
type Options struct {
	// Cash is the initial account balance; defaults to 10000.
	Cash float64

	// Commission is the fractional fee per fill; defaults to 0.
	Commission float64

	// Margin is the required margin fraction; defaults to 1 (no leverage).
	Margin float64

	TradeOnClose    bool
	Hedging         bool
	ExclusiveOrders bool

	// RiskFreeRate is the annual risk-free rate used by the ratio
	// statistics; defaults to 0.
	RiskFreeRate float64
}

func (o Options) withDefaults() Options {
	if o.Cash == 0 {
		o.Cash = 10000
	}
	if o.Margin == 0 {
		o.Margin = 1
	}
	return o
}

// Backtest binds a bar series to a strategy factory. Each Run builds a
// fresh broker/strategy graph, so one Backtest can run repeatedly (and
// concurrently) without shared state.
type Backtest struct {
	data    *market.Series
	factory func() strategy.Strategy
	opts    Options
}

// New validates the options against the data and returns a runnable
// backtest.
func New(data *market.Series, factory func() strategy.Strategy, opts Options) (*Backtest, error) {
	if data == nil || data.Len() == 0 {
		return nil, fmt.Errorf("backtest: OHLC data is empty")
	}
	if factory == nil {
		return nil, fmt.Errorf("backtest: strategy factory is required")
	}
	opts = opts.withDefaults()

	for _, c := range data.Closes() {
		if c > opts.Cash {
			fmt.Fprintln(os.Stderr, "backtest: warning: some prices are larger than initial cash value")
			break
		}
	}

	return &Backtest{data: data, factory: factory, opts: opts}, nil
}

// Run executes the simulation once and returns its statistics.
func (bt *Backtest) Run() (*stats.Stats, error) {
	bkr, err := broker.New(bt.data, broker.Config{
		Cash:            bt.opts.Cash,
		Commission:      bt.opts.Commission,
		Margin:          bt.opts.Margin,
		TradeOnClose:    bt.opts.TradeOnClose,
		Hedging:         bt.opts.Hedging,
		ExclusiveOrders: bt.opts.ExclusiveOrders,
	})
	if err != nil {
		return nil, err
	}

	strat := bt.factory()
	strat.Bind(bt.data, bkr)
	if err := strat.Init(); err != nil {
		return nil, fmt.Errorf("backtest: strategy init: %w", err)
	}

	var prev *strategy.Context
	for i := 0; i < bt.data.Len(); i++ {
		bkr.Next()

		ctx := &strategy.Context{
			Index:      i,
			Bar:        bt.data.At(i),
			Indicators: strat.IndicatorsAt(i),
			Signals:    strat.SignalsAt(i),
			Prev:       prev,
		}
		if err := strat.Next(ctx); err != nil {
			return nil, fmt.Errorf("backtest: strategy next at bar %d: %w", i, err)
		}
		prev = ctx
	}

	// Close whatever is still open and settle on the final bar.
	for _, t := range bkr.Trades() {
		if err := t.Close(1); err != nil {
			return nil, err
		}
	}
	bkr.Last()

	return stats.Compute(bt.data, strat.Name(), bkr.Equities(), bkr.ClosedTrades(), stats.Options{
		RiskFreeRate: bt.opts.RiskFreeRate,
	})
}
