// Package strategy defines the policy interface the simulation drives and
// an embeddable Base that wires indicator/signal series and order placement
// to the broker.
package strategy

import (
	"fmt"
	"math"

	"github.com/rustyeddy/backtester/broker"
	"github.com/rustyeddy/backtester/market"
)

// Context is the per-bar view handed to Next: the current bar, the declared
// indicator/signal values at this position, and the previous bar's context.
type Context struct {
	Index      int
	Bar        market.Candle
	Indicators map[string]float64
	Signals    map[string]bool
	Prev       *Context
}

// Strategy is a user-supplied trading policy. Init runs once before the
// bar loop and declares indicator and signal series; Next runs once per bar
// and places orders through the Base's Buy/Sell.
type Strategy interface {
	Name() string
	Bind(data *market.Series, b *broker.Broker)
	Init() error
	Next(ctx *Context) error

	IndicatorsAt(i int) map[string]float64
	SignalsAt(i int) map[string]bool
}

// Base carries the plumbing every strategy needs. Embed it and implement
// Name, Init and Next.
type Base struct {
	Data *market.Series

	broker     *broker.Broker
	indicators map[string][]float64
	signals    map[string][]bool
}

// Bind attaches the bar series and broker before Init is called.
func (s *Base) Bind(data *market.Series, b *broker.Broker) {
	s.Data = data
	s.broker = b
	s.indicators = make(map[string][]float64)
	s.signals = make(map[string][]bool)
}

// Buy places a new long order.
//
// Size must be a positive fraction of available margin (< 1) or a positive
// whole number of units.
func (s *Base) Buy(req broker.OrderRequest) (*broker.Order, error) {
	if err := validateSize(req.Size); err != nil {
		return nil, err
	}
	return s.broker.NewOrder(req)
}

// Sell places a new short order. Size follows the same rules as Buy.
func (s *Base) Sell(req broker.OrderRequest) (*broker.Order, error) {
	if err := validateSize(req.Size); err != nil {
		return nil, err
	}
	req.Size = -req.Size
	return s.broker.NewOrder(req)
}

// Equity returns the broker's current equity.
func (s *Base) Equity() float64 { return s.broker.Equity() }

// Position returns the aggregate open position.
func (s *Base) Position() *broker.Position { return s.broker.Position() }

// Orders returns the pending order list.
func (s *Base) Orders() []*broker.Order { return s.broker.Orders() }

// Trades returns the open trade list.
func (s *Base) Trades() []*broker.Trade { return s.broker.Trades() }

// ClosedTrades returns the closed trade log.
func (s *Base) ClosedTrades() []*broker.Trade { return s.broker.ClosedTrades() }

// AddIndicator declares a named indicator series. Shorter series are
// left-padded with NaN to the bar count.
func (s *Base) AddIndicator(name string, values []float64) {
	n := s.Data.Len()
	if len(values) < n {
		padded := make([]float64, n)
		offset := n - len(values)
		for i := 0; i < offset; i++ {
			padded[i] = math.NaN()
		}
		copy(padded[offset:], values)
		values = padded
	}
	s.indicators[name] = values
}

// Indicator returns a declared indicator series.
func (s *Base) Indicator(name string) []float64 { return s.indicators[name] }

// AddSignal declares a named boolean signal series. Shorter series are
// left-padded with false to the bar count.
func (s *Base) AddSignal(name string, values []bool) {
	n := s.Data.Len()
	if len(values) < n {
		padded := make([]bool, n)
		copy(padded[n-len(values):], values)
		values = padded
	}
	s.signals[name] = values
}

// Signal returns a declared signal series.
func (s *Base) Signal(name string) []bool { return s.signals[name] }

// IndicatorsAt returns all indicator values at bar i.
func (s *Base) IndicatorsAt(i int) map[string]float64 {
	out := make(map[string]float64, len(s.indicators))
	for name, values := range s.indicators {
		out[name] = values[i]
	}
	return out
}

// SignalsAt returns all signal values at bar i.
func (s *Base) SignalsAt(i int) map[string]bool {
	out := make(map[string]bool, len(s.signals))
	for name, values := range s.signals {
		out[name] = values[i]
	}
	return out
}

func validateSize(size float64) error {
	if size > 0 && (size < 1 || size == math.Round(size)) {
		return nil
	}
	return fmt.Errorf("strategy: size must be a positive fraction of margin or a positive whole number of units, got %v", size)
}
