package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/backtester/broker"
	"github.com/rustyeddy/backtester/market"
	"github.com/rustyeddy/backtester/stats"
	"github.com/rustyeddy/backtester/strategy"
)

func testSeries(t *testing.T, opens ...float64) *market.Series {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Candle, len(opens))
	for i, o := range opens {
		bars[i] = market.Candle{
			Time: start.AddDate(0, 0, i),
			Open: o, High: o + 2, Low: o - 2, Close: o + 1,
			Volume: math.NaN(),
		}
	}
	s, err := market.NewSeries(bars)
	require.NoError(t, err)
	return s
}

// unitsStrategy buys a fixed number of units on one bar and then holds.
type unitsStrategy struct {
	strategy.Base

	units  float64
	buyBar int
}

func (s *unitsStrategy) Name() string { return "units" }
func (s *unitsStrategy) Init() error  { return nil }

func (s *unitsStrategy) Next(ctx *strategy.Context) error {
	if ctx.Index == s.buyBar {
		_, err := s.Buy(broker.OrderRequest{Size: s.units})
		return err
	}
	return nil
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	data := testSeries(t, 100, 101)
	factory := func() strategy.Strategy { return &unitsStrategy{units: 1} }

	_, err := New(nil, factory, Options{})
	assert.Error(t, err)
	_, err = New(data, nil, Options{})
	assert.Error(t, err)

	bt, err := New(data, factory, Options{})
	require.NoError(t, err)
	assert.NotNil(t, bt)
}

func TestRunFillsOrdersOnNextBar(t *testing.T) {
	t.Parallel()

	data := testSeries(t, 100, 102, 104, 106, 108)
	factory := func() strategy.Strategy { return &unitsStrategy{units: 1, buyBar: 1} }

	bt, err := New(data, factory, Options{})
	require.NoError(t, err)
	st, err := bt.Run()
	require.NoError(t, err)

	require.Len(t, st.TradeLog, 1)
	row := st.TradeLog[0]
	// Placed on bar 1, filled on bar 2's open.
	assert.Equal(t, 2, row.EntryBar)
	assert.Equal(t, 104.0, row.EntryPrice)
	// The run force-closes on the final bar's open.
	assert.Equal(t, 4, row.ExitBar)
	assert.Equal(t, 108.0, row.ExitPrice)
	assert.InDelta(t, 4.0, row.PnL, 1e-9)

	assert.Len(t, st.EquityCurve, data.Len())
	assert.InDelta(t, 10004.0, st.FinalEquity(), 1e-9)
}

func TestRunIsRepeatable(t *testing.T) {
	t.Parallel()

	data := testSeries(t, 100, 102, 104, 106)
	factory := func() strategy.Strategy { return &unitsStrategy{units: 2} }

	bt, err := New(data, factory, Options{})
	require.NoError(t, err)

	first, err := bt.Run()
	require.NoError(t, err)
	second, err := bt.Run()
	require.NoError(t, err)

	assert.Equal(t, first.FinalEquity(), second.FinalEquity())
	assert.Equal(t, len(first.TradeLog), len(second.TradeLog))
}

// prevStrategy verifies the context chain handed to Next.
type prevStrategy struct {
	strategy.Base

	seen []*strategy.Context
}

func (s *prevStrategy) Name() string { return "prev" }
func (s *prevStrategy) Init() error  { return nil }

func (s *prevStrategy) Next(ctx *strategy.Context) error {
	s.seen = append(s.seen, ctx)
	return nil
}

func TestRunChainsContexts(t *testing.T) {
	t.Parallel()

	data := testSeries(t, 100, 102, 104)
	strat := &prevStrategy{}
	bt, err := New(data, func() strategy.Strategy { return strat }, Options{})
	require.NoError(t, err)
	_, err = bt.Run()
	require.NoError(t, err)

	require.Len(t, strat.seen, 3)
	assert.Nil(t, strat.seen[0].Prev)
	assert.Same(t, strat.seen[0], strat.seen[1].Prev)
	assert.Same(t, strat.seen[1], strat.seen[2].Prev)
	assert.Equal(t, 2, strat.seen[2].Index)
	assert.Equal(t, data.At(2), strat.seen[2].Bar)
}

func TestOptimizePicksBestScore(t *testing.T) {
	t.Parallel()

	data := testSeries(t, 100, 100, 102, 104, 110)
	factory := func(params map[string]float64) strategy.Strategy {
		return &unitsStrategy{units: params["n"]}
	}
	grid := map[string][]float64{"n": {1, 3, 2}}

	best, err := Optimize(data, factory, grid, Options{}, FinalEquity, 3)
	require.NoError(t, err)

	// More units, more profit on rising prices.
	assert.Equal(t, 3.0, best.Params["n"])
	assert.Equal(t, best.Score, best.Stats.FinalEquity())
	assert.Greater(t, best.Score, 10000.0)
}

func TestOptimizeTieBreaksByEnumerationOrder(t *testing.T) {
	t.Parallel()

	data := testSeries(t, 100, 100, 102)
	factory := func(params map[string]float64) strategy.Strategy {
		return &unitsStrategy{units: params["b"]}
	}
	grid := map[string][]float64{
		"a": {10, 20},
		"b": {1, 2},
	}
	best, err := Optimize(data, factory, grid, Options{}, func(*stats.Stats) float64 { return 1 }, 2)
	require.NoError(t, err)

	// All scores equal: the first enumerated combination wins
	// (names sorted, last name varying fastest).
	assert.Equal(t, 10.0, best.Params["a"])
	assert.Equal(t, 1.0, best.Params["b"])
}

func TestOptimizeValidation(t *testing.T) {
	t.Parallel()

	data := testSeries(t, 100, 101)
	factory := func(params map[string]float64) strategy.Strategy {
		return &unitsStrategy{units: 1}
	}

	_, err := Optimize(data, factory, nil, Options{}, nil, 1)
	assert.Error(t, err)

	_, err = Optimize(data, factory, map[string][]float64{"n": {}}, Options{}, nil, 1)
	assert.Error(t, err)
}

func TestEnumerate(t *testing.T) {
	t.Parallel()

	grid := map[string][]float64{
		"a": {1, 2},
		"b": {10, 20},
	}
	combos := enumerate([]string{"a", "b"}, grid)

	want := []map[string]float64{
		{"a": 1, "b": 10},
		{"a": 1, "b": 20},
		{"a": 2, "b": 10},
		{"a": 2, "b": 20},
	}
	assert.Equal(t, want, combos)
}
