package broker

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/backtester/market"
)

// bar is shorthand for building test candles; volume is left unknown.
func bar(open, high, low, close float64) market.Candle {
	return market.Candle{Open: open, High: high, Low: low, Close: close, Volume: math.NaN()}
}

// barSeries assigns daily timestamps starting 2024-01-01 and builds a Series.
func barSeries(t *testing.T, bars ...market.Candle) *market.Series {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i].Time = start.AddDate(0, 0, i)
	}
	s, err := market.NewSeries(bars)
	require.NoError(t, err)
	return s
}

func newBroker(t *testing.T, data *market.Series, cfg Config) *Broker {
	t.Helper()
	if cfg.Cash == 0 {
		cfg.Cash = 10000
	}
	if cfg.Margin == 0 {
		cfg.Margin = 1
	}
	b, err := New(data, cfg)
	require.NoError(t, err)
	return b
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(10, 11, 9, 10))

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero cash", Config{Cash: 0, Margin: 1}},
		{"negative cash", Config{Cash: -10000, Margin: 1}},
		{"commission too high", Config{Cash: 10000, Commission: 0.1, Margin: 1}},
		{"commission too low", Config{Cash: 10000, Commission: -0.2, Margin: 1}},
		{"zero margin", Config{Cash: 10000, Margin: 0}},
		{"margin above one", Config{Cash: 10000, Margin: 1.5}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(data, tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestMarketOrderFill(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(10, 11, 9, 10))
	b := newBroker(t, data, Config{})

	_, err := b.NewOrder(OrderRequest{Size: 10})
	require.NoError(t, err)

	b.Next()

	trades := b.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, 10.0, trades[0].Size())
	assert.Equal(t, 10.0, trades[0].EntryPrice())
	assert.Equal(t, 0, trades[0].EntryBar())
	assert.Equal(t, 10000.0, b.Cash())
	assert.Equal(t, 10000.0, b.Equity())
	assert.Empty(t, b.Orders())
}

func TestInsufficientMarginRejectsSilently(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(10, 11, 9, 10))
	b := newBroker(t, data, Config{})

	_, err := b.NewOrder(OrderRequest{Size: 2000}) // 2000 * 10 > 10000
	require.NoError(t, err)

	b.Next()

	assert.Empty(t, b.Trades())
	assert.Empty(t, b.Orders())
	assert.Equal(t, 10000.0, b.Cash())
}

func TestFractionalSizing(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(10, 11, 9, 10))
	b := newBroker(t, data, Config{})

	_, err := b.NewOrder(OrderRequest{Size: 0.5})
	require.NoError(t, err)

	b.Next()

	trades := b.Trades()
	require.Len(t, trades, 1)
	// floor(10000 * 1 * 0.5 / 10) = 500 units
	assert.Equal(t, 500.0, trades[0].Size())
}

func TestLeverageScalesFractionalSizing(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(10, 11, 9, 10))
	b := newBroker(t, data, Config{Margin: 0.5})

	_, err := b.NewOrder(OrderRequest{Size: 0.5})
	require.NoError(t, err)

	b.Next()

	trades := b.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, 1000.0, trades[0].Size())
}

func TestLimitOrderFillsAtLimitOrBetter(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(100, 105, 90, 95))
	b := newBroker(t, data, Config{})

	limit := 95.0
	_, err := b.NewOrder(OrderRequest{Size: 10, Limit: &limit})
	require.NoError(t, err)

	b.Next()

	trades := b.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, 95.0, trades[0].EntryPrice())
}

func TestLimitOrderNotReachedStaysPending(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(100, 105, 96, 97), bar(97, 99, 94, 95))
	b := newBroker(t, data, Config{})

	limit := 95.0
	_, err := b.NewOrder(OrderRequest{Size: 10, Limit: &limit})
	require.NoError(t, err)

	b.Next()
	assert.Empty(t, b.Trades())
	assert.Len(t, b.Orders(), 1)

	b.Next()
	require.Len(t, b.Trades(), 1)
	assert.Equal(t, 95.0, b.Trades()[0].EntryPrice())
}

func TestStopOrderTriggersAndClamps(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(100, 107, 99, 106))
	b := newBroker(t, data, Config{})

	stop := 105.0
	_, err := b.NewOrder(OrderRequest{Size: 10, Stop: &stop})
	require.NoError(t, err)

	b.Next()

	trades := b.Trades()
	require.Len(t, trades, 1)
	// Open gaps below the stop, so the fill clamps up to the trigger.
	assert.Equal(t, 105.0, trades[0].EntryPrice())
}

func TestStopOrderNotTriggered(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(100, 104, 99, 103))
	b := newBroker(t, data, Config{})

	stop := 105.0
	order, err := b.NewOrder(OrderRequest{Size: 10, Stop: &stop})
	require.NoError(t, err)

	b.Next()

	assert.Empty(t, b.Trades())
	require.Len(t, b.Orders(), 1)
	got, ok := order.Stop()
	assert.True(t, ok)
	assert.Equal(t, 105.0, got)
}

func TestTradeOnCloseFillsAtPreviousClose(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(10, 11, 9, 10.5), bar(11, 12, 10, 11.5))
	b := newBroker(t, data, Config{TradeOnClose: true})

	b.Next()
	_, err := b.NewOrder(OrderRequest{Size: 10})
	require.NoError(t, err)
	b.Next()

	trades := b.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, 10.5, trades[0].EntryPrice())
	assert.Equal(t, 0, trades[0].EntryBar())
}

func TestCommissionAdjustsFillPrice(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(100, 101, 99, 100))
	b := newBroker(t, data, Config{Commission: 0.01})

	_, err := b.NewOrder(OrderRequest{Size: 10})
	require.NoError(t, err)
	b.Next()

	trades := b.Trades()
	require.Len(t, trades, 1)
	assert.InDelta(t, 101.0, trades[0].EntryPrice(), 1e-9)
}

func TestTakeProfitFillsAtBracketPrice(t *testing.T) {
	t.Parallel()

	// High reaches 112, but the bracket must fill at 110.
	data := barSeries(t, bar(100, 101, 99, 100), bar(101, 112, 100, 111))
	b := newBroker(t, data, Config{})

	tp := 110.0
	_, err := b.NewOrder(OrderRequest{Size: 10, TP: &tp})
	require.NoError(t, err)

	b.Next()
	require.Len(t, b.Trades(), 1)
	require.Len(t, b.Orders(), 1) // the TP bracket

	b.Next()

	assert.Empty(t, b.Trades())
	closed := b.ClosedTrades()
	require.Len(t, closed, 1)
	exit, ok := closed[0].ExitPrice()
	require.True(t, ok)
	assert.Equal(t, 110.0, exit)
}

func TestStopLossWinsOverTakeProfitSameBar(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(100, 101, 99, 100), bar(100, 120, 85, 100))
	b := newBroker(t, data, Config{})

	sl, tp := 90.0, 110.0
	_, err := b.NewOrder(OrderRequest{Size: 10, SL: &sl, TP: &tp})
	require.NoError(t, err)

	b.Next()
	require.Len(t, b.Trades(), 1)

	b.Next()

	closed := b.ClosedTrades()
	require.Len(t, closed, 1)
	exit, ok := closed[0].ExitPrice()
	require.True(t, ok)
	assert.Equal(t, 90.0, exit)
	assert.Empty(t, b.Orders(), "surviving bracket must be canceled with the trade")
}

func TestBracketFillsSameBarAsMarketEntry(t *testing.T) {
	t.Parallel()

	// Entry at open 100 and TP 110 inside the same bar's range: the
	// reprocessing pass must fill the fresh bracket immediately.
	data := barSeries(t, bar(100, 112, 99, 111))
	b := newBroker(t, data, Config{})

	tp := 110.0
	_, err := b.NewOrder(OrderRequest{Size: 10, TP: &tp})
	require.NoError(t, err)

	b.Next()

	assert.Empty(t, b.Trades())
	closed := b.ClosedTrades()
	require.Len(t, closed, 1)
	exit, ok := closed[0].ExitPrice()
	require.True(t, ok)
	assert.Equal(t, 110.0, exit)
}

func TestNettingClosesOpposingTrade(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(10, 11, 9, 10), bar(10, 11, 9, 10), bar(10, 11, 9, 10))
	b := newBroker(t, data, Config{})

	_, err := b.NewOrder(OrderRequest{Size: 10})
	require.NoError(t, err)
	b.Next()
	require.Len(t, b.Trades(), 1)

	_, err = b.NewOrder(OrderRequest{Size: -10})
	require.NoError(t, err)
	b.Next()

	assert.Empty(t, b.Trades())
	require.Len(t, b.ClosedTrades(), 1)
	assert.Equal(t, 10.0, b.ClosedTrades()[0].Size())
}

func TestNettingOpensResidual(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(10, 11, 9, 10), bar(10, 11, 9, 10))
	b := newBroker(t, data, Config{})

	_, err := b.NewOrder(OrderRequest{Size: 10})
	require.NoError(t, err)
	b.Next()

	_, err = b.NewOrder(OrderRequest{Size: -25})
	require.NoError(t, err)
	b.Next()

	trades := b.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, -15.0, trades[0].Size())
	require.Len(t, b.ClosedTrades(), 1)
}

func TestHedgingKeepsBothSides(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(10, 11, 9, 10), bar(10, 11, 9, 10))
	b := newBroker(t, data, Config{Hedging: true})

	_, err := b.NewOrder(OrderRequest{Size: 10})
	require.NoError(t, err)
	b.Next()

	_, err = b.NewOrder(OrderRequest{Size: -10})
	require.NoError(t, err)
	b.Next()

	trades := b.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, 0.0, b.Position().Size())
	assert.Empty(t, b.ClosedTrades())
}

func TestPartialCloseSplitsTrade(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(10, 11, 9, 10), bar(12, 13, 11, 12))
	b := newBroker(t, data, Config{})

	_, err := b.NewOrder(OrderRequest{Size: 10})
	require.NoError(t, err)
	b.Next()

	trade := b.Trades()[0]
	require.NoError(t, trade.Close(0.5))
	b.Next()

	trades := b.Trades()
	require.Len(t, trades, 1)
	assert.Same(t, trade, trades[0], "the remainder keeps the original identity")
	assert.Equal(t, 5.0, trades[0].Size())

	closed := b.ClosedTrades()
	require.Len(t, closed, 1)
	assert.Equal(t, 5.0, closed[0].Size())
	exit, _ := closed[0].ExitPrice()
	assert.Equal(t, 12.0, exit)
	assert.InDelta(t, 10000+5*(12-10), b.Cash(), 1e-9)
}

func TestFullCloseMovesToLog(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(10, 11, 9, 10), bar(10, 11, 9, 10))
	b := newBroker(t, data, Config{})

	_, err := b.NewOrder(OrderRequest{Size: 10})
	require.NoError(t, err)
	b.Next()

	require.NoError(t, b.Trades()[0].Close(1))
	b.Next()

	assert.Empty(t, b.Trades())
	require.Len(t, b.ClosedTrades(), 1)
	assert.Equal(t, 10.0, b.ClosedTrades()[0].Size())
}

func TestExclusiveOrders(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(10, 11, 9, 10), bar(10, 11, 9, 10), bar(10, 11, 9, 10))
	b := newBroker(t, data, Config{ExclusiveOrders: true})

	_, err := b.NewOrder(OrderRequest{Size: 10})
	require.NoError(t, err)
	b.Next()
	require.Len(t, b.Trades(), 1)

	limit := 5.0
	pending, err := b.NewOrder(OrderRequest{Size: 10, Limit: &limit})
	require.NoError(t, err)

	_, err = b.NewOrder(OrderRequest{Size: -10})
	require.NoError(t, err)

	for _, o := range b.Orders() {
		assert.NotSame(t, pending, o, "pending non-contingent order must be canceled")
	}

	b.Next()

	// The old trade was force-closed and the new short opened.
	require.Len(t, b.Trades(), 1)
	assert.Equal(t, -10.0, b.Trades()[0].Size())
	require.Len(t, b.ClosedTrades(), 1)
	assert.Equal(t, 10.0, b.ClosedTrades()[0].Size())
}

func TestEquityConservation(t *testing.T) {
	t.Parallel()

	data := barSeries(t,
		bar(10, 11, 9, 10),
		bar(10, 12, 9, 11),
		bar(11, 13, 10, 12),
		bar(12, 12, 8, 9),
	)
	b := newBroker(t, data, Config{})

	_, err := b.NewOrder(OrderRequest{Size: 100})
	require.NoError(t, err)

	for i := 0; i < data.Len(); i++ {
		b.Next()
		assert.InDelta(t, b.Cash()+b.Position().PL(), b.Equity(), 1e-9)
	}
}

func TestBankruptcyZeroFillsEquity(t *testing.T) {
	t.Parallel()

	data := barSeries(t,
		bar(10, 11, 9, 10),
		bar(10, 10, 0, 0),
		bar(1, 2, 1, 1),
	)
	b := newBroker(t, data, Config{Cash: 100})

	_, err := b.NewOrder(OrderRequest{Size: 10})
	require.NoError(t, err)

	b.Next()
	b.Next() // equity hits zero here

	assert.Equal(t, 0.0, b.Cash())
	assert.Empty(t, b.Trades())
	for _, e := range b.Equities()[:2] {
		assert.Equal(t, 0.0, e)
	}

	b.Next() // idempotent after the wipe

	assert.Equal(t, 0.0, b.Cash())
	for _, e := range b.Equities() {
		assert.Equal(t, 0.0, e)
	}
}

func TestLastJumpsToFinalBar(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(10, 11, 9, 10), bar(10, 11, 9, 10), bar(10, 11, 9, 11))
	b := newBroker(t, data, Config{})

	_, err := b.NewOrder(OrderRequest{Size: 10})
	require.NoError(t, err)
	b.Next()

	require.NoError(t, b.Trades()[0].Close(1))
	b.Last()

	assert.Empty(t, b.Trades())
	require.Len(t, b.ClosedTrades(), 1)
	assert.Equal(t, data.Len(), b.Index())
}

func TestOrderValidationLadder(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(100, 101, 99, 100))

	tests := []struct {
		name string
		req  OrderRequest
	}{
		{"zero size", OrderRequest{Size: 0}},
		{"long sl above price", OrderRequest{Size: 10, SL: ptr(105.0)}},
		{"long tp below price", OrderRequest{Size: 10, TP: ptr(95.0)}},
		{"short sl below price", OrderRequest{Size: -10, SL: ptr(95.0)}},
		{"short tp above price", OrderRequest{Size: -10, TP: ptr(105.0)}},
		{"long limit outside ladder", OrderRequest{Size: 10, Limit: ptr(94.0), SL: ptr(95.0)}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := newBroker(t, data, Config{})
			_, err := b.NewOrder(tt.req)
			assert.Error(t, err)
			assert.Empty(t, b.Orders())
		})
	}
}

func TestEquitiesPrefilledUnknown(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(10, 11, 9, 10), bar(10, 11, 9, 10))
	b := newBroker(t, data, Config{})

	equities := b.Equities()
	require.Len(t, equities, 2)
	for _, e := range equities {
		assert.True(t, math.IsNaN(e))
	}

	b.Next()
	assert.Equal(t, 10000.0, b.Equities()[0])
	assert.True(t, math.IsNaN(b.Equities()[1]))
}
