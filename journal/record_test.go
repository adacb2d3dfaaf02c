package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/backtester/stats"
)

type memJournal struct {
	runs    []RunRecord
	trades  []TradeRecord
	equity  []EquityRecord
	closed  bool
}

func (m *memJournal) RecordRun(r RunRecord) error       { m.runs = append(m.runs, r); return nil }
func (m *memJournal) RecordTrade(t TradeRecord) error   { m.trades = append(m.trades, t); return nil }
func (m *memJournal) RecordEquity(e EquityRecord) error { m.equity = append(m.equity, e); return nil }
func (m *memJournal) Close() error                      { m.closed = true; return nil }

func TestRecordStats(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st := &stats.Stats{
		EquityCurve: []stats.EquityPoint{
			{Time: start, Equity: 10000},
			{Time: start.AddDate(0, 0, 1), Equity: 10100, DrawdownPct: 0},
		},
		TradeLog: []stats.TradeRow{
			{
				Size: 10, EntryBar: 0, ExitBar: 1,
				EntryPrice: 100, ExitPrice: 110,
				PnL: 100, ReturnPct: 0.1,
				EntryTime: start, ExitTime: start.AddDate(0, 0, 1),
				Tag: "x",
			},
		},
	}

	m := &memJournal{}
	runID, err := RecordStats(m, "demo", st)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	require.Len(t, m.runs, 1)
	run := m.runs[0]
	assert.Equal(t, runID, run.RunID)
	assert.Equal(t, "demo", run.Strategy)
	assert.Equal(t, 2, run.Bars)
	assert.Equal(t, 10100.0, run.FinalEquity)
	assert.True(t, run.Start.Equal(start))
	assert.True(t, run.End.Equal(start.AddDate(0, 0, 1)))

	require.Len(t, m.trades, 1)
	assert.Equal(t, runID, m.trades[0].RunID)
	assert.NotEmpty(t, m.trades[0].TradeID)
	assert.NotEqual(t, runID, m.trades[0].TradeID)
	assert.Equal(t, 0.1, m.trades[0].ReturnPct)
	assert.Equal(t, "x", m.trades[0].Tag)

	require.Len(t, m.equity, 2)
	assert.Equal(t, 10000.0, m.equity[0].Equity)
	assert.Equal(t, 10100.0, m.equity[1].Equity)
}
