// Package journal persists backtest output: run metadata, the closed-trade
// log, and the equity curve. Sinks exist for SQLite and CSV.
package journal

import "time"

// RunRecord summarizes one completed backtest.
type RunRecord struct {
	RunID       string
	Strategy    string
	Start       time.Time
	End         time.Time
	Bars        int
	FinalEquity float64
}

// TradeRecord is one closed trade of a run.
type TradeRecord struct {
	RunID      string
	TradeID    string
	Size       float64
	EntryBar   int
	ExitBar    int
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   time.Time
	PnL        float64
	ReturnPct  float64
	Tag        string
}

// EquityRecord is one bar of a run's equity curve.
type EquityRecord struct {
	RunID       string
	Time        time.Time
	Equity      float64
	DrawdownPct float64
}

// Journal is a sink for backtest output.
type Journal interface {
	RecordRun(RunRecord) error
	RecordTrade(TradeRecord) error
	RecordEquity(EquityRecord) error
	Close() error
}
