package journal

import (
	"github.com/rustyeddy/backtester/pkg/id"
	"github.com/rustyeddy/backtester/stats"
)

// RecordStats writes a completed run to the journal: one run row, the full
// trade log, and the equity curve. It returns the generated run ID.
func RecordStats(j Journal, strategyName string, st *stats.Stats) (string, error) {
	runID := id.New()

	curve := st.EquityCurve
	run := RunRecord{
		RunID:       runID,
		Strategy:    strategyName,
		Bars:        len(curve),
		FinalEquity: st.FinalEquity(),
	}
	if len(curve) > 0 {
		run.Start = curve[0].Time
		run.End = curve[len(curve)-1].Time
	}
	if err := j.RecordRun(run); err != nil {
		return runID, err
	}

	for _, row := range st.TradeLog {
		err := j.RecordTrade(TradeRecord{
			RunID:      runID,
			TradeID:    id.New(),
			Size:       row.Size,
			EntryBar:   row.EntryBar,
			ExitBar:    row.ExitBar,
			EntryPrice: row.EntryPrice,
			ExitPrice:  row.ExitPrice,
			EntryTime:  row.EntryTime,
			ExitTime:   row.ExitTime,
			PnL:        row.PnL,
			ReturnPct:  row.ReturnPct,
			Tag:        row.Tag,
		})
		if err != nil {
			return runID, err
		}
	}

	for _, point := range curve {
		err := j.RecordEquity(EquityRecord{
			RunID:       runID,
			Time:        point.Time,
			Equity:      point.Equity,
			DrawdownPct: point.DrawdownPct,
		})
		if err != nil {
			return runID, err
		}
	}

	return runID, nil
}
