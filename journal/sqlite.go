package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		return nil, err
	}

	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) RecordRun(r RunRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO runs
		(run_id, strategy, start_time, end_time, bars, final_equity)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Strategy, r.Start, r.End, r.Bars, r.FinalEquity,
	)
	return err
}

func (j *SQLiteJournal) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(trade_id, run_id, size, entry_bar, exit_bar, entry_price, exit_price, entry_time, exit_time, pnl, return_pct, tag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.RunID, t.Size, t.EntryBar, t.ExitBar, t.EntryPrice,
		t.ExitPrice, t.EntryTime, t.ExitTime, t.PnL, t.ReturnPct, t.Tag,
	)
	return err
}

func (j *SQLiteJournal) RecordEquity(e EquityRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(run_id, time, equity, drawdown_pct)
		VALUES (?, ?, ?, ?)`,
		e.RunID, e.Time, e.Equity, e.DrawdownPct,
	)
	return err
}

// ListTrades returns the trades of a run in entry order.
func (j *SQLiteJournal) ListTrades(runID string) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT trade_id, run_id, size, entry_bar, exit_bar, entry_price, exit_price,
		       entry_time, exit_time, pnl, return_pct, tag
		FROM trades WHERE run_id = ? ORDER BY entry_bar, exit_bar`, runID)
	if err != nil {
		return nil, fmt.Errorf("list trades for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.TradeID, &t.RunID, &t.Size, &t.EntryBar, &t.ExitBar,
			&t.EntryPrice, &t.ExitPrice, &t.EntryTime, &t.ExitTime,
			&t.PnL, &t.ReturnPct, &t.Tag); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetRun returns the run metadata for runID.
func (j *SQLiteJournal) GetRun(runID string) (RunRecord, error) {
	var r RunRecord
	err := j.db.QueryRow(`
		SELECT run_id, strategy, start_time, end_time, bars, final_equity
		FROM runs WHERE run_id = ?`, runID).
		Scan(&r.RunID, &r.Strategy, &r.Start, &r.End, &r.Bars, &r.FinalEquity)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return r, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
