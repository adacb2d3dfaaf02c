// Package stats derives the standard performance battery from a finished
// simulation: the ordered results table, the per-bar equity curve, and the
// closed-trade log.
package stats

import (
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/backtester/broker"
	"github.com/rustyeddy/backtester/market"
)

// Options tunes the statistics computation.
type Options struct {
	// RiskFreeRate is the annual risk-free rate as a fraction in (-1, 1).
	RiskFreeRate float64

	// Precision is the number of significant digits kept before fixed
	// rounding. Defaults to 12.
	Precision int

	// Digits is the number of decimal places of the final rounding.
	// Defaults to 6.
	Digits int
}

// Row is one ordered key/value entry of the results table.
type Row struct {
	Key   string
	Value any
}

// EquityPoint is one bar of the equity curve table.
type EquityPoint struct {
	Time             time.Time
	Equity           float64
	DrawdownPct      float64
	// DrawdownDuration is the days elapsed since the start of the current
	// drawdown run; NaN outside a run.
	DrawdownDuration float64
}

// TradeRow is one closed trade of the trade log table.
type TradeRow struct {
	Size       float64
	EntryBar   int
	ExitBar    int
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	ReturnPct  float64
	EntryTime  time.Time
	ExitTime   time.Time
	Tag        string
	Duration   float64 // days
}

// Stats bundles the three output tables. Every call to Compute builds a
// fresh Stats from scratch.
type Stats struct {
	Results     []Row
	EquityCurve []EquityPoint
	TradeLog    []TradeRow
}

// Compute derives all statistics from the bar series, the per-bar equity
// series, and the closed trade log.
func Compute(data *market.Series, strategyName string, equity []float64, trades []*broker.Trade, opts Options) (*Stats, error) {
	if !(opts.RiskFreeRate > -1 && opts.RiskFreeRate < 1) {
		return nil, fmt.Errorf("stats: risk-free rate must be in (-1, 1), got %v", opts.RiskFreeRate)
	}
	if opts.Precision == 0 {
		opts.Precision = 12
	}
	if opts.Digits == 0 {
		opts.Digits = 6
	}
	if len(equity) != data.Len() {
		return nil, fmt.Errorf("stats: equity series has %d points for %d bars", len(equity), data.Len())
	}

	times := data.Times()
	n := len(times)
	round := func(v float64) float64 { return roundTo(v, opts.Precision, opts.Digits) }

	// Drawdown series: fractional decline from the running equity peak.
	dd := make([]float64, n)
	runningMax := math.Inf(-1)
	for i, e := range equity {
		runningMax = math.Max(runningMax, e)
		dd[i] = 1 - e/runningMax
	}
	runs := drawdownRuns(dd, times)

	curve := make([]EquityPoint, n)
	ddDur := perBarDrawdownDuration(runs, times)
	for i := range curve {
		curve[i] = EquityPoint{
			Time:             times[i],
			Equity:           equity[i],
			DrawdownPct:      dd[i],
			DrawdownDuration: ddDur[i],
		}
	}

	log := make([]TradeRow, len(trades))
	for i, t := range trades {
		exitPrice, _ := t.ExitPrice()
		exitBar, _ := t.ExitBar()
		log[i] = TradeRow{
			Size:       t.Size(),
			EntryBar:   t.EntryBar(),
			ExitBar:    exitBar,
			EntryPrice: t.EntryPrice(),
			ExitPrice:  exitPrice,
			PnL:        round(t.PL()),
			ReturnPct:  round(t.PLPct()),
			EntryTime:  t.EntryTime(),
			ExitTime:   t.ExitTime(),
			Tag:        t.Tag(),
			Duration:   days(t.EntryTime(), t.ExitTime()),
		}
	}

	start, end := times[0], times[n-1]

	results := []Row{
		{"Strategy", strategyName},
		{"Start", start.Format("2006-01-02")},
		{"End", end.Format("2006-01-02")},
		{"Duration [days]", days(start, end)},
	}

	closes := data.Closes()
	results = append(results,
		Row{"Exposure Time [%]", exposureTime(n, log)},
		Row{"Equity Final [$]", equity[n-1]},
		Row{"Equity Peak [$]", maxOf(equity)},
		Row{"Return [%]", totalReturnPct(equity)},
		Row{"Buy & Hold Return [%]", totalReturnPct(closes)},
	)

	dayReturns := computeDayReturns(equity, times)
	gmeanDay := geometricMean(dayReturns)
	annualDays := annualTradingDays(times)

	annualizedReturn := math.Pow(1+gmeanDay, annualDays) - 1
	volatility := math.Sqrt(
		math.Pow(variance(dayReturns)+(1+gmeanDay)*(1+gmeanDay), annualDays)-
			math.Pow(1+gmeanDay, 2*annualDays)) * 100
	sharpe := (annualizedReturn*100 - opts.RiskFreeRate) / orNaN(volatility)
	sortino := (annualizedReturn - opts.RiskFreeRate) /
		(math.Sqrt(downsideMeanSquare(dayReturns)) * math.Sqrt(annualDays))
	calmar := annualizedReturn / orNaN(maxOf(dd))

	results = append(results,
		Row{"Return (Ann.) [%]", annualizedReturn * 100},
		Row{"Volatility (Ann.) [%]", volatility},
		Row{"Sharpe Ratio", sharpe},
		Row{"Sortino Ratio", sortino},
		Row{"Calmar Ratio", calmar},
	)

	maxDD := -maxOf(dd) * 100
	avgDD, maxDDDur, avgDDDur := math.NaN(), math.NaN(), math.NaN()
	if len(runs) > 0 {
		var peakSum, durSum, durMax float64
		for _, r := range runs {
			peakSum += r.peak
			durSum += r.duration
			durMax = math.Max(durMax, r.duration)
		}
		avgDD = -peakSum / float64(len(runs)) * 100
		maxDDDur = math.Ceil(durMax)
		avgDDDur = math.Ceil(durSum / float64(len(runs)))
	}

	results = append(results,
		Row{"Max. Drawdown [%]", maxDD},
		Row{"Avg. Drawdown [%]", avgDD},
		Row{"Max. Drawdown Duration [days]", maxDDDur},
		Row{"Avg. Drawdown Duration [days]", avgDDDur},
	)

	nTrades := len(log)
	winRate, best, worst, avgTrade := math.NaN(), math.NaN(), math.NaN(), math.NaN()
	maxTradeDur, avgTradeDur := math.NaN(), math.NaN()
	profitFactor, expectancy, sqn := math.NaN(), math.NaN(), math.NaN()
	if nTrades > 0 {
		var wins, grossWin, grossLoss, retSum, plSum, durSum, durMax float64
		returns := make([]float64, nTrades)
		pls := make([]float64, nTrades)
		best, worst = math.Inf(-1), math.Inf(1)
		for i, row := range log {
			returns[i] = row.ReturnPct
			pls[i] = row.PnL
			if row.PnL > 0 {
				wins++
			}
			if row.ReturnPct > 0 {
				grossWin += row.ReturnPct
			}
			if row.ReturnPct < 0 {
				grossLoss += row.ReturnPct
			}
			best = math.Max(best, row.ReturnPct)
			worst = math.Min(worst, row.ReturnPct)
			retSum += row.ReturnPct
			plSum += row.PnL
			durSum += row.Duration
			durMax = math.Max(durMax, row.Duration)
		}
		winRate = wins / float64(nTrades) * 100
		best *= 100
		worst *= 100
		avgTrade = geometricMean(returns) * 100
		maxTradeDur = math.Ceil(durMax)
		avgTradeDur = math.Ceil(durSum / float64(nTrades))
		profitFactor = grossWin / math.Abs(orNaN(grossLoss))
		expectancy = retSum / float64(nTrades) * 100
		sqn = math.Sqrt(float64(nTrades)) * mean(pls) / orNaN(stddev(pls))
	}

	results = append(results,
		Row{"# Trades", float64(nTrades)},
		Row{"Win Rate [%]", winRate},
		Row{"Best Trade [%]", best},
		Row{"Worst Trade [%]", worst},
		Row{"Avg. Trade [%]", avgTrade},
		Row{"Max. Trade Duration [days]", maxTradeDur},
		Row{"Avg. Trade Duration [days]", avgTradeDur},
		Row{"Profit Factor", profitFactor},
		Row{"Expectancy [%]", expectancy},
		Row{"SQN", sqn},
	)

	for i, row := range results {
		if v, ok := row.Value.(float64); ok {
			results[i].Value = round(v)
		}
	}

	return &Stats{Results: results, EquityCurve: curve, TradeLog: log}, nil
}

// Value returns the results entry for key, or nil.
func (s *Stats) Value(key string) any {
	for _, row := range s.Results {
		if row.Key == key {
			return row.Value
		}
	}
	return nil
}

// FinalEquity returns the last point of the equity curve.
func (s *Stats) FinalEquity() float64 {
	if len(s.EquityCurve) == 0 {
		return math.NaN()
	}
	return s.EquityCurve[len(s.EquityCurve)-1].Equity
}

// String renders the results table as aligned key/value lines.
func (s *Stats) String() string {
	width := 0
	for _, row := range s.Results {
		if len(row.Key) > width {
			width = len(row.Key)
		}
	}
	out := ""
	for _, row := range s.Results {
		switch v := row.Value.(type) {
		case float64:
			out += fmt.Sprintf("%-*s  %g\n", width, row.Key, v)
		default:
			out += fmt.Sprintf("%-*s  %v\n", width, row.Key, v)
		}
	}
	return out
}

// exposureTime returns the percentage of bars during which any trade was
// open: the union of [entryBar, exitBar] ranges across all closed trades.
func exposureTime(bars int, log []TradeRow) float64 {
	have := make([]bool, bars)
	for _, row := range log {
		for i := row.EntryBar; i <= row.ExitBar && i < bars; i++ {
			have[i] = true
		}
	}
	count := 0
	for _, h := range have {
		if h {
			count++
		}
	}
	return float64(count) / float64(bars) * 100
}

func totalReturnPct(values []float64) float64 {
	return (values[len(values)-1] - values[0]) / values[0] * 100
}

// computeDayReturns collapses bars sharing a calendar day to the last
// equity value of that day, then takes simple returns between consecutive
// days. The first day's return is zero.
func computeDayReturns(equity []float64, times []time.Time) []float64 {
	var daily []float64
	for i := range equity {
		if i+1 < len(equity) && sameDay(times[i], times[i+1]) {
			continue
		}
		daily = append(daily, equity[i])
	}
	returns := make([]float64, len(daily))
	for i := 1; i < len(daily); i++ {
		returns[i] = (daily[i] - daily[i-1]) / daily[i-1]
	}
	return returns
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// geometricMean returns exp(mean(log(1+r))) - 1, or 0 when any 1+r is
// non-positive. NaN entries count as zero returns.
func geometricMean(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var logSum float64
	for _, r := range returns {
		if math.IsNaN(r) {
			r = 0
		}
		if 1+r <= 0 {
			return 0
		}
		logSum += math.Log(1 + r)
	}
	return math.Exp(logSum/float64(len(returns))) - 1
}

// annualTradingDays distinguishes calendar-day assets (crypto) from
// business-day assets: 365 when weekend bars make up more than 2/7 * 60%
// of the observed days, else 252.
func annualTradingDays(times []time.Time) float64 {
	if len(times) == 0 {
		return math.NaN()
	}
	weekend := 0
	for _, t := range times {
		switch t.UTC().Weekday() {
		case time.Saturday, time.Sunday:
			weekend++
		}
	}
	if float64(weekend)/float64(len(times)) > 2.0/7*0.6 {
		return 365
	}
	return 252
}

// downsideMeanSquare is the mean of squared negative returns over the whole
// series (positive returns contribute zero).
func downsideMeanSquare(returns []float64) float64 {
	if len(returns) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, r := range returns {
		if r < 0 {
			sum += r * r
		}
	}
	return sum / float64(len(returns))
}

type ddRun struct {
	start    int // index of the zero-drawdown bar the run follows
	end      int // index of the bar the run resolves on (or series end)
	duration float64
	peak     float64
}

// drawdownRuns finds contiguous stretches of positive drawdown. A run
// starts after an exact drawdown-zero bar and ends at the next zero bar or
// the series end; single-bar dips are excluded.
func drawdownRuns(dd []float64, times []time.Time) []ddRun {
	var zeros []int
	for i, d := range dd {
		if d == 0 {
			zeros = append(zeros, i)
		}
	}
	if last := len(dd) - 1; len(zeros) == 0 || zeros[len(zeros)-1] != last {
		zeros = append(zeros, last)
	}

	var runs []ddRun
	for k := 1; k < len(zeros); k++ {
		prev, end := zeros[k-1], zeros[k]
		if end <= prev+1 {
			continue
		}
		peak := 0.0
		for i := prev; i <= end; i++ {
			peak = math.Max(peak, dd[i])
		}
		runs = append(runs, ddRun{
			start:    prev,
			end:      end,
			duration: days(times[prev], times[end]),
			peak:     peak,
		})
	}
	return runs
}

func perBarDrawdownDuration(runs []ddRun, times []time.Time) []float64 {
	out := make([]float64, len(times))
	for i := range out {
		out[i] = math.NaN()
	}
	for _, r := range runs {
		for i := r.start + 1; i <= r.end; i++ {
			out[i] = days(times[r.start], times[i])
		}
	}
	return out
}

func days(a, b time.Time) float64 {
	return b.Sub(a).Hours() / 24
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// variance is the sample variance (n-1 denominator).
func variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return sum / float64(len(values)-1)
}

func stddev(values []float64) float64 {
	return math.Sqrt(variance(values))
}

func maxOf(values []float64) float64 {
	out := math.Inf(-1)
	for _, v := range values {
		out = math.Max(out, v)
	}
	return out
}

// orNaN maps a zero denominator to NaN so ratios degrade to NaN instead of
// infinity.
func orNaN(v float64) float64 {
	if v == 0 {
		return math.NaN()
	}
	return v
}
