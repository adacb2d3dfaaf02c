package market

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Series is an ordered bar table: one row per time step, indexed by
// ascending unique timestamps. Rows are addressed by integer position.
//
// The simulation only ever reads rows at or before its cursor, so a Series
// is effectively immutable during a run; the one exception is SetVolume,
// which backfills the injected volume column.
type Series struct {
	times  []time.Time
	open   []float64
	high   []float64
	low    []float64
	close_ []float64
	volume []float64
}

// NewSeries builds a Series from candles. Candles are sorted by time;
// it fails on empty input, duplicate timestamps, or non-finite OHLC values.
func NewSeries(candles []Candle) (*Series, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("market: OHLC data is empty")
	}

	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	s := &Series{
		times:  make([]time.Time, len(sorted)),
		open:   make([]float64, len(sorted)),
		high:   make([]float64, len(sorted)),
		low:    make([]float64, len(sorted)),
		close_: make([]float64, len(sorted)),
		volume: make([]float64, len(sorted)),
	}

	for i, c := range sorted {
		if c.Time.IsZero() {
			return nil, fmt.Errorf("market: row %d has no date", i)
		}
		if i > 0 && !sorted[i-1].Time.Before(c.Time) {
			return nil, fmt.Errorf("market: duplicate timestamp %s at row %d", c.Time, i)
		}
		for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("market: row %d (%s) has a missing or non-finite OHLC value", i, c.Time)
			}
		}
		s.times[i] = c.Time
		s.open[i] = c.Open
		s.high[i] = c.High
		s.low[i] = c.Low
		s.close_[i] = c.Close
		s.volume[i] = c.Volume
	}

	return s, nil
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.times) }

// At returns the bar at position i.
func (s *Series) At(i int) Candle {
	return Candle{
		Time:   s.times[i],
		Open:   s.open[i],
		High:   s.high[i],
		Low:    s.low[i],
		Close:  s.close_[i],
		Volume: s.volume[i],
	}
}

// Time returns the timestamp at position i.
func (s *Series) Time(i int) time.Time { return s.times[i] }

// Times returns the full timestamp index.
func (s *Series) Times() []time.Time {
	out := make([]time.Time, len(s.times))
	copy(out, s.times)
	return out
}

// Closes returns a copy of the close column.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.close_))
	copy(out, s.close_)
	return out
}

// SetVolume writes the volume column at position i. This is the only
// mutation a Series supports; it exists so loaders and adapters can inject
// volume after construction.
func (s *Series) SetVolume(i int, v float64) {
	s.volume[i] = v
}

// Slice returns the sub-series over rows [from, to).
func (s *Series) Slice(from, to int) (*Series, error) {
	if from < 0 || to > s.Len() || from >= to {
		return nil, fmt.Errorf("market: invalid slice [%d, %d) of %d rows", from, to, s.Len())
	}
	return &Series{
		times:  s.times[from:to],
		open:   s.open[from:to],
		high:   s.high[from:to],
		low:    s.low[from:to],
		close_: s.close_[from:to],
		volume: s.volume[from:to],
	}, nil
}
