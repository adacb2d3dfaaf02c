// Package indicators provides technical analysis series for strategies.
// Each function maps an input price series to a full-length output series;
// positions inside the warmup window hold NaN.
package indicators

import (
	"fmt"
	"math"
)

// SMA returns the Simple Moving Average of values for the given period.
func SMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("indicators: period must be positive, got %d", period)
	}

	out := nanSeries(len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out, nil
}

// EMA returns the Exponential Moving Average of values for the given
// period, seeded with the SMA of the first period values.
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("indicators: period must be positive, got %d", period)
	}

	out := nanSeries(len(values))
	if len(values) < period {
		return out, nil
	}

	multiplier := 2.0 / float64(period+1)

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	ema := seed / float64(period)
	out[period-1] = ema

	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out[i] = ema
	}
	return out, nil
}

// CrossUp flags the positions where lineA crosses above lineB.
func CrossUp(lineA, lineB []float64) []bool {
	return cross(lineA, lineB, func(a, b float64) bool { return a > b })
}

// CrossDown flags the positions where lineA crosses below lineB.
func CrossDown(lineA, lineB []float64) []bool {
	return cross(lineA, lineB, func(a, b float64) bool { return a < b })
}

func cross(lineA, lineB []float64, above func(a, b float64) bool) []bool {
	n := min(len(lineA), len(lineB))
	out := make([]bool, n)
	for i := 1; i < n; i++ {
		prevA, prevB := lineA[i-1], lineB[i-1]
		curA, curB := lineA[i], lineB[i]
		if anyNaN(prevA, prevB, curA, curB) {
			continue
		}
		out[i] = above(curA, curB) && !above(prevA, prevB)
	}
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
