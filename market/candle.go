// Package market provides the OHLCV bar table the simulation replays:
// typed candles, an ordered Series indexed by timestamp, and loaders for
// CSV bar files (plain, xz-compressed, or zipped).
package market

import (
	"math"
	"time"
)

// Candle represents one OHLCV observation for a fixed time interval.
// Volume is NaN when the source data carries no volume column.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// HasVolume reports whether this bar carries a known volume.
func (c Candle) HasVolume() bool {
	return !math.IsNaN(c.Volume)
}
