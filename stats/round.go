package stats

import (
	"math"
	"strconv"
)

// roundTo rounds v to precision significant digits, then to digits decimal
// places. NaN and infinities pass through unchanged.
func roundTo(v float64, precision, digits int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p, err := strconv.ParseFloat(strconv.FormatFloat(v, 'g', precision, 64), 64)
	if err != nil {
		p = v
	}
	scale := math.Pow(10, float64(digits))
	return math.Round(p*scale) / scale
}
