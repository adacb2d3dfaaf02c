package broker

import "math"

// Position is a read-only aggregate view over all currently open trades of
// one broker. It holds no state of its own; every accessor recomputes from
// the live trade list.
type Position struct {
	broker *Broker
}

// Size returns the net position size in units, negative when short.
func (p *Position) Size() float64 {
	var total float64
	for _, t := range p.broker.trades {
		total += t.size
	}
	return total
}

// PL returns the unrealized profit or loss of the open position in cash.
func (p *Position) PL() float64 {
	var total float64
	for _, t := range p.broker.trades {
		total += t.PL()
	}
	return total
}

// PLPct returns the size-weighted average of the open trades' fractional
// returns. NaN when no position is open.
func (p *Position) PLPct() float64 {
	var totalSize float64
	for _, t := range p.broker.trades {
		totalSize += math.Abs(t.size)
	}
	if totalSize == 0 {
		return math.NaN()
	}
	var weighted float64
	for _, t := range p.broker.trades {
		weighted += t.PLPct() * math.Abs(t.size) / totalSize
	}
	return weighted
}

// IsLong reports whether the net position is long.
func (p *Position) IsLong() bool { return p.Size() > 0 }

// IsShort reports whether the net position is short.
func (p *Position) IsShort() bool { return p.Size() < 0 }

// Close queues closing orders for the given portion of every open trade.
func (p *Position) Close(portion float64) error {
	// Snapshot: Close appends contingent orders but never mutates trades.
	trades := append([]*Trade(nil), p.broker.trades...)
	for _, t := range trades {
		if err := t.Close(portion); err != nil {
			return err
		}
	}
	return nil
}
