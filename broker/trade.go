package broker

import (
	"fmt"
	"math"
	"time"
)

// Trade is one open or closed position lot. Its size never changes sign;
// reducing a trade past zero closes it and opens a new record instead.
//
// A trade owns at most one stop-loss and one take-profit order, which are
// canceled and replaced as a pair whenever the protective price moves.
type Trade struct {
	broker     *Broker
	size       float64
	entryPrice float64
	entryBar   int
	exitPrice  *float64
	exitBar    *int
	slOrder    *Order
	tpOrder    *Order
	tag        string
}

// tradePatch is the sparse override set used when closing or splitting a
// trade. Unlike OrderPatch it stays internal: only the broker rewrites
// trade records.
type tradePatch struct {
	size       *float64
	exitPrice  *float64
	exitBar    *int
	dropSL     bool
	dropTP     bool
}

// Size returns the trade size, negative for short trades.
func (t *Trade) Size() float64 { return t.size }

// EntryPrice returns the (commission-adjusted) entry price.
func (t *Trade) EntryPrice() float64 { return t.entryPrice }

// EntryBar returns the bar index the trade was entered on.
func (t *Trade) EntryBar() int { return t.entryBar }

// ExitPrice returns the exit price; ok is false while the trade is open.
func (t *Trade) ExitPrice() (float64, bool) { return deref(t.exitPrice) }

// ExitBar returns the bar index the trade was exited on; ok is false while
// the trade is open.
func (t *Trade) ExitBar() (int, bool) {
	if t.exitBar == nil {
		return 0, false
	}
	return *t.exitBar, true
}

// EntryTime returns the timestamp of the entry bar.
func (t *Trade) EntryTime() time.Time { return t.broker.data.Time(t.entryBar) }

// ExitTime returns the timestamp of the exit bar; zero while open.
func (t *Trade) ExitTime() time.Time {
	if t.exitBar == nil {
		return time.Time{}
	}
	return t.broker.data.Time(*t.exitBar)
}

// Tag returns the tag inherited from the order that opened the trade.
func (t *Trade) Tag() string { return t.tag }

// IsLong reports whether the trade is long.
func (t *Trade) IsLong() bool { return t.size > 0 }

// IsShort reports whether the trade is short.
func (t *Trade) IsShort() bool { return !t.IsLong() }

// SLOrder returns the backing stop-loss order, or nil.
func (t *Trade) SLOrder() *Order { return t.slOrder }

// TPOrder returns the backing take-profit order, or nil.
func (t *Trade) TPOrder() *Order { return t.tpOrder }

// SL returns the stop-loss price; ok is false when no SL order is active.
func (t *Trade) SL() (float64, bool) {
	if t.slOrder == nil {
		return math.NaN(), false
	}
	return t.slOrder.Stop()
}

// TP returns the take-profit price; ok is false when no TP order is active.
func (t *Trade) TP() (float64, bool) {
	if t.tpOrder == nil {
		return math.NaN(), false
	}
	return t.tpOrder.Limit()
}

// SetSL creates or replaces the stop-loss order at price. A price of zero
// cancels any existing stop-loss.
func (t *Trade) SetSL(price float64) error {
	return t.setContingent(contingentSL, price)
}

// SetTP creates or replaces the take-profit order at price. A price of zero
// cancels any existing take-profit.
func (t *Trade) SetTP(price float64) error {
	return t.setContingent(contingentTP, price)
}

// PL returns the trade profit (positive) or loss (negative) in cash units,
// marked to the last price while the trade is open.
func (t *Trade) PL() float64 {
	return t.size * (t.markPrice() - t.entryPrice)
}

// PLPct returns the trade profit or loss as a fraction of the entry price.
func (t *Trade) PLPct() float64 {
	return sign(t.size) * (t.markPrice()/t.entryPrice - 1)
}

// Value returns the trade notional (volume times price) in cash units.
func (t *Trade) Value() float64 {
	return math.Abs(t.size) * t.markPrice()
}

func (t *Trade) markPrice() float64 {
	if t.exitPrice != nil {
		return *t.exitPrice
	}
	return t.broker.LastPrice()
}

// Close queues a market order that closes the given portion of the trade
// (portion in (0, 1]) on the next broker pass. The trade itself is not
// mutated until that order fills.
func (t *Trade) Close(portion float64) error {
	if !(portion > 0 && portion <= 1) {
		return fmt.Errorf("broker: close portion must be in (0, 1], got %v", portion)
	}
	size := math.Max(1, math.Round(math.Abs(t.size)*portion)) * sign(-t.size)
	order := &Order{broker: t.broker, size: size, parent: t, tag: t.tag}
	t.broker.orders = append(t.broker.orders, order)
	return nil
}

// replace applies the patch in place and returns the same trade.
func (t *Trade) replace(patch tradePatch) *Trade {
	if patch.size != nil {
		t.size = *patch.size
	}
	if patch.exitPrice != nil {
		t.exitPrice = ptr(*patch.exitPrice)
	}
	if patch.exitBar != nil {
		bar := *patch.exitBar
		t.exitBar = &bar
	}
	if patch.dropSL {
		t.slOrder = nil
	}
	if patch.dropTP {
		t.tpOrder = nil
	}
	return t
}

// copyWith returns a new trade record sharing no backing orders unless the
// patch keeps them. Used when a closing fill only partially consumes a
// trade: the remainder keeps the original identity and the closed slice
// becomes a fresh record for the log.
func (t *Trade) copyWith(patch tradePatch) *Trade {
	clone := *t
	return clone.replace(patch)
}

type contingentKind int

const (
	contingentSL contingentKind = iota
	contingentTP
)

func (t *Trade) setContingent(kind contingentKind, price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return fmt.Errorf("broker: contingent price must be finite and non-negative, got %v", price)
	}

	existing := t.slOrder
	if kind == contingentTP {
		existing = t.tpOrder
	}
	if existing != nil {
		existing.Cancel()
	}
	if price == 0 {
		return nil
	}

	req := orderRequest{size: -t.size, parent: t, tag: t.tag}
	if kind == contingentSL {
		req.stop = ptr(price)
	} else {
		req.limit = ptr(price)
	}
	order, err := t.broker.newOrder(req)
	if err != nil {
		return err
	}
	if kind == contingentSL {
		t.slOrder = order
	} else {
		t.tpOrder = order
	}
	return nil
}
