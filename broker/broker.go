// Package broker implements the order-matching and portfolio-accounting
// engine of the backtester: orders, trades, the aggregate position, and the
// bar-by-bar fill algorithm that replays them against OHLC data.
package broker

import (
	"fmt"
	"math"

	"github.com/rustyeddy/backtester/market"
)

// Config holds the account and matching parameters for one simulation.
type Config struct {
	// Cash is the initial account balance. Must be > 0.
	Cash float64

	// Commission is the fractional fee applied to every fill, in
	// [-0.1, 0.1). Negative values model market-maker rebates.
	Commission float64

	// Margin is the required margin fraction in (0, 1]; leverage is its
	// inverse. Margin of 1 means no leverage.
	Margin float64

	// TradeOnClose fills market orders at the previous bar's close instead
	// of the current bar's open.
	TradeOnClose bool

	// Hedging allows simultaneous long and short trades instead of netting
	// new orders against opposing open trades.
	Hedging bool

	// ExclusiveOrders cancels all pending non-contingent orders and closes
	// all open trades whenever a new top-level order is placed.
	ExclusiveOrders bool
}

// Broker owns the cash account, the live order and trade lists, the closed
// trade log, and the per-bar equity series. It advances one bar at a time;
// each bar's fills depend only on state from prior bars.
type Broker struct {
	data *market.Series
	i    int

	cash            float64
	commission      float64
	leverage        float64
	tradeOnClose    bool
	hedging         bool
	exclusiveOrders bool

	orders       []*Order
	trades       []*Trade
	closedTrades []*Trade
	equities     []float64
}

// New validates cfg and builds a broker over the given bar series.
func New(data *market.Series, cfg Config) (*Broker, error) {
	if !(cfg.Cash > 0) {
		return nil, fmt.Errorf("broker: cash must be > 0, got %v", cfg.Cash)
	}
	if !(cfg.Commission >= -0.1 && cfg.Commission < 0.1) {
		return nil, fmt.Errorf("broker: commission must be in [-10%%, 10%%), got %v", cfg.Commission)
	}
	if !(cfg.Margin > 0 && cfg.Margin <= 1) {
		return nil, fmt.Errorf("broker: margin must be in (0, 1], got %v", cfg.Margin)
	}

	equities := make([]float64, data.Len())
	for i := range equities {
		equities[i] = math.NaN()
	}

	return &Broker{
		data:            data,
		cash:            cfg.Cash,
		commission:      cfg.Commission,
		leverage:        1 / cfg.Margin,
		tradeOnClose:    cfg.TradeOnClose,
		hedging:         cfg.Hedging,
		exclusiveOrders: cfg.ExclusiveOrders,
		equities:        equities,
	}, nil
}

// OrderRequest describes a new top-level order.
type OrderRequest struct {
	// Size is the signed order size: a magnitude below 1 is a fraction of
	// available margin, 1 or more is an absolute unit count. Must be != 0.
	Size  float64
	Limit *float64
	Stop  *float64
	SL    *float64
	TP    *float64
	Tag   string
}

// orderRequest is the internal superset of OrderRequest that also carries
// the parent trade of contingent orders.
type orderRequest struct {
	size   float64
	limit  *float64
	stop   *float64
	sl     *float64
	tp     *float64
	parent *Trade
	tag    string
}

// NewOrder validates and queues a new top-level order.
func (b *Broker) NewOrder(req OrderRequest) (*Order, error) {
	return b.newOrder(orderRequest{
		size:  req.Size,
		limit: req.Limit,
		stop:  req.Stop,
		sl:    req.SL,
		tp:    req.TP,
		tag:   req.Tag,
	})
}

func (b *Broker) newOrder(req orderRequest) (*Order, error) {
	if req.size == 0 {
		return nil, fmt.Errorf("broker: order size must not be zero")
	}

	// The reference price for ladder validation: limit, else stop, else
	// the commission-adjusted market price.
	ref := b.adjustPrice(req.size, b.LastPrice())
	if req.stop != nil {
		ref = *req.stop
	}
	if req.limit != nil {
		ref = *req.limit
	}

	if req.size > 0 {
		if (req.sl != nil && !(ref > *req.sl)) || (req.tp != nil && !(ref < *req.tp)) {
			return nil, fmt.Errorf("broker: long orders require SL (%s) < LIMIT (%v) < TP (%s)",
				fmtOpt(req.sl), ref, fmtOpt(req.tp))
		}
	} else {
		if (req.tp != nil && !(ref > *req.tp)) || (req.sl != nil && !(ref < *req.sl)) {
			return nil, fmt.Errorf("broker: short orders require TP (%s) < LIMIT (%v) < SL (%s)",
				fmtOpt(req.tp), ref, fmtOpt(req.sl))
		}
	}

	order := &Order{
		broker: b,
		size:   req.size,
		limit:  req.limit,
		stop:   req.stop,
		sl:     req.sl,
		tp:     req.tp,
		parent: req.parent,
		tag:    req.tag,
	}

	if order.parent != nil {
		// Contingent orders queue at the head so brackets resolve before
		// fresh entries each bar.
		b.orders = append([]*Order{order}, b.orders...)
		return order, nil
	}

	if b.exclusiveOrders {
		for _, pending := range append([]*Order(nil), b.orders...) {
			if !pending.IsContingent() {
				pending.Cancel()
			}
		}
		for _, trade := range append([]*Trade(nil), b.trades...) {
			if err := trade.Close(1); err != nil {
				return nil, err
			}
		}
	}
	b.orders = append(b.orders, order)
	return order, nil
}

// Next advances the simulation by one bar: fill pending orders against the
// current bar, snapshot equity, and handle bankruptcy.
func (b *Broker) Next() {
	b.processOrders()

	b.equities[b.i] = b.Equity()

	if b.Equity() <= 0 {
		// Equity wiped out. Close everything at the current close, zero
		// the account, and mark the whole run as bankrupt.
		lastClose := b.data.At(b.i).Close
		for _, trade := range append([]*Trade(nil), b.trades...) {
			b.closeTrade(trade, lastClose, b.i)
		}
		b.cash = 0
		for j := range b.equities {
			b.equities[j] = 0
		}
	}

	b.i++
}

// Last jumps the cursor to the final bar and runs one more Next, filling
// any end-of-run closing orders.
func (b *Broker) Last() {
	b.i = b.data.Len() - 1
	b.Next()
}

func (b *Broker) processOrders() {
	if b.fillPass() {
		// A market fill that spawned SL/TP brackets can make those
		// brackets fillable on the same bar. One bounded extra pass
		// reaches a fixed point: new brackets cannot themselves open
		// further brackets.
		b.fillPass()
	}
}

func (b *Broker) fillPass() (reprocess bool) {
	bar := b.data.At(b.i)
	open, high, low := bar.Open, bar.High, bar.Low
	prevClose := b.data.At(max(b.i-1, 0)).Close

	// Iterate a snapshot: orders can be removed mid-pass by side effects
	// of other orders (exclusivity, partial-close bracket cleanup).
	queue := append([]*Order(nil), b.orders...)
	for _, order := range queue {
		if !b.hasOrder(order) {
			continue
		}

		// Stop trigger. Once hit, the stop is stripped and the order
		// behaves as a plain market/limit order from here on.
		var stopPrice float64
		stopSet := order.stop != nil
		if stopSet {
			stopPrice = *order.stop
			hit := high > stopPrice
			if order.IsShort() {
				hit = low < stopPrice
			}
			if !hit {
				continue
			}
			order.Replace(OrderPatch{ClearStop: true})
		}

		var price float64
		if order.limit != nil {
			limit := *order.limit
			limitHit := low < limit
			if order.IsShort() {
				limitHit = high > limit
			}
			// A limit beyond a just-triggered stop was reached strictly
			// before the stop and cannot fill yet this bar.
			limitHitBeforeStop := limitHit && stopSet &&
				((order.IsLong() && limit < stopPrice) || (order.IsShort() && limit > stopPrice))
			if !limitHit || limitHitBeforeStop {
				continue
			}
			stopOrOpen := open
			if stopSet {
				stopOrOpen = stopPrice
			}
			if order.IsLong() {
				price = math.Min(stopOrOpen, limit)
			} else {
				price = math.Max(stopOrOpen, limit)
			}
		} else {
			price = open
			if b.tradeOnClose {
				price = prevClose
			}
			if stopSet {
				if order.IsLong() {
					price = math.Max(price, stopPrice)
				} else {
					price = math.Min(price, stopPrice)
				}
			}
		}

		isMarketOrder := order.limit == nil && !stopSet
		timeIndex := b.i
		if isMarketOrder && b.tradeOnClose {
			timeIndex = max(b.i-1, 0)
		}

		// Contingent orders reduce their parent trade and never open one.
		if parent := order.parent; parent != nil {
			size := math.Min(math.Abs(parent.size), math.Abs(order.size)) * sign(order.size)
			if b.hasTrade(parent) {
				b.reduceTrade(parent, price, size, timeIndex)
			}
			if order == parent.slOrder || order == parent.tpOrder {
				if b.hasOrder(order) {
					panic("broker: bracket order still pending after its trade was reduced")
				}
			} else {
				b.removeOrder(order)
			}
			continue
		}

		adjustedPrice := b.adjustPrice(order.size, price)

		size := order.size
		if size > -1 && size < 1 {
			size = math.Floor(b.MarginAvailable()*b.leverage*math.Abs(size)/adjustedPrice) * sign(size)
			if size == 0 {
				// Not enough margin for even one unit.
				b.removeOrder(order)
				continue
			}
		}
		need := size

		if !b.hedging {
			for _, trade := range append([]*Trade(nil), b.trades...) {
				if trade.IsLong() == order.IsLong() {
					continue
				}
				if trade.size*order.size >= 0 {
					panic("broker: netting against a same-direction trade")
				}
				if math.Abs(need) >= math.Abs(trade.size) {
					b.closeTrade(trade, price, timeIndex)
					need += trade.size
				} else {
					b.reduceTrade(trade, price, need, timeIndex)
					need = 0
				}
				if need == 0 {
					break
				}
			}
		}

		if math.Abs(need)*adjustedPrice > b.MarginAvailable()*b.leverage {
			// Economic rejection: silently cancel on insufficient margin.
			b.removeOrder(order)
			continue
		}

		if need != 0 {
			b.openTrade(adjustedPrice, need, order.sl, order.tp, timeIndex, order.tag)
			if (order.sl != nil || order.tp != nil) && isMarketOrder {
				reprocess = true
			}
		}

		b.removeOrder(order)
	}

	return reprocess
}

func (b *Broker) openTrade(price, size float64, sl, tp *float64, timeIndex int, tag string) {
	trade := &Trade{broker: b, size: size, entryPrice: price, entryBar: timeIndex, tag: tag}
	b.trades = append(b.trades, trade)

	// SL second: contingent orders prepend, so the stop-loss ends up at
	// the head of the queue and wins when both brackets hit on one bar.
	if tp != nil {
		if err := trade.SetTP(*tp); err != nil {
			panic(err)
		}
	}
	if sl != nil {
		if err := trade.SetSL(*sl); err != nil {
			panic(err)
		}
	}
}

func (b *Broker) closeTrade(trade *Trade, price float64, timeIndex int) {
	b.removeTrade(trade)
	if trade.slOrder != nil {
		b.removeOrder(trade.slOrder)
	}
	if trade.tpOrder != nil {
		b.removeOrder(trade.tpOrder)
	}

	trade.replace(tradePatch{exitPrice: ptr(price), exitBar: &timeIndex})
	b.closedTrades = append(b.closedTrades, trade)
	b.cash += trade.PL()
}

// reduceTrade shrinks trade by size (which must oppose the trade's
// direction). A full reduction closes the trade; a partial one splits it:
// the remainder keeps the original identity, the closed slice becomes a new
// record for the log.
func (b *Broker) reduceTrade(trade *Trade, price, size float64, timeIndex int) {
	if trade.size*size >= 0 {
		panic("broker: reduce size must oppose the trade direction")
	}
	if math.Abs(trade.size) < math.Abs(size) {
		panic("broker: cannot reduce a trade by more than its size")
	}

	sizeLeft := trade.size + size
	closed := trade
	if sizeLeft != 0 {
		trade.replace(tradePatch{size: &sizeLeft})
		if trade.slOrder != nil {
			trade.slOrder.Replace(OrderPatch{Size: ptr(-trade.size)})
		}
		if trade.tpOrder != nil {
			trade.tpOrder.Replace(OrderPatch{Size: ptr(-trade.size)})
		}
		closed = trade.copyWith(tradePatch{size: ptr(-size), dropSL: true, dropTP: true})
		b.trades = append(b.trades, closed)
	}
	b.closeTrade(closed, price, timeIndex)
}

// adjustPrice applies commission to price: longs pay a premium, shorts
// receive a discount, symmetric for rebates.
func (b *Broker) adjustPrice(size, price float64) float64 {
	return price * (1 + b.commission*sign(size))
}

// Cash returns the current account cash.
func (b *Broker) Cash() float64 { return b.cash }

// Index returns the current bar cursor.
func (b *Broker) Index() int { return b.i }

// LastPrice returns the close of the bar under the cursor (or of the final
// bar once the run is complete).
func (b *Broker) LastPrice() float64 {
	i := b.i
	if i == b.data.Len() {
		i--
	}
	return b.data.At(i).Close
}

// Equity returns cash plus the unrealized PL of all open trades.
func (b *Broker) Equity() float64 {
	equity := b.cash
	for _, t := range b.trades {
		equity += t.PL()
	}
	return equity
}

// MarginAvailable returns the equity left after margin held against open
// trades, floored at zero.
func (b *Broker) MarginAvailable() float64 {
	var used float64
	for _, t := range b.trades {
		used += t.Value() / b.leverage
	}
	return math.Max(0, b.Equity()-used)
}

// Position returns the aggregate view over the open trades.
func (b *Broker) Position() *Position { return &Position{broker: b} }

// Orders returns a snapshot of the pending order list.
func (b *Broker) Orders() []*Order { return append([]*Order(nil), b.orders...) }

// Trades returns a snapshot of the open trade list.
func (b *Broker) Trades() []*Trade { return append([]*Trade(nil), b.trades...) }

// ClosedTrades returns a snapshot of the closed trade log.
func (b *Broker) ClosedTrades() []*Trade { return append([]*Trade(nil), b.closedTrades...) }

// Equities returns a copy of the per-bar equity series. Slots for bars not
// yet simulated hold NaN; after bankruptcy the whole series is zero.
func (b *Broker) Equities() []float64 { return append([]float64(nil), b.equities...) }

func (b *Broker) hasOrder(order *Order) bool {
	for _, o := range b.orders {
		if o == order {
			return true
		}
	}
	return false
}

func (b *Broker) removeOrder(order *Order) {
	for i, o := range b.orders {
		if o == order {
			b.orders = append(b.orders[:i], b.orders[i+1:]...)
			return
		}
	}
}

func (b *Broker) hasTrade(trade *Trade) bool {
	for _, t := range b.trades {
		if t == trade {
			return true
		}
	}
	return false
}

func (b *Broker) removeTrade(trade *Trade) {
	for i, t := range b.trades {
		if t == trade {
			b.trades = append(b.trades[:i], b.trades[i+1:]...)
			return
		}
	}
}

func fmtOpt(p *float64) string {
	if p == nil {
		return "none"
	}
	return fmt.Sprintf("%v", *p)
}
