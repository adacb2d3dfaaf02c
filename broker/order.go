package broker

import "math"

// Order is an instruction to change position size. A plain order fills at
// the next market price; limit/stop prices make it conditional. Orders with
// a parent trade are contingent bracket (SL/TP) or partial-close orders.
//
// Orders are owned by the Broker's order list; the parent reference is a
// lookup handle only and never keeps a trade alive.
type Order struct {
	broker *Broker
	size   float64
	limit  *float64
	stop   *float64
	sl     *float64
	tp     *float64
	parent *Trade
	tag    string
}

// OrderPatch is a sparse set of Order field overrides. Pointer fields are
// applied only when non-nil; ClearStop strips a triggered stop outright.
type OrderPatch struct {
	Size      *float64
	Limit     *float64
	Stop      *float64
	SL        *float64
	TP        *float64
	Tag       *string
	ClearStop bool
}

// Size returns the order size, negative for short orders.
//
// A magnitude below 1 is interpreted as a fraction of available margin;
// a magnitude of 1 or more is an absolute number of units.
func (o *Order) Size() float64 { return o.size }

// Limit returns the limit price and whether one is set. Orders without a
// limit fill at the next available price.
func (o *Order) Limit() (float64, bool) { return deref(o.limit) }

// Stop returns the stop trigger price and whether one is still pending.
// The stop is cleared the bar it triggers.
func (o *Order) Stop() (float64, bool) { return deref(o.stop) }

// SL returns the stop-loss price a resulting trade will be bracketed with.
func (o *Order) SL() (float64, bool) { return deref(o.sl) }

// TP returns the take-profit price a resulting trade will be bracketed with.
func (o *Order) TP() (float64, bool) { return deref(o.tp) }

// Parent returns the trade this order is contingent on, or nil.
func (o *Order) Parent() *Trade { return o.parent }

// Tag returns the opaque tag propagated to the resulting trade.
func (o *Order) Tag() string { return o.tag }

// IsLong reports whether the order increases a long position.
func (o *Order) IsLong() bool { return o.size > 0 }

// IsShort reports whether the order increases a short position.
func (o *Order) IsShort() bool { return o.size < 0 }

// IsContingent reports whether the order is a bracket or partial-close order
// tied to an open trade. Contingent orders are canceled when their parent
// trade closes.
func (o *Order) IsContingent() bool { return o.parent != nil }

// Cancel removes the order from its broker's pending list and clears the
// parent trade's SL/TP registration if this order backed it. Canceling an
// already-removed order is a no-op.
func (o *Order) Cancel() {
	o.broker.removeOrder(o)
	if t := o.parent; t != nil {
		if t.slOrder == o {
			t.slOrder = nil
		}
		if t.tpOrder == o {
			t.tpOrder = nil
		}
	}
}

// Replace mutates only the fields present in the patch and returns the
// same order.
func (o *Order) Replace(patch OrderPatch) *Order {
	if patch.Size != nil {
		o.size = *patch.Size
	}
	if patch.Limit != nil {
		o.limit = ptr(*patch.Limit)
	}
	if patch.Stop != nil {
		o.stop = ptr(*patch.Stop)
	}
	if patch.ClearStop {
		o.stop = nil
	}
	if patch.SL != nil {
		o.sl = ptr(*patch.SL)
	}
	if patch.TP != nil {
		o.tp = ptr(*patch.TP)
	}
	if patch.Tag != nil {
		o.tag = *patch.Tag
	}
	return o
}

func deref(p *float64) (float64, bool) {
	if p == nil {
		return math.NaN(), false
	}
	return *p, true
}

func ptr(v float64) *float64 { return &v }

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
