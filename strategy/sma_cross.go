package strategy

import (
	"fmt"

	"github.com/rustyeddy/backtester/broker"
	"github.com/rustyeddy/backtester/indicators"
)

func init() {
	Register("sma-cross", func(params map[string]float64) Strategy {
		s := NewSmaCross()
		if v, ok := params["n1"]; ok {
			s.N1 = int(v)
		}
		if v, ok := params["n2"]; ok {
			s.N2 = int(v)
		}
		if v, ok := params["size"]; ok {
			s.Size = v
		}
		return s
	})
}

// SmaCross goes long when the fast SMA crosses above the slow one and
// reverses short on the opposite cross. Longs are bracketed with a 10%
// stop-loss and a 15% take-profit.
type SmaCross struct {
	Base

	N1   int
	N2   int
	Size float64
}

// NewSmaCross returns an SmaCross with the default 20/60 periods, sized at
// 95% of available margin.
func NewSmaCross() *SmaCross {
	return &SmaCross{N1: 20, N2: 60, Size: 0.95}
}

func (s *SmaCross) Name() string {
	return fmt.Sprintf("SmaCross(n1=%d,n2=%d)", s.N1, s.N2)
}

func (s *SmaCross) Init() error {
	closes := s.Data.Closes()

	lineA, err := indicators.SMA(closes, s.N1)
	if err != nil {
		return err
	}
	s.AddIndicator("lineA", lineA)

	lineB, err := indicators.SMA(closes, s.N2)
	if err != nil {
		return err
	}
	s.AddIndicator("lineB", lineB)

	s.AddSignal("crossUp", indicators.CrossUp(lineA, lineB))
	s.AddSignal("crossDown", indicators.CrossDown(lineA, lineB))
	return nil
}

func (s *SmaCross) Next(ctx *Context) error {
	if ctx.Index < s.N1 || ctx.Index < s.N2 {
		return nil
	}

	price := ctx.Bar.Close
	if ctx.Signals["crossUp"] {
		sl, tp := price*0.9, price*1.15
		_, err := s.Buy(broker.OrderRequest{Size: s.Size, SL: &sl, TP: &tp})
		return err
	}
	if ctx.Signals["crossDown"] {
		_, err := s.Sell(broker.OrderRequest{Size: s.Size})
		return err
	}
	return nil
}
