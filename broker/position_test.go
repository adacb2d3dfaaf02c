package broker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionEmpty(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(100, 101, 99, 100))
	b := newBroker(t, data, Config{})

	pos := b.Position()
	assert.Equal(t, 0.0, pos.Size())
	assert.Equal(t, 0.0, pos.PL())
	assert.True(t, math.IsNaN(pos.PLPct()))
	assert.False(t, pos.IsLong())
	assert.False(t, pos.IsShort())
}

func TestPositionAggregates(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(100, 101, 99, 100), bar(100, 101, 99, 100), bar(110, 111, 109, 110))
	b := newBroker(t, data, Config{Hedging: true})

	_, err := b.NewOrder(OrderRequest{Size: 10})
	require.NoError(t, err)
	b.Next()
	_, err = b.NewOrder(OrderRequest{Size: 5})
	require.NoError(t, err)
	b.Next()
	b.Next()

	pos := b.Position()
	assert.Equal(t, 15.0, pos.Size())
	assert.True(t, pos.IsLong())
	// 10*(110-100) + 5*(110-100) = 150
	assert.InDelta(t, 150.0, pos.PL(), 1e-9)
	assert.InDelta(t, 0.1, pos.PLPct(), 1e-9)
}

func TestPositionCloseFansOut(t *testing.T) {
	t.Parallel()

	data := barSeries(t, bar(100, 101, 99, 100), bar(100, 101, 99, 100), bar(100, 101, 99, 100))
	b := newBroker(t, data, Config{Hedging: true})

	_, err := b.NewOrder(OrderRequest{Size: 10})
	require.NoError(t, err)
	b.Next()
	_, err = b.NewOrder(OrderRequest{Size: 6})
	require.NoError(t, err)
	b.Next()
	require.Len(t, b.Trades(), 2)

	require.NoError(t, b.Position().Close(1))
	b.Next()

	assert.Empty(t, b.Trades())
	assert.Len(t, b.ClosedTrades(), 2)
	assert.Equal(t, 0.0, b.Position().Size())
}
