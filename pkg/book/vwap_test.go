package book

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ladderBook(t *testing.T) *Book {
	t.Helper()
	b := New(2001, "AGGR", 5, 0.01)
	now := time.Now()
	seq := SeqNum(0)
	add := func(isBid bool, px, qty float64) {
		seq++
		require.GreaterOrEqual(t, b.Update(isBid, px, qty, seq, now, now), 0)
	}
	add(true, 50.00, 10)
	add(true, 49.99, 20)
	add(true, 49.98, 30)
	add(false, 50.02, 10)
	add(false, 50.03, 20)
	return b
}

func TestVWAPWithinOneLevel(t *testing.T) {
	b := ladderBook(t)
	assert.InDelta(t, 50.00, b.VWAP(Bid, 10), 1e-9)
	assert.InDelta(t, 50.02, b.VWAP(Ask, 5), 1e-9)
}

func TestVWAPAcrossLevels(t *testing.T) {
	b := ladderBook(t)
	// 10@50.00 + 20@49.99 over 30
	want := (10*50.00 + 20*49.99) / 30
	assert.InDelta(t, want, b.VWAP(Bid, 30), 1e-9)
}

func TestVWAPInsufficientLiquidity(t *testing.T) {
	b := ladderBook(t)
	assert.True(t, math.IsNaN(b.VWAP(Bid, 1000)),
		"Band beyond visible depth must be unquotable")
	assert.True(t, math.IsNaN(b.VWAP(Ask, 31)))
}

func TestVWAPEmptyBook(t *testing.T) {
	b := New(1, "EMPTY", 5, 0.01)
	assert.True(t, math.IsNaN(b.VWAP(Bid, 1)))
	assert.True(t, math.IsNaN(b.VWAP(Ask, 1)))
}

func TestVWAPInvalidBand(t *testing.T) {
	b := ladderBook(t)
	assert.True(t, math.IsNaN(b.VWAP(Bid, 0)))
	assert.True(t, math.IsNaN(b.VWAP(Bid, -5)))
	assert.True(t, math.IsNaN(b.VWAP(Bid, math.NaN())))
}

func TestQtyAhead(t *testing.T) {
	b := ladderBook(t)

	// joining 49.99: the 50.00 level and the 49.99 level fill first
	assert.InDelta(t, 30, b.QtyAhead(Bid, 49.99), 1e-9)
	// improving to 50.01: nothing rests better
	assert.InDelta(t, 0, b.QtyAhead(Bid, 50.01), 1e-9)
	// behind everything
	assert.InDelta(t, 60, b.QtyAhead(Bid, 49.90), 1e-9)

	assert.InDelta(t, 10, b.QtyAhead(Ask, 50.02), 1e-9)
	assert.InDelta(t, 30, b.QtyAhead(Ask, 50.05), 1e-9)
}
