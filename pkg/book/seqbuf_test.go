package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collector() (*[]SeqNum, ApplyFunc) {
	applied := &[]SeqNum{}
	return applied, func(upd BufferedUpdate) {
		*applied = append(*applied, upd.Seq)
	}
}

func TestSeqBufInOrder(t *testing.T) {
	applied, apply := collector()
	sb := NewSeqNumBuffer(1, 8, apply)

	for seq := SeqNum(1); seq <= 4; seq++ {
		require.NoError(t, sb.Push(BufferedUpdate{Seq: seq}))
	}
	assert.Equal(t, []SeqNum{1, 2, 3, 4}, *applied)
	assert.Equal(t, SeqNum(5), sb.Next())
	assert.Zero(t, sb.Pending())
}

func TestSeqBufOutOfOrderReplay(t *testing.T) {
	applied, apply := collector()
	sb := NewSeqNumBuffer(1, 8, apply)

	require.NoError(t, sb.Push(BufferedUpdate{Seq: 1}))
	require.NoError(t, sb.Push(BufferedUpdate{Seq: 4}))
	require.NoError(t, sb.Push(BufferedUpdate{Seq: 3}))
	assert.Equal(t, []SeqNum{1}, *applied, "Held updates must wait for the gap")
	assert.Equal(t, 2, sb.Pending())

	require.NoError(t, sb.Push(BufferedUpdate{Seq: 2}))
	assert.Equal(t, []SeqNum{1, 2, 3, 4}, *applied,
		"Gap fill must drain held updates in sequence order")
	assert.Zero(t, sb.Pending())
	assert.Equal(t, SeqNum(5), sb.Next())
}

func TestSeqBufDuplicateSuppression(t *testing.T) {
	applied, apply := collector()
	sb := NewSeqNumBuffer(1, 8, apply)

	require.NoError(t, sb.Push(BufferedUpdate{Seq: 1}))
	require.NoError(t, sb.Push(BufferedUpdate{Seq: 1}), "Replayed past update is not an error")
	require.NoError(t, sb.Push(BufferedUpdate{Seq: 3}))
	require.NoError(t, sb.Push(BufferedUpdate{Seq: 3}), "Held duplicate is suppressed too")

	assert.Equal(t, []SeqNum{1}, *applied)
	dups, buffered, _ := sb.Stats()
	assert.Equal(t, uint64(2), dups)
	assert.Equal(t, uint64(1), buffered)

	require.NoError(t, sb.Push(BufferedUpdate{Seq: 2}))
	assert.Equal(t, []SeqNum{1, 2, 3}, *applied, "Each sequence number applies exactly once")
}

func TestSeqBufOverflowRequiresResync(t *testing.T) {
	applied, apply := collector()
	sb := NewSeqNumBuffer(1, 2, apply)

	require.NoError(t, sb.Push(BufferedUpdate{Seq: 5}))
	require.NoError(t, sb.Push(BufferedUpdate{Seq: 6}))
	err := sb.Push(BufferedUpdate{Seq: 7})
	require.ErrorIs(t, err, ErrResyncRequired)
	assert.Empty(t, *applied)

	_, _, resyncs := sb.Stats()
	assert.Equal(t, uint64(1), resyncs)

	// snapshot re-request re-arms the stream at a new base
	sb.Reset(10)
	assert.Zero(t, sb.Pending())
	require.NoError(t, sb.Push(BufferedUpdate{Seq: 10}))
	assert.Equal(t, []SeqNum{10}, *applied)
}
