package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotPoolNothingPublished(t *testing.T) {
	pool := NewSnapshotPool(4)
	assert.Nil(t, pool.AcquireRead())
}

func TestSnapshotPoolNeverWritesPublishedSlot(t *testing.T) {
	pool := NewSnapshotPool(4)

	snap := pool.AcquireWrite()
	snap.Tick = 1
	pool.PublishWrite()

	for i := 0; i < 10; i++ {
		w := pool.AcquireWrite()
		assert.NotEqual(t, pool.readIdx, pool.writeIdx)
		w.Tick = 99

		read := pool.AcquireRead()
		require.NotNil(t, read)
		assert.NotEqual(t, uint64(99), read.Tick, "unpublished writes stay invisible")

		w.Tick = uint64(i + 2)
		pool.PublishWrite()
		assert.Equal(t, uint64(i+2), pool.AcquireRead().Tick)
	}
}

func TestSnapshotSequenceIncreases(t *testing.T) {
	pool := NewSnapshotPool(4)
	var last uint64
	for i := 0; i < 5; i++ {
		snap := pool.AcquireWrite()
		snap.Vehicles = append(snap.Vehicles, VehicleView{ID: uint64(i)})
		pool.PublishWrite()

		read := pool.AcquireRead()
		assert.Greater(t, read.Sequence, last)
		assert.Len(t, read.Vehicles, 1, "slices are reset on reuse")
		last = read.Sequence
	}
}
