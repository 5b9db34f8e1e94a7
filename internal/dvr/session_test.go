package dvr

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialNumbersSkipZero(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		sn := nextSerial()
		assert.NotZero(t, sn)
		assert.False(t, seen[sn], "serial %d repeated", sn)
		seen[sn] = true
	}
}

func TestSessionTableAllocateToCapacity(t *testing.T) {
	var table sessionTable[*int]

	var slots []*sessionSlot[*int]
	for i := 0; i < MaxSessions; i++ {
		slot, sn, err := table.allocate()
		require.NoError(t, err)
		assert.NotZero(t, sn)
		slot.mu.Unlock()
		slots = append(slots, slot)
	}

	_, _, err := table.allocate()
	assert.ErrorIs(t, err, ErrNoSlot)

	// Releasing one slot makes room again.
	slots[3].mu.Lock()
	table.release(slots[3])
	slots[3].mu.Unlock()

	slot, _, err := table.allocate()
	require.NoError(t, err)
	slot.mu.Unlock()
}

func TestSessionTableFindBySerial(t *testing.T) {
	var table sessionTable[*int]

	slot, sn, err := table.allocate()
	require.NoError(t, err)
	value := 42
	slot.sess = &value
	slot.mu.Unlock()

	found := table.find(sn)
	require.NotNil(t, found)
	assert.Same(t, slot, found)

	assert.Nil(t, table.find(0))
	assert.Nil(t, table.find(sn+100_000))

	// After release, the old serial no longer resolves.
	slot.mu.Lock()
	table.release(slot)
	slot.mu.Unlock()
	assert.Nil(t, table.find(sn))
}

func TestLockIfObservesShutdown(t *testing.T) {
	var slot sessionSlot[*int]
	var running atomic.Bool
	running.Store(true)

	// Uncontended: lock acquired.
	require.True(t, slot.lockIf(&running))
	slot.mu.Unlock()

	// Contended with a shutdown in flight: lockIf gives up promptly.
	slot.mu.Lock()
	done := make(chan bool)
	go func() {
		done <- slot.lockIf(&running)
	}()
	time.Sleep(30 * time.Millisecond)
	running.Store(false)

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("lockIf did not observe shutdown")
	}
	slot.mu.Unlock()
}
