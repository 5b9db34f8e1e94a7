package dvr

import (
	"sync"
	"sync/atomic"
	"time"
)

// Handle identifies a record or playback session to the application. It
// wraps the session's serial number; stale handles referring to a recycled
// slot fail the sn check rather than touching the new occupant.
type Handle uint64

// serialCounter mints session serial numbers. Zero is reserved for "slot
// free", so the counter skips it on wrap.
var serialCounter atomic.Uint64

func nextSerial() uint64 {
	for {
		sn := serialCounter.Add(1)
		if sn != 0 {
			return sn
		}
	}
}

// sessionSlot is one entry of a fixed session table. The slot owns its own
// lock so sessions do not contend with each other; sn is additionally
// atomic so workers can scan the table without taking every lock.
type sessionSlot[S any] struct {
	mu   sync.Mutex
	sn   atomic.Uint64
	sess S
}

// lockIf acquires the slot lock with a bounded retry so a worker can keep
// observing its shutdown flag while an API call holds the lock. Returns
// false, without the lock, once running is cleared.
func (s *sessionSlot[S]) lockIf(running *atomic.Bool) bool {
	for running.Load() {
		if s.mu.TryLock() {
			if !running.Load() {
				s.mu.Unlock()
				return false
			}
			return true
		}
		time.Sleep(lockRetryInterval)
	}
	return false
}

// sessionTable is a fixed-capacity table of session slots addressed by
// serial number.
type sessionTable[S any] struct {
	slots [MaxSessions]sessionSlot[S]
}

// allocate claims a free slot, assigns a fresh serial number, and returns
// the slot locked. Callers unlock after initializing the session.
func (t *sessionTable[S]) allocate() (*sessionSlot[S], uint64, error) {
	for i := range t.slots {
		slot := &t.slots[i]
		slot.mu.Lock()
		if slot.sn.Load() == 0 {
			sn := nextSerial()
			slot.sn.Store(sn)
			return slot, sn, nil
		}
		slot.mu.Unlock()
	}
	return nil, 0, ErrNoSlot
}

// find returns the slot currently carrying sn, or nil. The match must be
// re-validated under the slot lock before use.
func (t *sessionTable[S]) find(sn uint64) *sessionSlot[S] {
	if sn == 0 {
		return nil
	}
	for i := range t.slots {
		if t.slots[i].sn.Load() == sn {
			return &t.slots[i]
		}
	}
	return nil
}

// release frees the slot. Must be called with the slot lock held.
func (t *sessionTable[S]) release(slot *sessionSlot[S]) {
	var zero S
	slot.sess = zero
	slot.sn.Store(0)
}
