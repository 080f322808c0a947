package quota

import "sync/atomic"

const unknown = -1 << 62

// Tracker holds the latest remaining-call budget reported by the API and the
// caller's floor. It has no side effects beyond storing the value.
type Tracker struct {
	floor     int64
	remaining atomic.Int64
}

// New creates a tracker that stops once the remaining budget is at or below floor.
func New(floor int) *Tracker {
	t := &Tracker{floor: int64(floor)}
	t.remaining.Store(unknown)
	return t
}

// Update stores the latest quota_remaining value.
func (t *Tracker) Update(remaining int) {
	t.remaining.Store(int64(remaining))
}

// ShouldStop reports whether remaining <= floor. Before the first update the
// budget is unknown and fetching may proceed.
func (t *Tracker) ShouldStop() bool {
	r := t.remaining.Load()
	return r != unknown && r <= t.floor
}

// Remaining returns the latest value and whether one has been reported.
func (t *Tracker) Remaining() (int, bool) {
	r := t.remaining.Load()
	if r == unknown {
		return 0, false
	}
	return int(r), true
}

// Floor returns the caller-supplied stop threshold.
func (t *Tracker) Floor() int {
	return int(t.floor)
}
