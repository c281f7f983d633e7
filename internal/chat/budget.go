package chat

import "time"

// frameBudget limits how fast one session may submit frames. It allows a
// burst of frames at once and then one frame per interval/burst, tracked as
// the earliest time the next frame would be in budget with no burst left.
//
// A budget is owned by a single session read loop and is not safe for
// concurrent use.
type frameBudget struct {
	emission  time.Duration
	tolerance time.Duration
	next      time.Time
	now       func() time.Time
}

func newFrameBudget(burst int, interval time.Duration, now func() time.Time) *frameBudget {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	if now == nil {
		now = time.Now
	}

	emission := interval / time.Duration(burst)
	if emission <= 0 {
		emission = time.Nanosecond
	}
	return &frameBudget{
		emission:  emission,
		tolerance: emission * time.Duration(burst-1),
		next:      now(),
		now:       now,
	}
}

// take spends one frame. When the budget is exhausted it returns false and
// how long until a frame would be accepted again.
func (b *frameBudget) take() (bool, time.Duration) {
	now := b.now()
	next := b.next
	if next.Before(now) {
		next = now
	}

	if ahead := next.Sub(now); ahead > b.tolerance {
		return false, ahead - b.tolerance
	}
	b.next = next.Add(b.emission)
	return true, 0
}
