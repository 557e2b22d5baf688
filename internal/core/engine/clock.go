package engine

import (
	"sync"
	"time"
)

// Clock converts local wall time into relay-synchronized milliseconds.
// The offset is calibrated once per registration.
type Clock struct {
	mu   sync.RWMutex
	diff int64
	set  bool
	now  func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// WallMillis is the uncorrected local time in milliseconds.
func (c *Clock) WallMillis() int64 {
	return c.now().UnixMilli()
}

// Now returns the corrected timestamp, or 0 before calibration.
func (c *Clock) Now() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.set {
		return 0
	}
	return c.now().UnixMilli() - c.diff
}

// Calibrate computes the offset from a registration round trip:
// serverTS is the relay's departure time, sentTS the local time the
// registration left. It returns false when the clock is already calibrated.
func (c *Clock) Calibrate(serverTS, sentTS int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		return false
	}
	now := c.now().UnixMilli()
	c.diff = now - serverTS - (now-sentTS+1)/2
	c.set = true
	return true
}

// Offset returns the calibrated offset in milliseconds.
func (c *Clock) Offset() (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.diff, c.set
}

// Reset forgets the offset. Called when the node stops.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diff = 0
	c.set = false
}
