// Package ts provides the game clock.  Timestamps in the ledger and the
// archive are human-facing, so they're kept to whole seconds.
package ts

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock wraps a clockwork.Clock so that Now is convenient for records.
type Clock struct {
	realClock clockwork.Clock
}

func NewRealClock() *Clock {
	return NewClock(clockwork.NewRealClock())
}

// NewClock wraps any clockwork clock; tests hand in a fake one.
func NewClock(c clockwork.Clock) *Clock {
	return &Clock{realClock: c}
}

// Now provides a timestamp truncated to the second, in local time.
// Truncate also drops the monotonic reading, so values survive a
// serialization round trip unchanged.
func (c *Clock) Now() time.Time {
	return c.realClock.Now().Local().Truncate(time.Second)
}

func (c *Clock) RealClock() clockwork.Clock {
	return c.realClock
}
