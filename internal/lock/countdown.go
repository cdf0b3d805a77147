package lock

import (
	"sync"
	"time"

	"courtside/internal/domain"
)

// Countdown derives remaining whole seconds from an absolute expiry
// timestamp, recomputed once per second. Crossing zero fires the expiry
// callback exactly once no matter how many ticks land at zero. Stop is safe
// to call any number of times and after expiry; a stopped countdown never
// fires.
type Countdown struct {
	clock     domain.Clock
	expiresAt time.Time
	onTick    func(remaining int64)
	onExpire  func()

	cancel     chan struct{}
	stopOnce   sync.Once
	expireOnce sync.Once
}

func NewCountdown(clock domain.Clock, expiresAt time.Time, onTick func(int64), onExpire func()) *Countdown {
	return &Countdown{
		clock:     clock,
		expiresAt: expiresAt,
		onTick:    onTick,
		onExpire:  onExpire,
		cancel:    make(chan struct{}),
	}
}

// Start launches the ticking loop. If the expiry is already in the past the
// expiry fires on the first tick, not synchronously, so callers finish their
// own state transition first.
func (c *Countdown) Start() {
	go c.loop()
}

func (c *Countdown) loop() {
	for {
		select {
		case <-c.cancel:
			return
		case now := <-c.clock.After(time.Second):
			remaining := c.remainingAt(now)
			if c.onTick != nil {
				c.onTick(remaining)
			}
			if remaining <= 0 {
				c.fire()
				return
			}
		}
	}
}

func (c *Countdown) fire() {
	select {
	case <-c.cancel:
		// Stopped between the tick and the callback; a stale timer must not
		// issue an expiry into a new hold's context.
		return
	default:
	}
	c.expireOnce.Do(func() {
		if c.onExpire != nil {
			c.onExpire()
		}
	})
}

// Remaining returns whole seconds left right now, floored at zero.
func (c *Countdown) Remaining() int64 {
	return c.remainingAt(c.clock.Now())
}

func (c *Countdown) remainingAt(now time.Time) int64 {
	left := c.expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}

// Stop cancels the countdown.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() {
		close(c.cancel)
	})
}
