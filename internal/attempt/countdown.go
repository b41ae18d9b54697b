package attempt

import (
	"sync"
	"time"
)

// Countdown is a cancellable repeating task: it invokes tick once per
// interval until tick returns false or Stop is called. Stop is
// synchronous and idempotent; once it returns, no further tick runs.
type Countdown struct {
	interval time.Duration
	tick     func() bool

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
	started bool
}

func NewCountdown(interval time.Duration, tick func() bool) *Countdown {
	return &Countdown{
		interval: interval,
		tick:     tick,
		done:     make(chan struct{}),
	}
}

// Start launches the ticking goroutine. Starting twice is a no-op.
func (c *Countdown) Start() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	go c.loop()
}

func (c *Countdown) loop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.stopped {
				c.mu.Unlock()
				return
			}
			// tick runs under the lock so Stop blocks until any
			// in-flight tick completes.
			cont := c.tick()
			if !cont {
				c.stopped = true
			}
			c.mu.Unlock()
			if !cont {
				return
			}
		}
	}
}

// Stop cancels the countdown. After Stop returns no tick callback is
// running or will run again.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.done)
}
