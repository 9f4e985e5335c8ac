package node

import (
	"sync"
	"time"
)

// ControlTimer turns bursts of Trigger calls into calls to fire spaced at
// least interval apart. When maxInterval is not zero, fire is also called if
// that long passes without one.
type ControlTimer struct {
	fire func()

	l           sync.Mutex
	interval    time.Duration
	maxInterval time.Duration

	triggerCh    chan struct{}
	resetCh      chan struct{}
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewControlTimer creates a ControlTimer. Nothing fires until Run is called.
func NewControlTimer(interval, maxInterval time.Duration, fire func()) *ControlTimer {
	return &ControlTimer{
		fire:        fire,
		interval:    interval,
		maxInterval: maxInterval,
		triggerCh:   make(chan struct{}, 1),
		resetCh:     make(chan struct{}, 1),
		shutdownCh:  make(chan struct{}),
	}
}

// Run calls fire as requested until Shutdown.
func (c *ControlTimer) Run() {
	var (
		last     time.Time
		dirty    bool
		timer    <-chan time.Time
		maxTimer <-chan time.Time
	)

	setMaxTimer := func() {
		maxTimer = nil
		if _, max := c.intervals(); max > 0 {
			maxTimer = time.After(max)
		}
	}
	send := func() {
		c.fire()
		last = time.Now()
		dirty = false
		timer = nil
		setMaxTimer()
	}

	setMaxTimer()
	for {
		select {
		case <-c.triggerCh:
			dirty = true
			if timer == nil {
				interval, _ := c.intervals()
				wait := interval - time.Since(last)
				if wait < 0 {
					wait = 0
				}
				timer = time.After(wait)
			}
		case <-timer:
			timer = nil
			if dirty {
				send()
			}
		case <-maxTimer:
			send()
		case <-c.resetCh:
			setMaxTimer()
		case <-c.shutdownCh:
			return
		}
	}
}

// Trigger requests a call to fire. It never blocks.
func (c *ControlTimer) Trigger() {
	select {
	case c.triggerCh <- struct{}{}:
	default:
	}
}

// Reset changes the intervals. They apply from the next call to fire.
func (c *ControlTimer) Reset(interval, maxInterval time.Duration) {
	c.l.Lock()
	c.interval = interval
	c.maxInterval = maxInterval
	c.l.Unlock()

	select {
	case c.resetCh <- struct{}{}:
	default:
	}
}

// Shutdown stops Run. It can be called more than once.
func (c *ControlTimer) Shutdown() {
	c.shutdownOnce.Do(func() { close(c.shutdownCh) })
}

func (c *ControlTimer) intervals() (time.Duration, time.Duration) {
	c.l.Lock()
	defer c.l.Unlock()
	return c.interval, c.maxInterval
}
