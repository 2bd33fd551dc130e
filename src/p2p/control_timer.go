package p2p

import (
	"math/rand"
	"time"
)

type timerFactory func(time.Duration) <-chan time.Time

// ControlTimer ticks once per period. Reset rearms it, so a component can
// trigger the next tick early or late depending on what it just did.
type ControlTimer struct {
	timerFactory timerFactory
	tickCh       chan struct{}      // signals the owner
	resetCh      chan time.Duration // rearms the timer
	stopCh       chan struct{}      // disarms the timer
	shutdownCh   chan struct{}      // exits Run
}

// NewControlTimer ...
func NewControlTimer(timerFactory timerFactory) *ControlTimer {
	return &ControlTimer{
		timerFactory: timerFactory,
		tickCh:       make(chan struct{}),
		resetCh:      make(chan time.Duration),
		stopCh:       make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

// NewRandomControlTimer returns a timer firing between min and 2*min after
// each reset. Nodes started together do not maintain their connections in
// lockstep.
func NewRandomControlTimer() *ControlTimer {
	randomTimeout := func(min time.Duration) <-chan time.Time {
		if min <= 0 {
			return nil
		}
		extra := time.Duration(rand.Int63()) % min
		return time.After(min + extra)
	}
	return NewControlTimer(randomTimeout)
}

// Run arms the timer with init and serves it until Shutdown.
func (c *ControlTimer) Run(init time.Duration) {
	timer := c.timerFactory(init)
	for {
		select {
		case <-timer:
			timer = nil
			select {
			case c.tickCh <- struct{}{}:
			case <-c.shutdownCh:
				return
			}
		case t := <-c.resetCh:
			timer = c.timerFactory(t)
		case <-c.stopCh:
			timer = nil
		case <-c.shutdownCh:
			return
		}
	}
}

// Tick ...
func (c *ControlTimer) Tick() <-chan struct{} {
	return c.tickCh
}

// Reset rearms the timer with period t.
func (c *ControlTimer) Reset(t time.Duration) {
	select {
	case c.resetCh <- t:
	case <-c.shutdownCh:
	}
}

// Stop disarms the timer until the next Reset.
func (c *ControlTimer) Stop() {
	select {
	case c.stopCh <- struct{}{}:
	case <-c.shutdownCh:
	}
}

// Shutdown ...
func (c *ControlTimer) Shutdown() {
	close(c.shutdownCh)
}
