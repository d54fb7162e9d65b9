package animation

import (
	"context"
	"sync"
	"time"
)

// Clock supplies time to the engine. Sleep is the only place an animation
// suspends, and so the only place it notices cancellation.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is wall-clock time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// VirtualClock advances only when something sleeps on it, so a ten second
// animation runs instantly. OnSleep, when set, runs at the start of every
// Sleep call with the 1-based call count; tests use it to cancel at a chosen
// suspension point.
type VirtualClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  int
	OnSleep func(n int)
}

func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward without a sleep, simulating slow work.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Sleeps is the number of Sleep calls so far.
func (c *VirtualClock) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}

func (c *VirtualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps++
	n := c.sleeps
	hook := c.OnSleep
	c.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		c.Advance(d)
	}
	return nil
}

// pacer spaces steps a fixed interval apart measured from the start, so slow
// steps shorten the next sleep rather than stretching the whole animation.
type pacer struct {
	clock    Clock
	next     time.Time
	interval time.Duration
}

func newPacer(clock Clock, interval time.Duration) *pacer {
	return &pacer{clock: clock, next: clock.Now(), interval: interval}
}

func (p *pacer) wait(ctx context.Context) error {
	p.next = p.next.Add(p.interval)
	d := p.next.Sub(p.clock.Now())
	if d < 0 {
		d = 0
	}
	return p.clock.Sleep(ctx, d)
}
