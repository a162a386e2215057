// Package clock supplies the time source for deadlines and countdowns.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time source shared by lifecycle and presence
type Clock interface {
	// Now returns the current time, carrying the monotonic reading when real
	Now() time.Time

	// AfterFunc runs fn in its own goroutine once d has elapsed
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable countdown
type Timer interface {
	// Stop reports whether it prevented fn from running
	Stop() bool
}

// Deadline returns an absolute UTC deadline d from now, truncated to the
// millisecond precision it is published with
func Deadline(c Clock, d time.Duration) time.Time {
	return c.Now().Add(d).UTC().Truncate(time.Millisecond)
}

// Remaining returns how long until deadline, never negative
func Remaining(c Clock, deadline time.Time) time.Duration {
	left := deadline.Sub(c.Now())
	if left < 0 {
		return 0
	}
	return left
}

// Real returns the wall clock
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Fake is a manually advanced clock for tests
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *Fake
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

// NewFake creates a fake clock starting at start
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc registers a countdown that fires during Advance
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{clock: f, at: f.now.Add(d), seq: f.seq, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves time forward and synchronously runs every countdown that
// became due, in deadline order
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now

	var due []*fakeTimer
	pending := f.timers[:0]
	for _, t := range f.timers {
		switch {
		case t.stopped:
		case !t.at.After(now):
			t.fired = true
			due = append(due, t)
		default:
			pending = append(pending, t)
		}
	}
	f.timers = pending
	f.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of armed countdowns
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
