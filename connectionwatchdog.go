package signalr

import (
	"sync"
	"time"
)

// idleWatchdog barks when it has not been fed for its timeout.
// Feeding moves the deadline, the timer is only rescheduled when it fires before the deadline.
// A watchdog with a timeout of 0 never barks.
type idleWatchdog struct {
	mx       sync.Mutex
	timeout  time.Duration
	deadline time.Time
	timer    *time.Timer
	bark     func()
	stopped  bool
}

func newIdleWatchdog(timeout time.Duration, bark func()) *idleWatchdog {
	return &idleWatchdog{
		timeout: timeout,
		bark:    bark,
	}
}

// Start arms the watchdog.
func (d *idleWatchdog) Start() {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.timeout <= 0 || d.stopped || d.timer != nil {
		return
	}
	d.deadline = time.Now().Add(d.timeout)
	d.timer = time.AfterFunc(d.timeout, d.check)
}

// Feed moves the deadline to timeout from now.
func (d *idleWatchdog) Feed() {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.timer != nil && !d.stopped {
		d.deadline = time.Now().Add(d.timeout)
	}
}

// Stop disarms the watchdog for good.
func (d *idleWatchdog) Stop() {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *idleWatchdog) check() {
	d.mx.Lock()
	if d.stopped {
		d.mx.Unlock()
		return
	}
	if remaining := time.Until(d.deadline); remaining > 0 {
		d.timer.Reset(remaining)
		d.mx.Unlock()
		return
	}
	d.stopped = true
	d.mx.Unlock()
	d.bark()
}
