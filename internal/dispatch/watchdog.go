package dispatch

import (
	"sync"
	"time"
)

// watchdog watches the inbound-confirmation channel while jobs are in
// flight. Silence past the timeout means the receiving pipeline is broken
// and the whole engine must fail safe rather than keep blasting messages
// nobody confirms.
//
// State machine: idle -> armed -> (reset: re-arm) -> (timeout: trip).
type watchdog struct {
	mu      sync.Mutex
	timeout time.Duration
	timer   *time.Timer
	armed   bool
	onTrip  func()
}

func newWatchdog(timeout time.Duration, onTrip func()) *watchdog {
	return &watchdog{timeout: timeout, onTrip: onTrip}
}

func (w *watchdog) setTimeout(d time.Duration) {
	w.mu.Lock()
	w.timeout = d
	w.mu.Unlock()
}

// arm starts the timer on the idle->armed transition only. A second arm
// while armed is a no-op: dispatching more jobs is not a sign of life from
// the receiving side, so only reset() moves the deadline.
func (w *watchdog) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.armed {
		return
	}
	w.armed = true
	w.timer = time.AfterFunc(w.timeout, func() {
		w.mu.Lock()
		tripped := w.armed
		w.armed = false
		w.mu.Unlock()
		if tripped && w.onTrip != nil {
			w.onTrip()
		}
	})
}

// reset re-arms from now. A reset while idle is a no-op: confirmations with
// nothing in flight carry no signal.
func (w *watchdog) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.armed {
		w.timer.Reset(w.timeout)
	}
}

func (w *watchdog) disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed {
		return
	}
	w.armed = false
	w.timer.Stop()
}

func (w *watchdog) isArmed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}
