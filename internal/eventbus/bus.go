package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the dispatch pipeline. The operator dashboard
// subscribes to all of them; components only publish.
const (
	TypeLog           = "log"            // LogEvent
	TypeQueueUpdate   = "queue.update"   // QueueEvent
	TypeWorkersUpdate = "workers.update" // WorkersEvent
	TypeWindowUpdate  = "window.update"  // WindowEvent
	TypeJobStarted    = "job.started"    // JobEvent
	TypeJobSent       = "job.sent"       // JobEvent
	TypeJobRetry      = "job.retry"      // JobEvent
	TypeJobFailed     = "job.failed"     // JobEvent
	TypeActivation    = "window.activated"
	TypeSystemFailure = "system.failure" // FailureEvent
	TypeSystemResume  = "system.resume"
)

// LogEvent mirrors a log record onto the bus as (text, severity).
type LogEvent struct {
	Text     string `json:"text"`
	Severity string `json:"severity"`
}

type QueueEvent struct {
	Length int `json:"length"`
}

type WorkersEvent struct {
	Available int `json:"available"`
	Active    int `json:"active"`
}

type WindowEvent struct {
	Recipient string `json:"recipient"`
	Status    string `json:"status"`
	Detail    string `json:"detail"`
}

type JobEvent struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
}

type FailureEvent struct {
	Message string `json:"message"`
}

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and JSON-serializable (the SSE feed re-encodes it).
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
