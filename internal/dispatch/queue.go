package dispatch

import "wabot/internal/storage"

// jobQueue is an ordered FIFO with front re-insertion for window-blocked
// jobs. Not safe for concurrent use; the engine's mutex guards it.
type jobQueue struct {
	items []storage.Job
}

func (q *jobQueue) Len() int { return len(q.items) }

func (q *jobQueue) PushBack(j storage.Job) { q.items = append(q.items, j) }

// PushFront re-inserts ahead of everything else. This deliberately reorders
// relative to pure FIFO for window-blocked and persistence-failed jobs.
func (q *jobQueue) PushFront(j storage.Job) {
	q.items = append([]storage.Job{j}, q.items...)
}

func (q *jobQueue) Peek() (storage.Job, bool) {
	if len(q.items) == 0 {
		return storage.Job{}, false
	}
	return q.items[0], true
}

func (q *jobQueue) PopFront() (storage.Job, bool) {
	if len(q.items) == 0 {
		return storage.Job{}, false
	}
	j := q.items[0]
	q.items = q.items[1:]
	return j, true
}

// Drain empties the queue and returns what was in it, in order.
func (q *jobQueue) Drain() []storage.Job {
	out := q.items
	q.items = nil
	return out
}
