package sender

import (
	"errors"
	"fmt"
	"sync"
)

// Identity is one credential/endpoint pair in the rotation pool.
// Index is stable for the life of the process; Token is opaque to callers.
type Identity struct {
	Index   int
	PhoneID string
	Token   string
}

// Pool is a fixed set of interchangeable sender identities, each usable by
// at most one in-flight job sequence.
//
// Acquire is non-blocking: callers poll/requeue when the pool is empty.
// The available and in-use sets always partition the whole pool.
type Pool struct {
	mu        sync.Mutex
	idents    []Identity
	available map[int]struct{}
}

var ErrEmpty = errors.New("sender pool is empty")

// NewPool builds a pool from (phone id, token) pairs. Pool size is fixed at
// process start; a mismatched or empty credential set refuses to start.
func NewPool(phoneIDs, tokens []string) (*Pool, error) {
	if len(phoneIDs) == 0 {
		return nil, ErrEmpty
	}
	if len(phoneIDs) != len(tokens) {
		return nil, fmt.Errorf("sender pool: %d phone ids but %d tokens", len(phoneIDs), len(tokens))
	}
	p := &Pool{
		idents:    make([]Identity, len(phoneIDs)),
		available: make(map[int]struct{}, len(phoneIDs)),
	}
	for i := range phoneIDs {
		p.idents[i] = Identity{Index: i, PhoneID: phoneIDs[i], Token: tokens[i]}
		p.available[i] = struct{}{}
	}
	return p, nil
}

// Size returns the fixed pool size.
func (p *Pool) Size() int { return len(p.idents) }

// Acquire takes an available identity, or reports false if all are in use.
func (p *Pool) Acquire() (Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for idx := range p.available {
		delete(p.available, idx)
		return p.idents[idx], true
	}
	return Identity{}, false
}

// Release returns an identity to the pool. Releasing an identity that is
// already available is a no-op (the partition invariant holds either way).
func (p *Pool) Release(id Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id.Index < 0 || id.Index >= len(p.idents) {
		return
	}
	p.available[id.Index] = struct{}{}
}

// Available reports how many identities are free right now.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// InUse reports how many identities are currently owned by sequences.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idents) - len(p.available)
}
