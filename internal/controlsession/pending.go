package controlsession

import "sync"

// pendingKey identifies one in-flight transaction: the normalized tx-id
// plus the magic it was sent under, per spec §3's PendingRequest.
type pendingKey struct {
	txID  uint32
	magic Magic
}

// completion is the one-shot result channel a waiter blocks on.
type completion chan result

type result struct {
	payload []byte
	err     error
}

// pendingTable is the concurrent map shared by the reader and writer
// tasks, grounded on the subscriber map in
// internal/serialmux/serialmux.go (map + mutex, register/unregister by
// key, drain-on-close) generalized from fan-out broadcast to single-fire
// request/response correlation.
type pendingTable struct {
	mu      sync.Mutex
	entries map[pendingKey]completion
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[pendingKey]completion)}
}

// register creates a new one-shot entry for key. It returns (nil, false)
// if an entry for key already exists (TransactionCollision).
func (p *pendingTable) register(key pendingKey) (completion, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[key]; exists {
		return nil, false
	}
	ch := make(completion, 1)
	p.entries[key] = ch
	return ch, true
}

// deregister removes key without completing it; used when a caller
// abandons a request (external cancellation) before it resolves.
func (p *pendingTable) deregister(key pendingKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
}

// resolve completes the waiter at key with payload and removes it. It
// returns false if no such waiter was registered.
func (p *pendingTable) resolve(key pendingKey, payload []byte) bool {
	p.mu.Lock()
	ch, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- result{payload: payload}
	return true
}

// failAll completes every currently-registered waiter with cause and
// clears the table. New registrations made after failAll returns succeed
// normally (the table is not poisoned, only drained).
func (p *pendingTable) failAll(cause error) {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[pendingKey]completion)
	p.mu.Unlock()
	for _, ch := range entries {
		ch <- result{err: cause}
	}
}
