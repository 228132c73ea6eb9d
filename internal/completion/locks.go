package completion

import "sync"

// proposalLocks serializes orchestration per proposal id. Concurrent calls
// for the same proposal queue behind one mutex; calls for different proposals
// proceed independently. Entries are reference counted and removed once the
// last holder releases, so the map never grows with dead proposals.
type proposalLocks struct {
	mu    sync.Mutex
	locks map[string]*proposalLock
}

type proposalLock struct {
	mu   sync.Mutex
	refs int
}

func newProposalLocks() *proposalLocks {
	return &proposalLocks{locks: make(map[string]*proposalLock)}
}

// acquire blocks until the caller holds the proposal's lock.
func (p *proposalLocks) acquire(proposalID string) {
	p.mu.Lock()
	l, ok := p.locks[proposalID]
	if !ok {
		l = &proposalLock{}
		p.locks[proposalID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
}

// release unlocks the proposal's lock and drops the entry when no other
// caller is waiting on it.
func (p *proposalLocks) release(proposalID string) {
	p.mu.Lock()
	l := p.locks[proposalID]
	l.refs--
	if l.refs == 0 {
		delete(p.locks, proposalID)
	}
	p.mu.Unlock()

	l.mu.Unlock()
}
