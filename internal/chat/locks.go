package chat

import "sync"

// sessionGate holds one busy slot per session. A second turn arriving while
// the slot is held is rejected immediately rather than queued.
type sessionGate struct {
	mu   sync.Mutex
	busy map[string]bool
}

func newSessionGate() *sessionGate {
	return &sessionGate{busy: make(map[string]bool)}
}

func (g *sessionGate) tryAcquire(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy[sessionID] {
		return false
	}
	g.busy[sessionID] = true
	return true
}

func (g *sessionGate) release(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, sessionID)
}

// characterLocks serializes cross-session aggregation per character, so two
// sessions with the same character cannot double-clear a quest or race the
// trait set.
type characterLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newCharacterLocks() *characterLocks {
	return &characterLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *characterLocks) forCharacter(characterID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[characterID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[characterID] = m
	}
	return m
}
