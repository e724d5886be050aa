package reqstore

import (
	"sync"
	"time"
)

// MemoryStore is the in-memory Store implementation, grounded on the
// teacher's CaState.ChallengeRequestStateMapping map, generalized with a
// mutex so it is actually linearizable per request-id as §4.3 requires
// (the teacher's map had no such guard).
type MemoryStore struct {
	mu      sync.Mutex
	byReqId map[[8]byte]*RequestState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byReqId: make(map[[8]byte]*RequestState)}
}

func (m *MemoryStore) Create(state *RequestState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byReqId[state.RequestId]; exists {
		return ErrAlreadyExists
	}
	m.byReqId[state.RequestId] = state.Clone()
	return nil
}

func (m *MemoryStore) Get(requestId [8]byte) (*RequestState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.byReqId[requestId]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

func (m *MemoryStore) Update(state *RequestState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byReqId[state.RequestId]; !ok {
		return ErrNotFound
	}
	m.byReqId[state.RequestId] = state.Clone()
	return nil
}

func (m *MemoryStore) Delete(requestId [8]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byReqId, requestId)
	return nil
}

// ListExpired returns request-ids the janitor must act on: a non-terminal
// request whose challenge secret lifetime has elapsed (to be failed), or a
// terminal request sitting past the grace window (to be removed) (§3
// Lifecycle).
func (m *MemoryStore) ListExpired(now time.Time, graceWindow time.Duration) ([][8]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired [][8]byte
	for id, state := range m.byReqId {
		if state.Status.Terminal() {
			if now.Sub(state.LastActivityAt) > graceWindow {
				expired = append(expired, id)
			}
			continue
		}
		if state.ChallengeState != nil && state.ChallengeState.Expired(now) {
			expired = append(expired, id)
		}
	}
	return expired, nil
}
