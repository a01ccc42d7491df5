package conversation

import (
	"container/list"
	"context"
	"sync"
)

// InMemoryStore is a process-local store. Sessions live as long as the
// process unless a capacity is set, in which case the least recently used
// session is dropped.
type InMemoryStore struct {
	mu         sync.Mutex
	maxEntries int
	sessions   map[string]*list.Element
	recency    *list.List
	onEvict    func(sessionID string)
}

type memoryEntry struct {
	id    string
	turns []Turn
}

func NewInMemoryStore(maxEntries int) *InMemoryStore {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &InMemoryStore{
		maxEntries: maxEntries,
		sessions:   make(map[string]*list.Element),
		recency:    list.New(),
	}
}

// SetEvictHook registers fn to run for every session dropped by the capacity
// limit. It runs after the store lock is released.
func (s *InMemoryStore) SetEvictHook(fn func(sessionID string)) {
	s.mu.Lock()
	s.onEvict = fn
	s.mu.Unlock()
}

// Get returns the session's turns, creating an empty session on first access.
func (s *InMemoryStore) Get(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.Lock()
	el, evicted := s.entry(sessionID)
	turns := cloneTurns(el.Value.(*memoryEntry).turns)
	hook := s.onEvict
	s.mu.Unlock()
	notifyEvicted(hook, evicted)
	return turns, nil
}

func (s *InMemoryStore) Replace(_ context.Context, sessionID string, turns []Turn) error {
	s.mu.Lock()
	el, evicted := s.entry(sessionID)
	el.Value.(*memoryEntry).turns = cloneTurns(turns)
	hook := s.onEvict
	s.mu.Unlock()
	notifyEvicted(hook, evicted)
	return nil
}

func (s *InMemoryStore) Clear(ctx context.Context, sessionID string) error {
	return s.Replace(ctx, sessionID, nil)
}

func (s *InMemoryStore) Count(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.sessions[sessionID]
	if !ok {
		return 0, nil
	}
	return len(el.Value.(*memoryEntry).turns), nil
}

// Forget drops a session entirely.
func (s *InMemoryStore) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.sessions[sessionID]; ok {
		s.recency.Remove(el)
		delete(s.sessions, sessionID)
	}
}

// Len reports how many sessions are held.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *InMemoryStore) Close() error { return nil }

// entry must be called with s.mu held. It returns the ids evicted to make room.
func (s *InMemoryStore) entry(sessionID string) (*list.Element, []string) {
	if el, ok := s.sessions[sessionID]; ok {
		s.recency.MoveToFront(el)
		return el, nil
	}
	var evicted []string
	el := s.recency.PushFront(&memoryEntry{id: sessionID, turns: []Turn{}})
	s.sessions[sessionID] = el
	if s.maxEntries > 0 {
		for s.recency.Len() > s.maxEntries {
			oldest := s.recency.Back()
			s.recency.Remove(oldest)
			id := oldest.Value.(*memoryEntry).id
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return el, evicted
}

func notifyEvicted(hook func(string), ids []string) {
	if hook == nil {
		return
	}
	for _, id := range ids {
		hook(id)
	}
}
