package conversation

import (
	"sync"
	"time"

	"github.com/ashureev/deadlinebot/internal/chat"
)

// EditAction is the change chosen for an existing task.
type EditAction string

const (
	EditDescription EditAction = "Change task description"
	EditDeadline    EditAction = "Change task deadline"
	EditDelete      EditAction = "Delete task"
)

// TaskDraft collects a new task across the add flow.
type TaskDraft struct {
	Description string
}

// EditDraft collects the target and action of the edit flow.
type EditDraft struct {
	Task   string
	Action EditAction
}

// Scratch holds per-flow values between turns. It is discarded when the
// session ends or restarts.
type Scratch struct {
	Add  *TaskDraft
	Edit *EditDraft
}

// Session is the live conversation of one user on one channel.
type Session struct {
	Key          chat.SessionKey
	State        State
	Scratch      Scratch
	LastActivity time.Time
}

// Store keeps live sessions.
type Store interface {
	Get(key chat.SessionKey) (Session, bool)
	Put(s Session)
	Delete(key chat.SessionKey)
	Len() int
}

// MemoryStore is an in-process Store. Sessions do not survive restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[chat.SessionKey]Session
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[chat.SessionKey]Session)}
}

// Get returns a copy of the session for key.
func (m *MemoryStore) Get(key chat.SessionKey) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return Session{}, false
	}
	s.Scratch = s.Scratch.clone()
	return s, true
}

// Put stores s, replacing any session with the same key.
func (m *MemoryStore) Put(s Session) {
	s.Scratch = s.Scratch.clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Key] = s
}

// Delete removes the session for key if present.
func (m *MemoryStore) Delete(key chat.SessionKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (s Scratch) clone() Scratch {
	var out Scratch
	if s.Add != nil {
		add := *s.Add
		out.Add = &add
	}
	if s.Edit != nil {
		edit := *s.Edit
		out.Edit = &edit
	}
	return out
}

// keyedMutex serializes work per session key. Entries are dropped once no
// goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[chat.SessionKey]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[chat.SessionKey]*refLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedMutex) Lock(key chat.SessionKey) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
