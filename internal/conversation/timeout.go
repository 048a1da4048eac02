package conversation

import (
	"sync"
	"time"

	"github.com/ashureev/deadlinebot/internal/chat"
)

// DefaultIdleTimeout is how long a session may wait for the next message.
const DefaultIdleTimeout = 60 * time.Second

// ExpireFunc is called when a session's timer fires. gen identifies the arming
// that produced the call; a stale gen must be ignored.
type ExpireFunc func(key chat.SessionKey, gen uint64)

// Supervisor keeps at most one idle timer per session.
type Supervisor struct {
	timeout  time.Duration
	onExpire ExpireFunc

	mu     sync.Mutex
	gen    uint64
	timers map[chat.SessionKey]*armedTimer
}

type armedTimer struct {
	timer *time.Timer
	gen   uint64
}

// NewSupervisor creates a supervisor that calls onExpire after timeout of
// inactivity.
func NewSupervisor(timeout time.Duration, onExpire ExpireFunc) *Supervisor {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	return &Supervisor{
		timeout:  timeout,
		onExpire: onExpire,
		timers:   make(map[chat.SessionKey]*armedTimer),
	}
}

// Timeout returns the idle duration.
func (s *Supervisor) Timeout() time.Duration {
	return s.timeout
}

// Arm cancels any running timer for key and starts a new one.
func (s *Supervisor) Arm(key chat.SessionKey) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timers[key] = &armedTimer{
		gen:   gen,
		timer: time.AfterFunc(s.timeout, func() { s.onExpire(key, gen) }),
	}
	return gen
}

// Disarm cancels the timer for key. A callback already in flight will see a
// stale generation.
func (s *Supervisor) Disarm(key chat.SessionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.timer.Stop()
		delete(s.timers, key)
	}
}

// Current reports whether gen is the live arming for key.
func (s *Supervisor) Current(key chat.SessionKey, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[key]
	return ok && t.gen == gen
}

// Pending returns the number of armed timers.
func (s *Supervisor) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// StopAll cancels every timer.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, key)
	}
}
