package app

import "sync"

// Signal is a one-shot lifecycle event. Observers added after it fired run
// immediately.
type Signal struct {
	mu        sync.Mutex
	fired     bool
	observers []func()
}

// Add registers fn.
func (s *Signal) Add(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		fn()
		return
	}
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Dispatch runs every observer once, in registration order. Later calls do
// nothing and return false.
func (s *Signal) Dispatch() bool {
	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		return false
	}
	s.fired = true
	obs := s.observers
	s.observers = nil
	s.mu.Unlock()
	for _, fn := range obs {
		fn()
	}
	return true
}

func (s *Signal) Fired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}
