package testutil

import "sync"

// KeySequence hands out primary keys for rows inserted by tests.
//
// Keys start at 1 and never repeat until Reset, so the same fixture built
// twice gets the same keys.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type KeySequence struct {
	mu   sync.Mutex
	last int64
}

// NewKeySequence creates a sequence whose first key is 1.
func NewKeySequence() *KeySequence {
	return &KeySequence{}
}

// Next returns the next key.
func (s *KeySequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return s.last
}

// Last returns the last key handed out, 0 before the first call to Next.
func (s *KeySequence) Last() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Reset restarts the sequence at 1.
func (s *KeySequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = 0
}
