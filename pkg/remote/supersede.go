package remote

import (
	"context"
	"sync"
)

// Superseder aborts the previous request of a logical operation (a search
// box, a nearby-location lookup) before its replacement is issued. Only the
// latest request of the operation is ever outstanding. The zero value is
// ready to use.
type Superseder struct {
	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// Begin cancels the request started by the previous Begin, if it is still
// running, and returns the context for the new one. done releases the
// context and must be called when the request finishes.
func (s *Superseder) Begin(parent context.Context) (ctx context.Context, done func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	seq := s.seq
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	return ctx, func() {
		cancel()
		s.mu.Lock()
		if s.seq == seq {
			s.cancel = nil
		}
		s.mu.Unlock()
	}
}

// Abort cancels the outstanding request, if any.
func (s *Superseder) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
