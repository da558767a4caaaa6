package videoplayer

import (
	"sync"

	"github.com/e7canasta/orion-videoplayer/internal/media"
)

// frameSlot holds the single latest decoded frame of a session.
//
// The lock covers only the pointer swap and Clone; releases happen outside.
type frameSlot struct {
	mu sync.Mutex
	f  media.Frame
}

// publish stores f as the latest frame and releases the previous one.
func (s *frameSlot) publish(f media.Frame) {
	s.mu.Lock()
	old := s.f
	s.f = f
	s.mu.Unlock()

	if old != nil {
		old.Release()
	}
}

// clone returns a new reference to the latest frame. The caller releases it.
func (s *frameSlot) clone() (media.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil, false
	}
	c, err := s.f.Clone()
	if err != nil || c == nil {
		return nil, false
	}
	return c, true
}

// withClone runs fn on a clone of the latest frame and always releases it.
// It reports false when the slot is empty.
func (s *frameSlot) withClone(fn func(media.Frame)) bool {
	c, ok := s.clone()
	if !ok {
		return false
	}
	defer c.Release()
	fn(c)
	return true
}

// clear releases the latest frame.
func (s *frameSlot) clear() {
	s.publish(nil)
}
