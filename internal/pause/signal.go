// Package pause provides the process-wide pause/resume control shared by
// every scan worker.
package pause

import "sync/atomic"

// Signal is a single atomic flag. All readers observe the same instantaneous
// value; nothing holds it locked.
type Signal struct {
	set atomic.Bool
}

// New returns a cleared Signal.
func New() *Signal {
	return &Signal{}
}

// Set pauses every worker observing the signal.
func (s *Signal) Set() {
	s.set.Store(true)
}

// Clear resumes scanning.
func (s *Signal) Clear() {
	s.set.Store(false)
}

// IsSet reports whether scanning is paused.
func (s *Signal) IsSet() bool {
	return s.set.Load()
}

// Toggle flips the signal and returns the new value.
func (s *Signal) Toggle() bool {
	for {
		old := s.set.Load()
		if s.set.CompareAndSwap(old, !old) {
			return !old
		}
	}
}
