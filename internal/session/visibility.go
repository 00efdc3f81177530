package session

import (
	"errors"
	"fmt"
)

// ErrUnknownToggle is returned for a toggle name the plan does not declare.
var ErrUnknownToggle = errors.New("unknown layer toggle")

// SetVisible shows or hides every layer group behind toggle. It works
// before the layer's data has arrived (an attached empty group fills in
// place) and is a no-op once the session is closed.
func (s *Session) SetVisible(toggle string, visible bool) error {
	names, ok := s.plan.Toggles[toggle]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownToggle, toggle)
	}
	if s.Closed() {
		return nil
	}
	for _, n := range names {
		s.registry.SetAttached(n, visible)
	}
	return nil
}

// Visible reports whether every group behind toggle is attached.
func (s *Session) Visible(toggle string) (bool, error) {
	names, ok := s.plan.Toggles[toggle]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownToggle, toggle)
	}
	for _, n := range names {
		if !s.registry.Attached(n) {
			return false, nil
		}
	}
	return true, nil
}
