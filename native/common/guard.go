package common

import "errors"

var (
	ErrModulePaused = errors.New("module paused")
	ErrReentrancy   = errors.New("reentrant call")
)

// PauseView reports whether a named module is administratively paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the supplied view marks the module as
// paused. A nil view or empty module name always passes.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Latch is the process-wide mutual-exclusion flag held for the duration of one
// mutating entrypoint. It guards the entire call depth of the entrypoint, not
// individual map mutations, so a nested re-entry into any other mutating
// entrypoint fails ErrReentrancy. The execution model is strictly serialized;
// the latch exists to reject re-entrant dispatch, not to synchronise threads.
type Latch struct {
	inFlight bool
}

// Acquire sets the in-flight flag, failing when it is already held.
func (l *Latch) Acquire() error {
	if l == nil {
		return nil
	}
	if l.inFlight {
		return ErrReentrancy
	}
	l.inFlight = true
	return nil
}

// Release clears the in-flight flag. Releasing an idle latch is a no-op.
func (l *Latch) Release() {
	if l == nil {
		return
	}
	l.inFlight = false
}

// Held reports whether the latch is currently acquired.
func (l *Latch) Held() bool {
	return l != nil && l.inFlight
}
