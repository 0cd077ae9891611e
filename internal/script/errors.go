package script

import (
	"errors"
	"fmt"
)

// ErrImportNotPermitted is returned when a script loads a module that is
// not on the capability allow-list.
var ErrImportNotPermitted = errors.New("import not permitted")

// ErrRegistrationSealed is raised when a hook registrar is called after
// the load phase has finished (e.g. from inside a hook body).
var ErrRegistrationSealed = errors.New("hook registration not permitted after load")

// LoadError is a fatal compilation or import failure. No environment is
// created when a load fails; the caller gets this error and nothing else.
type LoadError struct {
	LessonID string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading lesson %s: %v", e.LessonID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// HookFault records an uncaught error raised by a hook body. Faults are
// absorbed at the environment boundary and counted against the session's
// error budget; they never propagate to the caller.
type HookFault struct {
	Hook Hook
	Err  error
}

func (e *HookFault) Error() string {
	return fmt.Sprintf("%s hook: %v", e.Hook, e.Err)
}

func (e *HookFault) Unwrap() error { return e.Err }
