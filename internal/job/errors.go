package job

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateJob   = errors.New("job already registered")
	ErrUnknownJob     = errors.New("unknown job")
	ErrStopped        = errors.New("runner stopped")
	ErrStopping       = errors.New("runner stopping")
	ErrExecutorClosed = errors.New("executor closed")
)

// PreconditionError reports a broken resource-accounting invariant (double
// release and the like). It signals a bug in the engine, not a transient
// condition: the Runner disables the affected job and logs loudly rather than
// swallowing it.
type PreconditionError struct {
	Op  string // e.g. "singleflight.release", "gate.release"
	Job string // owning job name, if known
}

func (e *PreconditionError) Error() string {
	if e.Job != "" {
		return fmt.Sprintf("precondition violated: %s (job %q)", e.Op, e.Job)
	}
	return fmt.Sprintf("precondition violated: %s", e.Op)
}

// IsPrecondition reports whether err is a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
