package job

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// WorkUnit is one invocation of a job body. It must observe ctx for
// cancellation; the engine never force-kills a running unit.
type WorkUnit func(ctx context.Context) error

// WorkFactory produces a fresh WorkUnit per tick. It is only invoked after the
// tick has been admitted; skipped ticks never touch the factory.
type WorkFactory func() WorkUnit

// Policy controls how concurrent ticks of the same job relate.
type Policy int

const (
	// Exclusive serializes runs: a tick arriving while a run is in flight is
	// dropped, not queued.
	Exclusive Policy = iota
	// BoundedParallel allows up to Definition.Parallel overlapping runs.
	BoundedParallel
	// Unbounded dispatches every tick.
	Unbounded
)

func (p Policy) String() string {
	switch p {
	case Exclusive:
		return "exclusive"
	case BoundedParallel:
		return "bounded"
	case Unbounded:
		return "unbounded"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exclusive":
		return Exclusive, nil
	case "bounded", "bounded_parallel", "parallel":
		return BoundedParallel, nil
	case "unbounded", "allow":
		return Unbounded, nil
	default:
		return Exclusive, fmt.Errorf("unknown policy %q", s)
	}
}

// Definition describes one recurring job. It is immutable after Register;
// the Runner copies it and owns the derived latch/gate for its lifetime.
type Definition struct {
	// Name is the unique key, also used as the log label.
	Name string

	// Work produces the job body for each admitted tick.
	Work WorkFactory

	Policy Policy

	// Parallel is the admission ceiling for BoundedParallel.
	Parallel int

	// Timeout bounds one run; 0 means no deadline. A run that outlives its
	// deadline is reported as a Timeout outcome and its context is cancelled.
	Timeout time.Duration

	// GateWait is how long an admitting tick may wait for a permit.
	// 0 means non-blocking: a full gate skips the tick immediately.
	GateWait time.Duration

	// FairGate switches the admission gate to FIFO hand-off. The default is
	// unordered, which favors latency over starvation freedom.
	FairGate bool

	// CPUBound routes runs onto the bounded CPU pool instead of the
	// goroutine-per-run spawner. The spawner is tuned for blocking I/O work;
	// compute-heavy bodies should not monopolize it.
	CPUBound bool
}

func (d Definition) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("job name is required")
	}
	if d.Work == nil {
		return fmt.Errorf("job %q: work factory is required", d.Name)
	}
	switch d.Policy {
	case Exclusive, Unbounded:
		// Parallel is ignored for these policies.
	case BoundedParallel:
		if d.Parallel < 1 {
			return fmt.Errorf("job %q: bounded policy requires parallel >= 1", d.Name)
		}
	default:
		return fmt.Errorf("job %q: unknown policy %d", d.Name, int(d.Policy))
	}
	if d.Timeout < 0 {
		return fmt.Errorf("job %q: timeout must be >= 0", d.Name)
	}
	if d.GateWait < 0 {
		return fmt.Errorf("job %q: gate_wait must be >= 0", d.Name)
	}
	return nil
}
