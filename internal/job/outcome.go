package job

import (
	"time"
)

// Outcome classifies how one tick ended.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeSkipped
	OutcomeTimeout
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SkipReason explains a Skipped outcome.
type SkipReason string

const (
	SkipInFlight    SkipReason = "in_flight"
	SkipGateFull    SkipReason = "gate_full"
	SkipGateWait    SkipReason = "gate_wait_timeout"
	SkipDrain       SkipReason = "draining"
	SkipJobDisabled SkipReason = "job_disabled"
)

// Report describes one finished (or skipped) tick. It is what observers
// receive and what the run log records.
type Report struct {
	Job     string        `json:"job"`
	RunID   string        `json:"run_id,omitempty"`
	Outcome Outcome       `json:"-"`
	Skip    SkipReason    `json:"skip_reason,omitempty"`
	Started time.Time     `json:"started"`
	Dur     time.Duration `json:"dur"`
	Err     error         `json:"-"`
}

// ErrText returns the run error as a string for serialization.
func (r Report) ErrText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// TickStatus is OnTick's synchronous answer. A tick whose admission involves a
// bounded gate wait reports Dispatched; a later wait timeout still surfaces as
// a Skipped Report through the observers.
type TickStatus int

const (
	TickSkipped TickStatus = iota
	TickDispatched
)

func (t TickStatus) String() string {
	if t == TickDispatched {
		return "dispatched"
	}
	return "skipped"
}
