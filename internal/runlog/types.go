package runlog

import (
	"errors"
	"time"

	"jobgate/internal/job"
)

var ErrDisabled = errors.New("run log disabled")

// Config configures the run log.
//
// Driver values:
//   - "file": dependency-free JSON Lines backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", the run log is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry records one finished or skipped tick.
// Keep it compact and schema-stable.
type Entry struct {
	At      time.Time `json:"at"`
	Job     string    `json:"job"`
	RunID   string    `json:"run_id,omitempty"`
	Outcome string    `json:"outcome"`
	Skip    string    `json:"skip_reason,omitempty"`
	TookMS  int64     `json:"took_ms"`
	Error   string    `json:"error,omitempty"`
}

// FromReport flattens an engine report into a log entry.
func FromReport(rep job.Report) Entry {
	return Entry{
		At:      rep.Started,
		Job:     rep.Job,
		RunID:   rep.RunID,
		Outcome: rep.Outcome.String(),
		Skip:    string(rep.Skip),
		TookMS:  rep.Dur.Milliseconds(),
		Error:   rep.ErrText(),
	}
}
