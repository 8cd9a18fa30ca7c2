package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Engine    EngineConfig    `json:"engine"`
	Scheduler SchedulerConfig `json:"scheduler"`
	RunLog    *RunLogConfig   `json:"run_log,omitempty"`
	Jobs      []JobConfig     `json:"jobs"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig controls the run engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - cpu_workers: 2
//   - drain_timeout: "30s"
type EngineConfig struct {
	CPUWorkers int `json:"cpu_workers,omitempty"`

	// DrainTimeout bounds graceful shutdown: how long in-flight runs get to
	// finish before their contexts are cancelled.
	DrainTimeout string `json:"drain_timeout,omitempty"`
}

// SchedulerConfig controls the trigger side (cron feed).
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone, e.g. "Europe/Berlin". Empty means local time.
	Timezone string `json:"timezone,omitempty"`

	// StartupSpread staggers first firings after boot so that many jobs with
	// the same schedule don't all hit at once. Go duration string; "0s"
	// disables spreading.
	StartupSpread string `json:"startup_spread,omitempty"`
}

// RunLogConfig controls the optional run history sink.
//
// Example:
//
//	"run_log": { "driver": "file", "path": "./runs.jsonl" }
type RunLogConfig struct {
	Driver      string `json:"driver"` // "none", "file" or "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// JobConfig declares one recurring job.
//
// Schedule accepts cron expressions ("*/5 * * * *", optionally with a seconds
// field), Go durations ("10m"), "@every 10m", or a daily "HH:MM".
//
// Duration fields are Go duration strings; "0s" disables the respective bound.
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`

	// Command is the job body: argv executed per admitted tick.
	Command []string          `json:"command"`
	WorkDir string            `json:"workdir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// Policy is "exclusive" (default), "bounded" or "unbounded".
	Policy   string `json:"policy,omitempty"`
	Parallel int    `json:"parallel,omitempty"`

	Timeout  string `json:"timeout,omitempty"`
	GateWait string `json:"gate_wait,omitempty"`
	FairGate bool   `json:"fair_gate,omitempty"`
	CPUBound bool   `json:"cpu_bound,omitempty"`

	// Enabled is a pointer so "omitted" (default true) is distinguishable
	// from an explicit false.
	Enabled *bool `json:"enabled,omitempty"`
}

func (j JobConfig) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}
