package config

import (
	"fmt"
	"strings"
)

// Validate checks everything that can be decided without building the engine.
// Schedule expressions are validated by the scheduler when jobs are installed;
// rejecting them here too would duplicate the parser.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		return fmt.Errorf("logging.file.path is required when file logging is enabled")
	}

	if c.Engine.CPUWorkers < 0 {
		return fmt.Errorf("engine.cpu_workers must be >= 0")
	}
	if _, err := ParseDurationField("engine.drain_timeout", c.Engine.DrainTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.startup_spread", c.Scheduler.StartupSpread); err != nil {
		return err
	}

	if c.RunLog != nil {
		switch strings.ToLower(strings.TrimSpace(c.RunLog.Driver)) {
		case "", "none":
		case "file", "sqlite":
			if strings.TrimSpace(c.RunLog.Path) == "" {
				return fmt.Errorf("run_log.path is required for driver %q", c.RunLog.Driver)
			}
		default:
			return fmt.Errorf("run_log.driver: unknown driver %q", c.RunLog.Driver)
		}
		if _, err := ParseDurationField("run_log.busy_timeout", c.RunLog.BusyTimeout); err != nil {
			return err
		}
	}

	seen := map[string]struct{}{}
	for i, j := range c.Jobs {
		at := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return fmt.Errorf("%s: name is required", at)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%s: duplicate job name %q", at, name)
		}
		seen[name] = struct{}{}

		if strings.TrimSpace(j.Schedule) == "" {
			return fmt.Errorf("%s (%s): schedule is required", at, name)
		}
		if len(j.Command) == 0 || strings.TrimSpace(j.Command[0]) == "" {
			return fmt.Errorf("%s (%s): command is required", at, name)
		}

		switch strings.ToLower(strings.TrimSpace(j.Policy)) {
		case "", "exclusive", "unbounded", "allow":
		case "bounded", "bounded_parallel", "parallel":
			if j.Parallel < 1 {
				return fmt.Errorf("%s (%s): bounded policy requires parallel >= 1", at, name)
			}
		default:
			return fmt.Errorf("%s (%s): unknown policy %q", at, name, j.Policy)
		}

		if _, err := ParseDurationField(at+".timeout", j.Timeout); err != nil {
			return err
		}
		if _, err := ParseDurationField(at+".gate_wait", j.GateWait); err != nil {
			return err
		}
	}
	return nil
}
