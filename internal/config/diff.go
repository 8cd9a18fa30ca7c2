package config

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	logx "jobgate/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections, (2) safe
// structured attrs for logging, and (3) the names of jobs whose declaration
// changed (added, removed or edited).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.cpu_workers", newCfg.Engine.CPUWorkers),
			logx.String("engine.drain_timeout", strings.TrimSpace(newCfg.Engine.DrainTimeout)),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(derefRunLog(oldCfg.RunLog), derefRunLog(newCfg.RunLog)) {
		changed = append(changed, "run_log")
		rl := derefRunLog(newCfg.RunLog)
		attrs = append(attrs,
			logx.String("run_log.driver", strings.TrimSpace(rl.Driver)),
			logx.Bool("run_log.path_set", strings.TrimSpace(rl.Path) != ""),
		)
	}

	jobs := diffJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(jobs) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.total", len(newCfg.Jobs)),
			logx.Int("jobs.changed", len(jobs)),
		)
	}

	return changed, attrs, jobs
}

func derefRunLog(rl *RunLogConfig) RunLogConfig {
	if rl == nil {
		return RunLogConfig{}
	}
	return *rl
}

func diffJobs(oldJobs, newJobs []JobConfig) []string {
	oldM := map[string]uint64{}
	for _, j := range oldJobs {
		oldM[j.Name] = hashJob(j)
	}
	newM := map[string]uint64{}
	for _, j := range newJobs {
		newM[j.Name] = hashJob(j)
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		oh, inOld := oldM[name]
		nh, inNew := newM[name]
		if !inOld || !inNew || oh != nh {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func hashJob(j JobConfig) uint64 {
	b, err := json.Marshal(j)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}
