package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const validJSON = `{
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "engine": {"cpu_workers": 2, "drain_timeout": "10s"},
  "scheduler": {"enabled": true, "timezone": "UTC"},
  "jobs": [
    {"name": "backup", "schedule": "*/5 * * * *", "command": ["/usr/bin/true"], "timeout": "1m"},
    {"name": "fetch", "schedule": "10s", "command": ["/usr/bin/true"], "policy": "bounded", "parallel": 3}
  ]
}`

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "cfg.json", validJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(cfg.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(cfg.Jobs))
	}
	if cfg.Jobs[1].Policy != "bounded" || cfg.Jobs[1].Parallel != 3 {
		t.Fatalf("unexpected job: %+v", cfg.Jobs[1])
	}
	if got := m.Get(); got == nil || got.Engine.DrainTimeout != "10s" {
		t.Fatalf("Get after Load = %+v", got)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	yml := `
logging:
  level: debug
  console: true
engine:
  drain_timeout: 30s
scheduler:
  enabled: true
jobs:
  - name: sync
    schedule: "@every 1m"
    command: ["/bin/sh", "-c", "true"]
    policy: exclusive
`
	m := NewManager(writeFile(t, "cfg.yaml", yml))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Logging.Level != "debug" || len(cfg.Jobs) != 1 || cfg.Jobs[0].Name != "sync" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	bad := strings.Replace(validJSON, `"engine"`, `"enigne"`, 1)
	m := NewManager(writeFile(t, "cfg.json", bad))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "cfg.json", validJSON+"\n{}"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Logging: LoggingConfig{Level: "info"},
			Jobs: []JobConfig{
				{Name: "a", Schedule: "10s", Command: []string{"/bin/true"}},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{
			name:    "bad level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
		{
			name: "duplicate job",
			mutate: func(c *Config) {
				c.Jobs = append(c.Jobs, c.Jobs[0])
			},
			wantErr: "duplicate job name",
		},
		{
			name: "missing command",
			mutate: func(c *Config) {
				c.Jobs[0].Command = nil
			},
			wantErr: "command is required",
		},
		{
			name: "bounded without parallel",
			mutate: func(c *Config) {
				c.Jobs[0].Policy = "bounded"
			},
			wantErr: "parallel >= 1",
		},
		{
			name: "bad duration",
			mutate: func(c *Config) {
				c.Jobs[0].Timeout = "soon"
			},
			wantErr: "invalid duration",
		},
		{
			name: "run_log needs path",
			mutate: func(c *Config) {
				c.RunLog = &RunLogConfig{Driver: "file"}
			},
			wantErr: "run_log.path",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info"},
		Jobs: []JobConfig{
			{Name: "keep", Schedule: "10s", Command: []string{"/bin/true"}},
			{Name: "edit", Schedule: "10s", Command: []string{"/bin/true"}},
			{Name: "drop", Schedule: "10s", Command: []string{"/bin/true"}},
		},
	}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Jobs: []JobConfig{
			{Name: "keep", Schedule: "10s", Command: []string{"/bin/true"}},
			{Name: "edit", Schedule: "30s", Command: []string{"/bin/true"}},
			{Name: "add", Schedule: "10s", Command: []string{"/bin/true"}},
		},
	}

	changed, _, jobs := SummarizeChange(oldCfg, newCfg)
	wantSections := map[string]bool{"logging": true, "jobs": true}
	for _, s := range changed {
		if !wantSections[s] {
			t.Fatalf("unexpected changed section %q", s)
		}
		delete(wantSections, s)
	}
	if len(wantSections) != 0 {
		t.Fatalf("missing changed sections: %v", wantSections)
	}

	want := []string{"add", "drop", "edit"}
	if len(jobs) != len(want) {
		t.Fatalf("changed jobs = %v, want %v", jobs, want)
	}
	for i := range want {
		if jobs[i] != want[i] {
			t.Fatalf("changed jobs = %v, want %v", jobs, want)
		}
	}
}
