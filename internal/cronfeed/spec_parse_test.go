package cronfeed

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "cron with seconds", raw: "30 */5 * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "prefixed every", raw: "every:90s", kind: SpecInterval, source: "duration", duration: 90 * time.Second},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
		{name: "hhmm long", raw: "100:00", kind: SpecInterval, source: "hhmm", duration: 100 * time.Hour},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "cron:", "interval:", "-5m", "12:77"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestParseHHMMDuration(t *testing.T) {
	t.Parallel()
	d, err := parseHHMMDuration("23:15")
	if err != nil {
		t.Fatalf("parseHHMMDuration error: %v", err)
	}
	if want := 23*time.Hour + 15*time.Minute; d != want {
		t.Fatalf("duration = %v, want %v", d, want)
	}

	if _, err := parseHHMMDuration("00:00"); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestStartupSpreadSchedule(t *testing.T) {
	t.Parallel()
	now := time.Now()
	sched, jitter := spreadInterval(time.Minute, 30*time.Second, now, "job-a")
	if jitter < 0 || jitter >= 30*time.Second {
		t.Fatalf("jitter = %v, want within [0, 30s)", jitter)
	}

	first := sched.Next(now)
	if first.Before(now.Add(time.Minute)) || first.After(now.Add(time.Minute+30*time.Second)) {
		t.Fatalf("first firing %v outside spread window", first)
	}

	// After the first firing the base interval takes over (the constant-delay
	// schedule rounds to whole seconds).
	second := sched.Next(first)
	if got := second.Sub(first); got < 59*time.Second || got > time.Minute {
		t.Fatalf("steady-state period = %v, want about 1m", got)
	}
}

func TestSpreadDisabled(t *testing.T) {
	t.Parallel()
	now := time.Now()
	_, jitter := spreadInterval(time.Minute, 0, now, "job-b")
	if jitter != 0 {
		t.Fatalf("jitter = %v, want 0 when spread is disabled", jitter)
	}
}
