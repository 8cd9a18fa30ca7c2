package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"jobgate/internal/config"
	"jobgate/internal/job"
	logx "jobgate/pkg/logx"
)

func TestDefinitionFromConfig(t *testing.T) {
	t.Parallel()
	jc := config.JobConfig{
		Name:     "backup",
		Schedule: "10m",
		Command:  []string{"/bin/true"},
		Policy:   "bounded",
		Parallel: 2,
		Timeout:  "90s",
		GateWait: "5s",
		FairGate: true,
	}
	def, err := definitionFromConfig(jc, logx.Nop())
	if err != nil {
		t.Fatalf("definitionFromConfig error: %v", err)
	}
	if def.Policy != job.BoundedParallel || def.Parallel != 2 || !def.FairGate {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if def.Timeout != 90*time.Second || def.GateWait != 5*time.Second {
		t.Fatalf("durations not mapped: %+v", def)
	}

	jc.Timeout = "soon"
	if _, err := definitionFromConfig(jc, logx.Nop()); err == nil {
		t.Fatal("expected error for invalid timeout")
	}

	jc.Timeout = ""
	jc.Policy = "sometimes"
	if _, err := definitionFromConfig(jc, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestCommandWorkRuns(t *testing.T) {
	t.Parallel()
	jc := config.JobConfig{
		Name:    "echo",
		Command: []string{"/bin/sh", "-c", "exit 0"},
	}
	work := commandWork(jc, logx.Nop())()
	if err := work(context.Background()); err != nil {
		t.Fatalf("work error: %v", err)
	}
}

func TestCommandWorkFailureCarriesOutput(t *testing.T) {
	t.Parallel()
	jc := config.JobConfig{
		Name:    "fail",
		Command: []string{"/bin/sh", "-c", "echo boom >&2; exit 3"},
	}
	work := commandWork(jc, logx.Nop())()
	err := work(context.Background())
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("work = %v, want error carrying child output", err)
	}
}

func TestCommandWorkHonorsContext(t *testing.T) {
	t.Parallel()
	jc := config.JobConfig{
		Name:    "sleeper",
		Command: []string{"/bin/sh", "-c", "sleep 30"},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := commandWork(jc, logx.Nop())()(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("work = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("work returned after %v, child was not killed", elapsed)
	}
}

func TestCommandWorkKillsProcessGroup(t *testing.T) {
	t.Parallel()
	// The shell backgrounds a grandchild that inherits the output pipes.
	// Only a group kill gets Run to return before the grandchild's sleep.
	jc := config.JobConfig{
		Name:    "nested",
		Command: []string{"/bin/sh", "-c", "sleep 30 & wait"},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := commandWork(jc, logx.Nop())()(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("work = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("work returned after %v, process group was not killed", elapsed)
	}
}

func TestFlattenEnvSorted(t *testing.T) {
	t.Parallel()
	got := flattenEnv(map[string]string{"B": "2", "A": "1", "C": "3"})
	want := []string{"A=1", "B=2", "C=3"}
	if len(got) != len(want) {
		t.Fatalf("flattenEnv = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("flattenEnv = %v, want %v", got, want)
		}
	}
	if flattenEnv(nil) != nil {
		t.Fatal("flattenEnv(nil) should be nil")
	}
}

func TestTailBuffer(t *testing.T) {
	t.Parallel()
	var b tailBuffer
	chunk := bytes.Repeat([]byte("x"), 1024)
	for i := 0; i < 10; i++ {
		if _, err := b.Write(chunk); err != nil {
			t.Fatalf("Write error: %v", err)
		}
	}
	if got := len(b.String()); got > outputTail {
		t.Fatalf("buffer holds %d bytes, want at most %d", got, outputTail)
	}
}
