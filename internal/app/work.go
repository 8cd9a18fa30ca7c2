package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"jobgate/internal/config"
	"jobgate/internal/job"
	logx "jobgate/pkg/logx"
)

// outputTail bounds how much captured child output ends up in logs and
// errors. Chatty commands should log to their own files.
const outputTail = 4 * 1024

// killGrace bounds cmd.Wait after cancellation: if some orphan still holds
// the output pipes past the group kill, the run is abandoned rather than
// pinned open past its deadline.
const killGrace = 3 * time.Second

// commandWork builds the work factory for an exec-style job: each admitted
// tick runs the configured argv as a child process. Cancellation (timeout,
// shutdown) kills the whole process group, not just the direct child — a
// shell line like "sh -c 'sleep 30'" puts the sleep in a grandchild that
// would otherwise keep the output pipes open until it exits on its own.
func commandWork(jc config.JobConfig, log logx.Logger) job.WorkFactory {
	argv := append([]string(nil), jc.Command...)
	dir := strings.TrimSpace(jc.WorkDir)
	env := flattenEnv(jc.Env)
	name := jc.Name

	return func() job.WorkUnit {
		return func(ctx context.Context) error {
			cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
			cmd.Dir = dir
			if len(env) > 0 {
				cmd.Env = append(os.Environ(), env...)
			}
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
			cmd.Cancel = func() error {
				err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				if err == syscall.ESRCH {
					return os.ErrProcessDone
				}
				return err
			}
			cmd.WaitDelay = killGrace

			var out tailBuffer
			cmd.Stdout = &out
			cmd.Stderr = &out

			start := time.Now()
			err := cmd.Run()
			took := time.Since(start)

			if err != nil {
				// Attribute the failure to the deadline/shutdown when the
				// context ended; the raw exec error ("signal: killed") is
				// useless in reports.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("command failed after %s: %w: %s", took.Round(time.Millisecond), err, out.String())
			}

			if s := out.String(); s != "" {
				log.Debug("command output",
					logx.String("job", name),
					logx.String("output", s))
			}
			return nil
		}
	}
}

// definitionFromConfig maps one declared job onto an engine definition.
func definitionFromConfig(jc config.JobConfig, log logx.Logger) (job.Definition, error) {
	policy, err := job.ParsePolicy(jc.Policy)
	if err != nil {
		return job.Definition{}, fmt.Errorf("job %q: %w", jc.Name, err)
	}
	timeout, err := config.ParseDurationField("timeout", jc.Timeout)
	if err != nil {
		return job.Definition{}, fmt.Errorf("job %q: %w", jc.Name, err)
	}
	gateWait, err := config.ParseDurationField("gate_wait", jc.GateWait)
	if err != nil {
		return job.Definition{}, fmt.Errorf("job %q: %w", jc.Name, err)
	}

	return job.Definition{
		Name:     jc.Name,
		Work:     commandWork(jc, log),
		Policy:   policy,
		Parallel: jc.Parallel,
		Timeout:  timeout,
		GateWait: gateWait,
		FairGate: jc.FairGate,
		CPUBound: jc.CPUBound,
	}, nil
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// tailBuffer keeps only the last outputTail bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if t.buf.Len() > outputTail {
		b := t.buf.Bytes()
		trimmed := append([]byte(nil), b[len(b)-outputTail:]...)
		t.buf.Reset()
		t.buf.Write(trimmed)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(t.buf.String())
}
