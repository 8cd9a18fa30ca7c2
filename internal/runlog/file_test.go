package runlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "jobgate/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q) error: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) = %v, want nil store", driver, st)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileAppendAndRecent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	base := time.Now().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		job := "alpha"
		if i == 1 {
			job = "beta"
		}
		err := st.Append(ctx, Entry{
			At:      base.Add(time.Duration(i) * time.Second),
			Job:     job,
			RunID:   "r",
			Outcome: "success",
			TookMS:  int64(i * 10),
		})
		if err != nil {
			t.Fatalf("Append %d error: %v", i, err)
		}
	}

	all, err := st.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d entries, want 3", len(all))
	}
	// Newest first.
	if !all[0].At.After(all[2].At) {
		t.Fatalf("entries not newest-first: %v", all)
	}

	alpha, err := st.Recent(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("Recent(alpha) error: %v", err)
	}
	if len(alpha) != 2 {
		t.Fatalf("alpha = %d entries, want 2", len(alpha))
	}
	for _, e := range alpha {
		if e.Job != "alpha" {
			t.Fatalf("wrong job in filtered result: %+v", e)
		}
	}
}

func TestFileReplayAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := st.Append(ctx, Entry{Job: "alpha", Outcome: "success"}); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer st2.Close()

	got, err := st2.Recent(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(got) != 1 || got[0].Outcome != "success" {
		t.Fatalf("replayed entries = %+v, want the appended one", got)
	}
}

func TestRecentLimit(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := st.Append(ctx, Entry{Job: "j", Outcome: "success"}); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}
	got, err := st.Recent(ctx, "", 4)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("limited result = %d entries, want 4", len(got))
	}
}
