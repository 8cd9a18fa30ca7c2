package cronfeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"jobgate/internal/job"
	logx "jobgate/pkg/logx"
)

type fakeTicker struct {
	mu    sync.Mutex
	ticks []string
}

func (f *fakeTicker) OnTick(ctx context.Context, name string) (job.TickStatus, error) {
	f.mu.Lock()
	f.ticks = append(f.ticks, name)
	f.mu.Unlock()
	return job.TickDispatched, nil
}

func (f *fakeTicker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ticks)
}

func TestFeedAddValidation(t *testing.T) {
	t.Parallel()
	f := New(Config{Enabled: true}, &fakeTicker{}, logx.Nop())

	if err := f.Add("sync", "10m"); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if err := f.Add("sync", "20m"); err == nil {
		t.Fatal("expected error for duplicate schedule")
	}
	if err := f.Add("bad", "nope"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if err := f.Add("", "10m"); err == nil {
		t.Fatal("expected error for empty name")
	}

	got := f.Names()
	if len(got) != 1 || got[0] != "sync" {
		t.Fatalf("Names = %v, want [sync]", got)
	}

	f.Remove("sync")
	if got := f.Names(); len(got) != 0 {
		t.Fatalf("Names after Remove = %v, want empty", got)
	}
}

func TestFeedDeliversTicks(t *testing.T) {
	t.Parallel()
	tk := &fakeTicker{}
	f := New(Config{Enabled: true}, tk, logx.Nop())

	// Six-field spec: fire every second.
	if err := f.Add("pulse", "cron:* * * * * *"); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer f.Stop(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for tk.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no tick delivered within 5s")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFeedDisabled(t *testing.T) {
	t.Parallel()
	tk := &fakeTicker{}
	f := New(Config{Enabled: false}, tk, logx.Nop())
	if err := f.Add("pulse", "cron:* * * * * *"); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	if got := tk.count(); got != 0 {
		t.Fatalf("ticks = %d, want 0 while disabled", got)
	}
}

func TestFeedBadTimezone(t *testing.T) {
	t.Parallel()
	f := New(Config{Enabled: true, Timezone: "Mars/Olympus"}, &fakeTicker{}, logx.Nop())
	if err := f.Start(context.Background()); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
