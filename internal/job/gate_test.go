package job

import (
	"context"
	"testing"
	"time"
)

func TestGateBound(t *testing.T) {
	t.Parallel()
	for _, fair := range []bool{false, true} {
		fair := fair
		name := "unordered"
		if fair {
			name = "fair"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			g := NewGate(3, fair)

			for i := 0; i < 3; i++ {
				if !g.TryAcquire() {
					t.Fatalf("acquire %d should succeed", i)
				}
			}
			if g.TryAcquire() {
				t.Fatal("acquire beyond capacity should fail")
			}
			if got := g.InUse(); got != 3 {
				t.Fatalf("InUse = %d, want 3", got)
			}

			if err := g.Release(); err != nil {
				t.Fatalf("Release error: %v", err)
			}
			if !g.TryAcquire() {
				t.Fatal("acquire after release should succeed")
			}
		})
	}
}

func TestGateAcquireWithinTimeout(t *testing.T) {
	t.Parallel()
	for _, fair := range []bool{false, true} {
		fair := fair
		name := "unordered"
		if fair {
			name = "fair"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			g := NewGate(1, fair)
			if !g.TryAcquire() {
				t.Fatal("initial acquire failed")
			}

			start := time.Now()
			if g.AcquireWithin(context.Background(), 50*time.Millisecond) {
				t.Fatal("acquire should time out while gate is full")
			}
			if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
				t.Fatalf("timed out too early: %v", elapsed)
			}

			// Accounting must be intact after a timed-out wait.
			if err := g.Release(); err != nil {
				t.Fatalf("Release error: %v", err)
			}
			if !g.TryAcquire() {
				t.Fatal("acquire after timed-out wait should succeed")
			}
		})
	}
}

func TestGateAcquireWithinHandoff(t *testing.T) {
	t.Parallel()
	g := NewGate(1, true)
	if !g.TryAcquire() {
		t.Fatal("initial acquire failed")
	}

	got := make(chan bool, 1)
	go func() {
		got <- g.AcquireWithin(context.Background(), time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := g.Release(); err != nil {
		t.Fatalf("Release error: %v", err)
	}

	select {
	case ok := <-got:
		if !ok {
			t.Fatal("waiter should have received the released permit")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestGateAcquireWithinContextCancel(t *testing.T) {
	t.Parallel()
	g := NewGate(1, false)
	if !g.TryAcquire() {
		t.Fatal("initial acquire failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if g.AcquireWithin(ctx, time.Minute) {
		t.Fatal("acquire should fail once the context is cancelled")
	}
}

func TestGateOverRelease(t *testing.T) {
	t.Parallel()
	for _, fair := range []bool{false, true} {
		fair := fair
		name := "unordered"
		if fair {
			name = "fair"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			g := NewGate(2, fair)

			err := g.Release()
			if err == nil {
				t.Fatal("expected error releasing an idle gate")
			}
			if !IsPrecondition(err) {
				t.Fatalf("error %v is not a precondition violation", err)
			}
		})
	}
}

func TestGateFairOrdering(t *testing.T) {
	t.Parallel()
	g := NewGate(1, true)
	if !g.TryAcquire() {
		t.Fatal("initial acquire failed")
	}

	const waiters = 4
	order := make(chan int, waiters)
	for i := 0; i < waiters; i++ {
		i := i
		go func() {
			if g.AcquireWithin(context.Background(), 5*time.Second) {
				order <- i
			}
		}()
		// Serialize arrival so the queue order is deterministic.
		time.Sleep(20 * time.Millisecond)
	}

	for want := 0; want < waiters; want++ {
		if err := g.Release(); err != nil {
			t.Fatalf("Release error: %v", err)
		}
		select {
		case got := <-order:
			if got != want {
				t.Fatalf("waiter %d admitted, want %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never admitted", want)
		}
	}
}

func TestGateLateTryAcquireDoesNotJumpQueue(t *testing.T) {
	t.Parallel()
	g := NewGate(1, true)
	if !g.TryAcquire() {
		t.Fatal("initial acquire failed")
	}

	admitted := make(chan struct{})
	go func() {
		if g.AcquireWithin(context.Background(), 5*time.Second) {
			close(admitted)
		}
	}()
	time.Sleep(20 * time.Millisecond)

	if err := g.Release(); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	<-admitted

	// The waiter holds the only permit now; a newcomer must not sneak in.
	if g.TryAcquire() {
		t.Fatal("newcomer acquired while the permit is held")
	}
}
