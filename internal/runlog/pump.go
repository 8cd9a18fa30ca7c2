package runlog

import (
	"context"
	"time"

	"jobgate/internal/eventbus"
	"jobgate/internal/job"
	logx "jobgate/pkg/logx"
)

// Pump copies run reports from the event bus into the store until ctx ends.
// It is the only writer the app wires up, so a slow disk degrades to dropped
// bus events rather than blocked runs.
func Pump(ctx context.Context, bus eventbus.Bus, store Store, log logx.Logger) {
	if bus == nil || store == nil {
		return
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	ch, unsub := bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != eventbus.TopicRunCompleted && ev.Type != eventbus.TopicRunSkipped {
				continue
			}
			rep, ok := ev.Data.(job.Report)
			if !ok {
				continue
			}

			actx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := store.Append(actx, FromReport(rep))
			cancel()
			if err != nil {
				log.Warn("run log append failed",
					logx.String("job", rep.Job),
					logx.Err(err))
			}
		}
	}
}
