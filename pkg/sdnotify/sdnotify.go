// Package sdnotify reports daemon lifecycle to systemd when running under a
// Type=notify unit. Outside systemd (NOTIFY_SOCKET unset) every call is a
// no-op, so callers never need to branch.
package sdnotify

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready signals that startup is complete and the service is operational.
func Ready() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// Stopping signals that shutdown has begun.
func Stopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// Status publishes a free-form one-line status shown by systemctl status.
func Status(msg string) {
	_, _ = daemon.SdNotify(false, "STATUS="+msg)
}

// WatchdogLoop pings the systemd watchdog at half the configured interval
// until ctx ends. It returns immediately when no watchdog is configured.
func WatchdogLoop(ctx context.Context) {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d == 0 {
		return
	}
	t := time.NewTicker(d / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
