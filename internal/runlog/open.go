package runlog

import (
	"context"
	"errors"
	"strings"

	logx "jobgate/pkg/logx"
)

// Store is the minimal run-history API used by the app.
type Store interface {
	Append(ctx context.Context, e Entry) error

	// Recent returns the newest entries, newest first. An empty jobName
	// matches every job.
	Recent(ctx context.Context, jobName string, limit int) ([]Entry, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if the run log is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown run_log driver: " + driver)
	}
}
