package runlog

// Package runlog persists run history: one compact record per completed or
// skipped tick.
//
// It currently supports:
//   - "file": dependency-free append-only JSON Lines
//   - "sqlite": SQLite database file (optional build tag)
