package runlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "jobgate/pkg/logx"
)

// ringSize bounds how much history Recent can answer from memory. The file
// itself is unbounded; rotation is the operator's business.
const ringSize = 512

// fileStore is a dependency-free run-history backend: an append-only JSON
// Lines file plus an in-memory ring for Recent queries. On open, the tail of
// the existing file is replayed into the ring so Recent works across
// restarts.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	file *os.File

	ring []Entry // oldest first, at most ringSize
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("run_log.path is required for file driver")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	ring, err := replayTail(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	log.Debug("run log opened", logx.String("path", path), logx.Int("replayed", len(ring)))
	return &fileStore{log: log, file: f, ring: ring}, nil
}

// replayTail reads the existing file and keeps the last ringSize entries.
// Torn trailing lines (crash mid-append) are skipped, not fatal.
func replayTail(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ring []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		ring = append(ring, e)
		if len(ring) > ringSize {
			ring = ring[1:]
		}
	}
	return ring, sc.Err()
}

func (s *fileStore) Append(ctx context.Context, e Entry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("run log closed")
	}
	if err := json.NewEncoder(s.file).Encode(e); err != nil {
		return err
	}
	s.ring = append(s.ring, e)
	if len(s.ring) > ringSize {
		s.ring = s.ring[1:]
	}
	return nil
}

func (s *fileStore) Recent(ctx context.Context, jobName string, limit int) ([]Entry, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, limit)
	for i := len(s.ring) - 1; i >= 0 && len(out) < limit; i-- {
		if jobName != "" && s.ring[i].Job != jobName {
			continue
		}
		out = append(out, s.ring[i])
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
