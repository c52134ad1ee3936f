package storage

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

	logx "deadlinebot/pkg/logx"
)

const compactEvery = 1000

// fileStore keeps keys in memory and persists them as:
//   - <prefix>.keys.snapshot.json (periodic snapshot)
//   - <prefix>.keys.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on Prune.
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	snapshotPath string
	journal      *os.File
	keys         map[string]int64 // unix milli
	writes       int
}

type keyRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".keys.snapshot.json"
	journalPath := prefix + ".keys.journal.jsonl"

	keys := map[string]int64{}
	if err := loadSnapshot(snapPath, keys); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("key snapshot unreadable; starting from journal", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, keys); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("key journal unreadable", logx.String("path", journalPath), logx.Err(err))
	}
	pruneBefore(keys, time.Now().UnixMilli())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("keys", len(keys)))
	return &fileStore{log: log, snapshotPath: snapPath, journal: jf, keys: keys}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) PutKey(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	s.keys[key] = ms
	if err := json.NewEncoder(s.journal).Encode(keyRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("key journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetKey(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return time.Time{}, false, ErrClosed
	}
	ms, ok := s.keys[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) Prune(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return 0, ErrClosed
	}
	n := pruneBefore(s.keys, now.UnixMilli())
	if n == 0 {
		return 0, nil
	}
	return n, s.compactLocked()
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.keys); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r keyRecord
		// A torn last line after a crash is skipped, not fatal.
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneBefore(m map[string]int64, nowMS int64) int {
	n := 0
	for k, v := range m {
		if v < nowMS {
			delete(m, k)
			n++
		}
	}
	return n
}
