package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/errors"
)

// Snapshot captures the standing drawdown latches at a point in time.
type Snapshot struct {
	Timestamp int64        `json:"timestamp"`
	Latches   []LatchEntry `json:"latches"`
}

// LatchEntry is a profile latched for a trading day.
type LatchEntry struct {
	Profile string `json:"profile"`
	Day     string `json:"day"`
}

func snapshotOf(entries map[string]string) Snapshot {
	latches := make([]LatchEntry, 0, len(entries))
	for profile, day := range entries {
		latches = append(latches, LatchEntry{Profile: profile, Day: day})
	}
	sort.Slice(latches, func(i, j int) bool {
		return latches[i].Profile < latches[j].Profile
	})
	return Snapshot{
		Timestamp: time.Now().UTC().UnixNano(),
		Latches:   latches,
	}
}

func (s Snapshot) entries() map[string]string {
	out := make(map[string]string, len(s.Latches))
	for _, e := range s.Latches {
		out[e.Profile] = e.Day
	}
	return out
}

// WriteSnapshot writes a snapshot to disk as JSON. The file is replaced atomically.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create dir %s", dir)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "rename %s", tmp)
	}
	return nil
}

// ReadSnapshot loads a snapshot from disk. A missing file is an empty snapshot.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, errors.Wrapf(err, "read %s", path)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrapf(err, "decode %s", path)
	}
	return snap, nil
}

// FileLatchStore keeps the drawdown latch in a JSON snapshot file.
type FileLatchStore struct {
	path string
	mu   sync.Mutex
}

func NewFileLatchStore(path string) *FileLatchStore {
	return &FileLatchStore{path: path}
}

func (s *FileLatchStore) Load(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := ReadSnapshot(s.path)
	if err != nil {
		return nil, err
	}
	return snap.entries(), nil
}

func (s *FileLatchStore) Save(_ context.Context, profile, day string) error {
	return s.update(func(entries map[string]string) {
		entries[profile] = day
	})
}

func (s *FileLatchStore) Clear(_ context.Context, profile string) error {
	return s.update(func(entries map[string]string) {
		delete(entries, profile)
	})
}

func (s *FileLatchStore) update(fn func(map[string]string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := ReadSnapshot(s.path)
	if err != nil {
		return err
	}
	entries := snap.entries()
	fn(entries)
	return WriteSnapshot(s.path, snapshotOf(entries))
}
