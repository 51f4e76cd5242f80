package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
)

// FileStore keeps every alarm in one JSON document that is rewritten on
// each mutation through a temp file and rename.
type FileStore struct {
	path   string
	mu     sync.Mutex
	alarms []alarm.Alarm
}

// OpenFile loads path, creating an empty store when it does not exist.
func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store.path is required for the file backend")
	}
	s := &FileStore{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.alarms = nil
			return nil
		}
		return fmt.Errorf("read alarm file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var alarms []alarm.Alarm
	if err := sonic.Unmarshal(data, &alarms); err != nil {
		return fmt.Errorf("decode alarm file: %w", err)
	}
	for i := range alarms {
		alarms[i].State = alarms[i].State.Reset()
	}
	s.alarms = alarms
	return nil
}

// mutate applies fn to a copy of the collection and swaps it in only once
// the copy is on disk.
func (s *FileStore) mutate(op string, fn func([]alarm.Alarm) ([]alarm.Alarm, error)) error {
	next, err := fn(slices.Clone(s.alarms))
	if err != nil {
		return err
	}
	if err := s.saveLocked(next); err != nil {
		return persistErr(op, err)
	}
	s.alarms = next
	return nil
}

func (s *FileStore) saveLocked(alarms []alarm.Alarm) error {
	if alarms == nil {
		alarms = []alarm.Alarm{}
	}
	data, err := sonic.Marshal(alarms)
	if err != nil {
		return fmt.Errorf("encode alarms: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace alarm file: %w", err)
	}
	return nil
}

// Upsert implements AlarmStore.
func (s *FileStore) Upsert(_ context.Context, a alarm.Alarm) (alarm.Alarm, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := a
	replaced := false
	key := a.DedupKey()
	err := s.mutate("upsert", func(alarms []alarm.Alarm) ([]alarm.Alarm, error) {
		for i, existing := range alarms {
			if existing.DedupKey() == key {
				stored = a.Replacing(existing)
				alarms[i] = stored
				replaced = true
				return alarms, nil
			}
		}
		return append(alarms, stored), nil
	})
	if err != nil {
		return alarm.Alarm{}, false, err
	}
	return stored, replaced, nil
}

// RemoveMatching implements AlarmStore.
func (s *FileStore) RemoveMatching(_ context.Context, match func(alarm.Alarm) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, a := range s.alarms {
		if match(a) {
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	err := s.mutate("remove", func(alarms []alarm.Alarm) ([]alarm.Alarm, error) {
		return slices.DeleteFunc(alarms, match), nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ListFor implements AlarmStore.
func (s *FileStore) ListFor(_ context.Context, owner string) ([]alarm.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []alarm.Alarm
	for _, a := range s.alarms {
		if a.Owner == owner {
			out = append(out, a)
		}
	}
	return out, nil
}

// All implements AlarmStore.
func (s *FileStore) All(context.Context) ([]alarm.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.alarms), nil
}

// Get implements AlarmStore.
func (s *FileStore) Get(_ context.Context, id uuid.UUID) (alarm.Alarm, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alarms {
		if a.ID == id {
			return a, true, nil
		}
	}
	return alarm.Alarm{}, false, nil
}

// SetState implements AlarmStore.
func (s *FileStore) SetState(_ context.Context, id uuid.UUID, state alarm.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate("set state", func(alarms []alarm.Alarm) ([]alarm.Alarm, error) {
		for i := range alarms {
			if alarms[i].ID == id {
				alarms[i].State = state
				return alarms, nil
			}
		}
		return nil, ErrNotFound
	})
}

// Close implements AlarmStore.
func (s *FileStore) Close() error {
	return nil
}

var _ AlarmStore = (*FileStore)(nil)
