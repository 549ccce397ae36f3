package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Tracker remembers keys that were already handled: Message-IDs of an
// archive being de-duplicated, or the mailbox UIDs a download fetched.
type Tracker interface {
	Seen(key string) bool
	Mark(key, value string) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Marked int
}

type MemoryTracker struct {
	mu   sync.RWMutex
	seen map[string]string
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{seen: make(map[string]string)}
}

func (m *MemoryTracker) Seen(key string) bool {
	if key == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.seen[key]
	m.mu.RUnlock()
	return ok
}

// Value returns what was recorded with key.
func (m *MemoryTracker) Value(key string) (string, bool) {
	m.mu.RLock()
	v, ok := m.seen[key]
	m.mu.RUnlock()
	return v, ok
}

func (m *MemoryTracker) Mark(key, value string) error {
	if key == "" {
		return nil
	}

	m.mu.Lock()
	m.seen[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.seen)
	m.mu.RUnlock()
	return Snapshot{Marked: count}
}

// FileTracker persists marked keys as JSON lines so an interrupted run can
// resume where it stopped.
type FileTracker struct {
	*MemoryTracker
	path    string
	persist bool
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

type fileRecord struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// NewFileTracker loads stateDir/name if it exists. With persist unset marks
// stay in memory.
func NewFileTracker(stateDir, name string, persist bool) (*FileTracker, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	if name == "" {
		name = "processed.jsonl"
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	tracker := &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		path:          filepath.Join(stateDir, name),
		persist:       persist,
	}

	if err := tracker.load(); err != nil {
		return nil, err
	}

	if persist {
		file, err := os.OpenFile(tracker.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open state file for append: %w", err)
		}
		tracker.file = file
		tracker.writer = bufio.NewWriterSize(file, 64*1024)
	}

	return tracker, nil
}

// Path returns the state file location.
func (f *FileTracker) Path() string {
	return f.path
}

func (f *FileTracker) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var record fileRecord
		if err := json.Unmarshal(text, &record); err != nil {
			return fmt.Errorf("parse state line %d: %w", line, err)
		}
		if record.Key == "" {
			continue
		}

		f.mu.Lock()
		f.seen[record.Key] = record.Value
		f.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	return nil
}

func (f *FileTracker) Mark(key, value string) error {
	if key == "" {
		return nil
	}

	f.mu.Lock()
	if _, exists := f.seen[key]; exists {
		f.mu.Unlock()
		return nil
	}
	f.seen[key] = value
	f.mu.Unlock()

	if !f.persist {
		return nil
	}

	data, err := json.Marshal(fileRecord{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	return nil
}

// Flush writes buffered records to disk.
func (f *FileTracker) Flush() error {
	if !f.persist || f.writer == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}
	return nil
}

// Close flushes and closes the state file.
func (f *FileTracker) Close() error {
	if !f.persist || f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var firstErr error
	if err := f.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close state file: %w", err)
	}
	f.file = nil

	return firstErr
}
