package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/bitrange/rangepool/internal/errors"
)

const (
	// FileName is the ledger's on-disk name under the data directory.
	// Exported so file watchers can filter events to the state file.
	FileName = "ledger.json"

	lockFileName = "ledger.lock"
)

// persistedState is the serializable representation of the ledger.
// All big integers travel as decimal strings via keyspace.Key.
type persistedState struct {
	Records map[string]*Record `json:"records"`
	Order   []string           `json:"order"`
	History []HistoryEntry     `json:"history,omitempty"`
}

// fileLock provides cross-process mutual exclusion via flock(2). Multiple
// rangepool processes (the CLI and a running coordinator) can share one
// data directory; the lock keeps their state writes from interleaving.
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(dir string) *fileLock {
	return &fileLock{path: filepath.Join(dir, lockFileName)}
}

// lock acquires an exclusive lock, blocking until available.
func (fl *fileLock) lock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return nil
}

// unlock releases the lock and closes the lock file.
func (fl *fileLock) unlock() error {
	if fl.file == nil {
		return nil
	}
	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = fl.file.Close()
		fl.file = nil
		return fmt.Errorf("funlock: %w", err)
	}
	err := fl.file.Close()
	fl.file = nil
	return err
}

// Save writes the ledger state to dir. The write is atomic (temp file
// then rename) and guarded by a file lock for cross-process safety.
func (l *Ledger) Save(dir string) error {
	fl := newFileLock(dir)
	if err := fl.lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.unlock() }()
	return l.save(dir)
}

// save is Save without the file lock. Callers must hold it.
func (l *Ledger) save(dir string) error {
	l.mu.RLock()
	data, err := json.MarshalIndent(persistedState{
		Records: l.records,
		Order:   l.order,
		History: l.history,
	}, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal ledger state: %w", err)
	}

	target := filepath.Join(dir, FileName)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Exists reports whether a ledger state file is present in dir.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil
}

// Load restores a ledger from a previously saved state file in dir.
//
// A missing file is a NotFoundError the caller may treat as "start
// fresh". A present but unreadable file wraps ErrLedgerCorrupted: that is
// an operator problem and must never be silently treated as empty.
func Load(dir string, opts ...Option) (*Ledger, error) {
	fl := newFileLock(dir)
	if err := fl.lock(); err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.unlock() }()
	return load(dir, opts...)
}

// load is Load without the file lock. Callers must hold it.
func load(dir string, opts ...Option) (*Ledger, error) {
	target := filepath.Join(dir, FileName)
	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("ledger", target).WithCause(err)
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrLedgerCorrupted, target, err)
	}

	l := New(opts...)
	if state.Records == nil {
		state.Records = make(map[string]*Record)
	}
	for id, rec := range state.Records {
		if rec == nil || rec.Range.ID != id {
			return nil, fmt.Errorf("%w: %s: record %q inconsistent", errors.ErrLedgerCorrupted, target, id)
		}
		if err := rec.Range.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errors.ErrLedgerCorrupted, target, err)
		}
	}
	l.records = state.Records
	l.order = state.Order
	if l.order == nil {
		l.order = []string{}
	}
	if len(l.order) != len(l.records) {
		return nil, fmt.Errorf("%w: %s: order/record mismatch", errors.ErrLedgerCorrupted, target)
	}
	for _, id := range l.order {
		if _, ok := l.records[id]; !ok {
			return nil, fmt.Errorf("%w: %s: order references unknown range %q", errors.ErrLedgerCorrupted, target, id)
		}
	}
	l.history = state.History
	return l, nil
}

// Mutate runs a read-modify-write transaction against the state file in
// dir, holding the file lock for the whole load-fn-save sequence. This is
// how separate processes sharing a data directory mutate safely: a claim
// made under Mutate is visible to the next process before it reads, so
// two CLI invocations cannot both win the same range. When fn returns an
// error nothing is written and the error comes back as-is.
func Mutate(dir string, fn func(*Ledger) error, opts ...Option) (*Ledger, error) {
	fl := newFileLock(dir)
	if err := fl.lock(); err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.unlock() }()

	l, err := load(dir, opts...)
	if err != nil {
		return nil, err
	}
	if err := fn(l); err != nil {
		return nil, err
	}
	if err := l.save(dir); err != nil {
		return nil, err
	}
	return l, nil
}
