// Package file stores tasks in a JSON index guarded by flock, and watches the
// index for writes made by other processes.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ThunderHDs/taskmaster-sub001/gateway"
	"github.com/ThunderHDs/taskmaster-sub001/task"
)

const indexFile = "index.json"

type indexData struct {
	Tasks []task.Task `json:"tasks"`
}

// Store keeps the whole index in memory and rewrites it on every change.
// Slice order is sibling order.
type Store struct {
	dataDir   string
	opts      gateway.Options
	now       func() time.Time
	mu        sync.RWMutex
	tasks     []task.Task
	listeners []gateway.ChangeListener

	// writeGen is bumped on every in-process write so reloadFromDisk can
	// drop reloads that raced with it.
	writeGen atomic.Int64

	watcher    *fsnotify.Watcher
	debounce   *time.Timer
	debounceMu sync.Mutex
}

type Option func(*Store)

func WithOptions(o gateway.Options) Option {
	return func(s *Store) { s.opts = o }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(dataDir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "tasks"), 0755); err != nil {
		return nil, err
	}

	s := &Store{dataDir: dataDir, now: time.Now}
	for _, o := range opts {
		o(s)
	}

	idx, err := s.readIndexFromDisk()
	if err != nil {
		return nil, err
	}
	s.tasks = idx.Tasks
	return s, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dataDir, "tasks", indexFile)
}

// --- Read operations ---

func (s *Store) ListTasks(_ context.Context) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]task.Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out, nil
}

func (s *Store) GetTask(_ context.Context, id string) (task.Task, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.findIndex(strings.TrimSpace(id))
	if i < 0 {
		return task.Task{}, false, nil
	}
	return s.tasks[i].Clone(), true, nil
}

// --- Write operations ---

func (s *Store) CreateTask(_ context.Context, t task.Task) (task.Task, error) {
	created, err := gateway.PrepareCreate(t, s.now())
	if err != nil {
		return task.Task{}, err
	}

	s.mu.Lock()

	if s.findIndex(created.ID) >= 0 {
		s.mu.Unlock()
		return task.Task{}, fmt.Errorf("%w: id %q already exists", task.ErrInvalidTask, created.ID)
	}
	var parent *task.Task
	if created.ParentID != "" {
		i := s.findIndex(created.ParentID)
		if i < 0 {
			s.mu.Unlock()
			return task.Task{}, fmt.Errorf("%w: parent %q not found", task.ErrInvalidTask, created.ParentID)
		}
		parent = &s.tasks[i]
	}
	if s.opts.StrictIntervals {
		if err := gateway.CheckIntervals(created, parent, nil, nil); err != nil {
			s.mu.Unlock()
			return task.Task{}, err
		}
	}

	s.tasks = append(s.tasks, created)

	if err := s.persistIndex(); err != nil {
		s.tasks = s.tasks[:len(s.tasks)-1]
		s.mu.Unlock()
		return task.Task{}, err
	}

	listeners := s.copyListeners()
	s.mu.Unlock()

	notify(listeners, gateway.ChangeEvent{Op: gateway.OperationCreate, Task: created.Clone()})
	return created.Clone(), nil
}

func (s *Store) UpdateTask(_ context.Context, id string, patch task.Patch, hint *gateway.ConflictHint) (task.Task, error) {
	if err := patch.Validate(); err != nil {
		return task.Task{}, err
	}
	id = strings.TrimSpace(id)

	s.mu.Lock()

	i := s.findIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return task.Task{}, fmt.Errorf("%w: %s", gateway.ErrNotFound, id)
	}

	prev := s.tasks[i]
	next := gateway.Canonicalize(prev, patch, s.now())
	if err := next.Interval.Validate(); err != nil {
		s.mu.Unlock()
		return task.Task{}, err
	}
	if s.opts.StrictIntervals && patch.Interval != nil {
		if err := gateway.CheckIntervals(next, s.parentOf(next), s.childrenOf(id), hint); err != nil {
			s.mu.Unlock()
			return task.Task{}, err
		}
	}

	s.tasks[i] = next

	if err := s.persistIndex(); err != nil {
		s.tasks[i] = prev
		s.mu.Unlock()
		return task.Task{}, err
	}

	listeners := s.copyListeners()
	s.mu.Unlock()

	notify(listeners, gateway.ChangeEvent{Op: gateway.OperationUpdate, Task: next.Clone()})
	return next.Clone(), nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	id = strings.TrimSpace(id)

	s.mu.Lock()

	i := s.findIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", gateway.ErrNotFound, id)
	}
	if len(s.childrenOf(id)) > 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot delete task with children", task.ErrInvalidTask)
	}

	deleted := s.tasks[i]

	newTasks := make([]task.Task, 0, len(s.tasks)-1)
	newTasks = append(newTasks, s.tasks[:i]...)
	newTasks = append(newTasks, s.tasks[i+1:]...)
	prev := s.tasks
	s.tasks = newTasks

	if err := s.persistIndex(); err != nil {
		s.tasks = prev
		s.mu.Unlock()
		return err
	}

	listeners := s.copyListeners()
	s.mu.Unlock()

	notify(listeners, gateway.ChangeEvent{Op: gateway.OperationDelete, Task: deleted})
	return nil
}

// Caller must hold s.mu.
func (s *Store) parentOf(t task.Task) *task.Task {
	if t.ParentID == "" {
		return nil
	}
	if i := s.findIndex(t.ParentID); i >= 0 {
		p := s.tasks[i]
		return &p
	}
	return nil
}

// Caller must hold s.mu.
func (s *Store) childrenOf(id string) []task.Task {
	var out []task.Task
	for _, t := range s.tasks {
		if t.ParentID == id {
			out = append(out, t)
		}
	}
	return out
}

// --- Listener management ---

func (s *Store) AddChangeListener(l gateway.ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Caller must hold s.mu (read or write).
func (s *Store) copyListeners() []gateway.ChangeListener {
	out := make([]gateway.ChangeListener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

// Must be called WITHOUT s.mu held.
func notify(listeners []gateway.ChangeListener, event gateway.ChangeEvent) {
	for _, l := range listeners {
		l.OnTaskChange(event)
	}
}

// --- File I/O with flock ---
//
// The lock lives in its own file because the index is replaced by rename,
// which changes its inode.

func (s *Store) lockPath() string {
	return s.indexPath() + ".lock"
}

func (s *Store) readIndexFromDisk() (indexData, error) {
	lockF, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return indexData{}, fmt.Errorf("open lock file: %w", err)
	}
	defer lockF.Close()

	if err := syscall.Flock(int(lockF.Fd()), syscall.LOCK_SH); err != nil {
		return indexData{}, fmt.Errorf("flock shared: %w", err)
	}
	defer syscall.Flock(int(lockF.Fd()), syscall.LOCK_UN)

	f, err := os.Open(s.indexPath())
	if os.IsNotExist(err) {
		return indexData{Tasks: []task.Task{}}, nil
	}
	if err != nil {
		return indexData{}, err
	}
	defer f.Close()

	var idx indexData
	if err := json.NewDecoder(f).Decode(&idx); err != nil {
		return indexData{}, fmt.Errorf("decode %s: %w", indexFile, err)
	}
	if idx.Tasks == nil {
		idx.Tasks = []task.Task{}
	}
	return idx, nil
}

// persistIndex writes the index with write-temp-fsync-rename so a crash
// leaves either the old or the new file, never a partial one.
// Caller must hold s.mu.
func (s *Store) persistIndex() error {
	data, err := json.MarshalIndent(indexData{Tasks: s.tasks}, "", "  ")
	if err != nil {
		return err
	}

	lockF, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer lockF.Close()

	if err := syscall.Flock(int(lockF.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("flock exclusive: %w", err)
	}
	defer syscall.Flock(int(lockF.Fd()), syscall.LOCK_UN)

	path := s.indexPath()
	tmpPath := path + ".tmp"

	tmpF, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmpF.Write(data); err != nil {
		tmpF.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpF.Sync(); err != nil {
		tmpF.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmpF.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp to index: %w", err)
	}

	s.writeGen.Add(1)
	return nil
}

func (s *Store) findIndex(id string) int {
	for i, t := range s.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}
