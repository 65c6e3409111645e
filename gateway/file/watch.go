package file

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ThunderHDs/taskmaster-sub001/gateway"
	"github.com/ThunderHDs/taskmaster-sub001/task"
)

const reloadDebounce = 100 * time.Millisecond

// StartWatching reloads the index when another process rewrites it.
func (s *Store) StartWatching() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	// Watch the directory; file watches do not survive rename.
	if err := watcher.Add(filepath.Dir(s.indexPath())); err != nil {
		watcher.Close()
		return err
	}

	go s.watchLoop()
	slog.Info("task store watching for external changes", "path", s.indexPath())
	return nil
}

func (s *Store) StopWatching() {
	s.debounceMu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounceMu.Unlock()

	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Store) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != indexFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.scheduleReload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("task store fsnotify error", "error", err)
		}
	}
}

func (s *Store) scheduleReload() {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()

	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(reloadDebounce, s.reloadFromDisk)
}

func (s *Store) reloadFromDisk() {
	genBefore := s.writeGen.Load()

	idx, err := s.readIndexFromDisk()
	if err != nil {
		slog.Error("failed to reload task index", "error", err)
		return
	}

	s.mu.Lock()
	if s.writeGen.Load() != genBefore {
		// An in-process write landed after the read; its own event
		// schedules a fresh reload.
		s.mu.Unlock()
		return
	}
	old := s.tasks
	s.tasks = idx.Tasks
	listeners := s.copyListeners()
	s.mu.Unlock()

	// Our own writes produce no diff.
	for _, e := range diffTasks(old, idx.Tasks) {
		notify(listeners, e)
	}
}

func diffTasks(old, updated []task.Task) []gateway.ChangeEvent {
	var events []gateway.ChangeEvent

	oldMap := make(map[string]task.Task, len(old))
	for _, t := range old {
		oldMap[t.ID] = t
	}
	newMap := make(map[string]task.Task, len(updated))
	for _, t := range updated {
		newMap[t.ID] = t
	}

	for _, t := range old {
		if _, ok := newMap[t.ID]; !ok {
			events = append(events, gateway.ChangeEvent{Op: gateway.OperationDelete, Task: t, External: true})
		}
	}
	for _, t := range updated {
		prev, ok := oldMap[t.ID]
		switch {
		case !ok:
			events = append(events, gateway.ChangeEvent{Op: gateway.OperationCreate, Task: t.Clone(), External: true})
		case taskChanged(prev, t):
			events = append(events, gateway.ChangeEvent{Op: gateway.OperationUpdate, Task: t.Clone(), External: true})
		}
	}
	return events
}

func taskChanged(a, b task.Task) bool {
	return a.Title != b.Title ||
		a.Completed != b.Completed ||
		a.ParentID != b.ParentID ||
		a.Group != b.Group ||
		!a.Interval.Equal(b.Interval) ||
		!a.UpdatedAt.Equal(b.UpdatedAt)
}
