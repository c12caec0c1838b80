// Package queuewatcher implements the Queue Watcher (C9): it watches
// the `queue/{CRITICAL,HIGH,MEDIUM,LOW}/*.task` hierarchy for new
// artifacts, resolves each one's priority (directory, then filename
// prefix, then MEDIUM), and ingests it into the State Store as a new
// QUEUED task, per spec.md §4.9. It is grounded on the teacher's
// config/hot-reload watcher shape, generalized from watching a single
// config file to watching four priority subdirectories with a poll
// fallback for filesystems where fsnotify events are unreliable.
package queuewatcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flowforge/sdlc-orchestrator/internal/eventlog"
	"github.com/flowforge/sdlc-orchestrator/internal/logger"
	"github.com/flowforge/sdlc-orchestrator/internal/task"
)

// TaskCreator is the subset of the State Store the watcher needs.
type TaskCreator interface {
	CreateTask(t *task.Task) error
}

var priorityDirs = []string{"CRITICAL", "HIGH", "MEDIUM", "LOW"}

// Config mirrors spec.md §6.4's queue-watcher-relevant keys.
type Config struct {
	QueueDir     string
	PollInterval time.Duration
	MaxRetries   int
}

// Watcher is the Queue Watcher component.
type Watcher struct {
	cfg    Config
	store  TaskCreator
	events *eventlog.Log

	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	onError func(error)
}

// New creates a Watcher over cfg.QueueDir's four priority
// subdirectories, creating them if absent. events may be nil in tests.
func New(cfg Config, store TaskCreator, events *eventlog.Log) (*Watcher, error) {
	for _, p := range priorityDirs {
		if err := os.MkdirAll(filepath.Join(cfg.QueueDir, p), 0o755); err != nil {
			return nil, fmt.Errorf("queuewatcher: create %s dir: %w", p, err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("queuewatcher: new fsnotify watcher: %w", err)
	}
	for _, p := range priorityDirs {
		if err := fsw.Add(filepath.Join(cfg.QueueDir, p)); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("queuewatcher: watch %s: %w", p, err)
		}
	}

	return &Watcher{
		cfg:     cfg,
		store:   store,
		events:  events,
		fsw:     fsw,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		onError: func(err error) { logger.WithComponent("queuewatcher").Error().Err(err).Msg("ingest failed") },
	}, nil
}

// Start begins the fsnotify-driven watch loop with a periodic poll
// fallback (some filesystems, notably network mounts and some
// container overlay filesystems, drop or coalesce inotify events).
func (w *Watcher) Start() {
	go w.loop()
}

// Stop halts the watch loop and closes the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.fsw.Close()
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	poll := w.cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	w.scanAll()

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.ingestIfArtifact(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.onError(fmt.Errorf("fsnotify: %w", err))
		case <-ticker.C:
			w.scanAll()
		}
	}
}

func (w *Watcher) scanAll() {
	for _, p := range priorityDirs {
		dir := filepath.Join(w.cfg.QueueDir, p)
		entries, err := os.ReadDir(dir)
		if err != nil {
			w.onError(fmt.Errorf("queuewatcher: read %s: %w", dir, err))
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			w.ingestIfArtifact(filepath.Join(dir, e.Name()))
		}
	}
}

func (w *Watcher) ingestIfArtifact(path string) {
	if !strings.HasSuffix(path, ".task") {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return // already gone (e.g. raced with our own deletion, or a rename-away)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		w.onError(fmt.Errorf("queuewatcher: read %s: %w", path, err))
		return
	}

	priority := resolvePriority(path)
	name := strings.TrimSuffix(filepath.Base(path), ".task")

	t := task.New(name, task.TypeGeneral, priority, string(body), w.cfg.MaxRetries)

	if err := w.store.CreateTask(t); err != nil {
		w.onError(fmt.Errorf("queuewatcher: create_task %s: %w", name, err))
		return
	}
	if w.events != nil {
		_ = w.events.Append(eventlog.New(eventlog.EventTaskCreated, "queuewatcher", t.TaskID, t.TraceID,
			map[string]interface{}{"priority": priority.String(), "source": path}))
	}

	if err := os.Remove(path); err != nil {
		w.onError(fmt.Errorf("queuewatcher: remove ingested artifact %s: %w", path, err))
	}

	logger.WithTask(t.TaskID).Info().Str("priority", priority.String()).Str("source", path).Msg("task ingested from queue artifact")
}

// resolvePriority reads priority from the parent directory name, then
// the filename prefix (e.g. "HIGH-deploy.task"), then falls back to
// MEDIUM, per spec.md §4.9.
func resolvePriority(path string) task.Priority {
	dir := filepath.Base(filepath.Dir(path))
	for _, p := range priorityDirs {
		if dir == p {
			return task.ParsePriority(p)
		}
	}

	base := filepath.Base(path)
	if idx := strings.IndexByte(base, '-'); idx > 0 {
		prefix := strings.ToUpper(base[:idx])
		for _, p := range priorityDirs {
			if prefix == p {
				return task.ParsePriority(p)
			}
		}
	}

	return task.PriorityMedium
}
