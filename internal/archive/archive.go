// Package archive implements the supplemental Archive component
// (spec.md §6.1's completed/rejected directories, detailed in
// SPEC_FULL.md §4.16): moving a task's workspace between lifecycle
// directories, listing archived workspaces, and reopening a
// REJECTED_TERMINAL task by hand. Grounded on the teacher's dead
// letter queue (internal/queue/dlq.go): `List`'s entry-scan shape and
// `Retry`'s requeue-then-remove shape are carried over, generalized
// from a Redis stream of DLQ entries to directories of task
// workspaces on disk.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/flowforge/sdlc-orchestrator/internal/task"
)

// Store is the subset of internal/store.Store the Archive needs.
type Store interface {
	GetTask(taskID string) (*task.Task, error)
	CreateTask(t *task.Task) error
}

// ArchivedTask describes one archived workspace directory.
type ArchivedTask struct {
	TaskID   string    `json:"task_id"`
	Dir      string    `json:"dir"`
	Verdict  string    `json:"verdict"` // directory name: completed|rejected
	MovedAt  time.Time `json:"moved_at"`
}

// Archive manages task workspace directories under root (spec.md
// §6.1's tasks/{running,review,completed,rejected}/<task_id>/).
type Archive struct {
	root  string
	store Store
}

// New builds an Archive rooted at root (the tasks/ directory).
func New(root string, store Store) *Archive {
	return &Archive{root: root, store: store}
}

func (a *Archive) dirFor(name string) string { return filepath.Join(a.root, name) }

// Move atomically renames taskID's workspace directory from one
// lifecycle directory to another, per SPEC_FULL.md §4.16. It is a
// no-op (not an error) if the source directory doesn't exist, since a
// task that never materialized a workspace has nothing to archive.
func (a *Archive) Move(taskID, fromDir, toDir string) error {
	src := filepath.Join(a.dirFor(fromDir), taskID)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}

	dstParent := a.dirFor(toDir)
	if err := os.MkdirAll(dstParent, 0o755); err != nil {
		return fmt.Errorf("archive: create %s: %w", dstParent, err)
	}

	dst := filepath.Join(dstParent, taskID)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("archive: move %s -> %s: %w", src, dst, err)
	}

	meta := archiveMeta{TaskID: taskID, Verdict: toDir, MovedAt: time.Now().UTC()}
	data, _ := json.Marshal(meta)
	_ = os.WriteFile(filepath.Join(dst, ".archive.json"), data, 0o644)

	return nil
}

type archiveMeta struct {
	TaskID  string    `json:"task_id"`
	Verdict string    `json:"verdict"`
	MovedAt time.Time `json:"moved_at"`
}

// List enumerates the archived workspaces directly under dirName
// (e.g. "completed" or "rejected"), newest first, grounded on the
// teacher DLQ's List.
func (a *Archive) List(dirName string) ([]ArchivedTask, error) {
	dir := a.dirFor(dirName)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", dir, err)
	}

	out := make([]ArchivedTask, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		at := ArchivedTask{TaskID: e.Name(), Dir: dirName, Verdict: dirName}
		if data, err := os.ReadFile(filepath.Join(dir, e.Name(), ".archive.json")); err == nil {
			var meta archiveMeta
			if json.Unmarshal(data, &meta) == nil {
				at.MovedAt = meta.MovedAt
			}
		}
		out = append(out, at)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].MovedAt.After(out[j].MovedAt) })
	return out, nil
}

// ErrNotRejectedTerminal is returned by Reopen when the task isn't in
// a state an operator may manually re-drive.
var ErrNotRejectedTerminal = fmt.Errorf("archive: task is not REJECTED_TERMINAL")

// Reopen re-submits a REJECTED_TERMINAL task for another full attempt,
// grounded on the teacher DLQ's Retry: it derives a fresh task
// (new task_id, parent_task_id set, trace_id preserved per spec.md
// §9's Open Question resolution) and re-creates it QUEUED, per
// SPEC_FULL.md §4.16.
func (a *Archive) Reopen(taskID string) (*task.Task, error) {
	t, err := a.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if t.State != task.StateRejectedTerminal {
		return nil, ErrNotRejectedTerminal
	}

	derived := t.DeriveRetry()
	if err := a.store.CreateTask(derived); err != nil {
		return nil, fmt.Errorf("archive: reopen %s: %w", taskID, err)
	}
	return derived, nil
}
