// Package store implements the State Store (C1): a single-host durable
// store for tasks, workers, heartbeats, with an atomic claim primitive,
// per spec.md §3/§4.1. It is bucket-per-entity, JSON-encoded values,
// db.Update/db.View transactions — the exact shape of
// cuemby-warren/pkg/storage/boltdb.go's BoltStore, generalized from
// Warren's node/service/container entities to this spec's
// task/worker/heartbeat entities and extended with the atomic
// priority-ordered claim spec.md §4.1 requires (which Warren's
// single-key get/put API has no equivalent of).
package store

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/flowforge/sdlc-orchestrator/internal/task"
)

var (
	bucketTasks      = []byte("tasks")
	bucketWorkers    = []byte("workers")
	bucketHeartbeats = []byte("heartbeats")
	bucketPhases     = []byte("phases")
)

// ErrWorkerNotFound is returned by GetWorker when no record exists for
// the requested worker ID, for the admin API's 404 mapping.
var ErrWorkerNotFound = errors.New("store: worker not found")

// PhaseRecord is the persisted Phase Machine position for one group,
// per spec.md §4.14 ("Phase is persisted in State Store").
type PhaseRecord struct {
	GroupID   string    `json:"group_id"`
	Phase     string    `json:"phase"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Worker is the persisted slot record from spec.md §3.
type Worker struct {
	WorkerID       string     `json:"worker_id"`
	PID            int        `json:"pid"`
	Status         string     `json:"status"` // starting|idle|busy|paused|crashed|dead
	Shard          string     `json:"shard,omitempty"`
	Model          string     `json:"model,omitempty"`
	LastHeartbeat  *time.Time `json:"last_heartbeat,omitempty"`
	CurrentTask    string     `json:"current_task,omitempty"`
	TasksCompleted int        `json:"tasks_completed"`
	TasksFailed    int        `json:"tasks_failed"`
	CrashCount     int        `json:"crash_count"`
	CrashedAt      *time.Time `json:"crashed_at,omitempty"`
}

// Heartbeat is the 1:1 liveness record from spec.md §3.
type Heartbeat struct {
	WorkerID        string    `json:"worker_id"`
	Timestamp       time.Time `json:"timestamp"`
	Status          string    `json:"status"`
	TaskID          string    `json:"task_id,omitempty"`
	TaskType        string    `json:"task_type,omitempty"`
	ProgressPercent int       `json:"progress_percent"`
	ExpectedTimeout int       `json:"expected_timeout_s"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// ErrNone is returned by ClaimTaskAtomic when no eligible task exists.
var ErrNone = fmt.Errorf("store: no eligible task")

// ErrConflict is returned by TransitionTask when the current state does
// not match the expected "from" state.
var ErrConflict = fmt.Errorf("store: state conflict")

// Store is the bbolt-backed State Store.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the store at path, per spec.md §6.1's
// state/store.db.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTasks, bucketWorkers, bucketHeartbeats, bucketPhases} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateTask inserts t if task_id is not already present; idempotent,
// per spec.md §4.1.
func (s *Store) CreateTask(t *task.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if b.Get([]byte(t.TaskID)) != nil {
			return nil // idempotent on task_id
		}
		return putJSON(b, t.TaskID, t)
	})
}

// GetTask fetches a task by id.
func (s *Store) GetTask(taskID string) (*task.Task, error) {
	var t task.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(taskID))
		if data == nil {
			return task.ErrTaskNotFound
		}
		return unmarshalJSON(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks returns every task, for recovery sweeps and the admin API.
func (s *Store) ListTasks() ([]*task.Task, error) {
	var tasks []*task.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(_, v []byte) error {
			var t task.Task
			if err := unmarshalJSON(v, &t); err != nil {
				return err
			}
			tasks = append(tasks, &t)
			return nil
		})
	})
	return tasks, err
}

// ClaimTaskAtomic implements spec.md §4.1's claim_task_atomic: selects
// the eligible QUEUED row of maximal priority (ties broken by oldest
// created_at), honoring optional shard/model restrictions, and
// transitions it to RUNNING within the same bbolt write transaction —
// bbolt serializes writers, so this is the claim's linearization point
// (spec.md §5's ordering guarantee).
func (s *Store) ClaimTaskAtomic(workerID, shard, model string) (*task.Task, error) {
	var claimed *task.Task

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)

		var best *task.Task
		err := b.ForEach(func(_, v []byte) error {
			var t task.Task
			if err := unmarshalJSON(v, &t); err != nil {
				return err
			}
			if t.State != task.StateQueued {
				return nil
			}
			if shard != "" && t.Shard != "" && t.Shard != shard {
				return nil
			}
			if model != "" && t.AssignedModel != "" && t.AssignedModel != model {
				return nil
			}
			if t.AssignedModel != "" && model == "" {
				return nil // model-assigned tasks require a matching worker, per spec.md §9
			}
			if t.Shard != "" && shard == "" {
				return nil
			}
			if best == nil || task.Less(&t, best) {
				cp := t
				best = &cp
			}
			return nil
		})
		if err != nil {
			return err
		}
		if best == nil {
			return ErrNone
		}

		sm := task.NewStateMachine(best)
		if err := sm.Claim(workerID); err != nil {
			return err
		}

		if err := putJSON(b, best.TaskID, best); err != nil {
			return err
		}
		claimed = best
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// TransitionTask conditionally updates a task's state, failing with
// ErrConflict if the stored state does not equal from.
func (s *Store) TransitionTask(taskID string, from, to task.State, mutate func(*task.Task) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(taskID))
		if data == nil {
			return task.ErrTaskNotFound
		}
		var t task.Task
		if err := unmarshalJSON(data, &t); err != nil {
			return err
		}
		if t.State != from {
			return ErrConflict
		}
		sm := task.NewStateMachine(&t)
		if err := sm.Transition(to); err != nil {
			return err
		}
		if mutate != nil {
			if err := mutate(&t); err != nil {
				return err
			}
		}
		return putJSON(b, t.TaskID, &t)
	})
}

// PutTask upserts a task wholesale — used by components (worker pool,
// supervisor) that have already mutated a task's fields in memory via
// its StateMachine and need to persist the result.
func (s *Store) PutTask(t *task.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketTasks), t.TaskID, t)
	})
}

// UpsertWorker creates or updates a worker record.
func (s *Store) UpsertWorker(w *Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketWorkers), w.WorkerID, w)
	})
}

// GetWorker fetches a worker by id.
func (s *Store) GetWorker(workerID string) (*Worker, error) {
	var w Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkers).Get([]byte(workerID))
		if data == nil {
			return ErrWorkerNotFound
		}
		return unmarshalJSON(data, &w)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkers returns every worker record.
func (s *Store) ListWorkers() ([]*Worker, error) {
	var workers []*Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(_, v []byte) error {
			var w Worker
			if err := unmarshalJSON(v, &w); err != nil {
				return err
			}
			workers = append(workers, &w)
			return nil
		})
	})
	return workers, err
}

// PutHeartbeat upserts a worker's heartbeat (1:1 with Worker).
func (s *Store) PutHeartbeat(hb *Heartbeat) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketHeartbeats), hb.WorkerID, hb)
	})
}

// GetHeartbeat fetches a worker's heartbeat, if any.
func (s *Store) GetHeartbeat(workerID string) (*Heartbeat, error) {
	var hb Heartbeat
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketHeartbeats).Get([]byte(workerID))
		if data == nil {
			return nil
		}
		return unmarshalJSON(data, &hb)
	})
	if err != nil {
		return nil, err
	}
	if hb.WorkerID == "" {
		return nil, nil
	}
	return &hb, nil
}

// DeleteHeartbeat removes a worker's heartbeat — called when a worker
// is recovered as a zombie and its liveness record is destroyed
// (spec.md §3's Heartbeat lifetime invariant).
func (s *Store) DeleteHeartbeat(workerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeartbeats).Delete([]byte(workerID))
	})
}

// RecoverStale requeues every RUNNING task whose worker's heartbeat age
// exceeds timeout, incrementing retry_count and clearing
// assigned_worker, per spec.md §4.1's recover_stale.
func (s *Store) RecoverStale(timeout time.Duration) (int, error) {
	count := 0
	now := time.Now().UTC()

	err := s.db.Update(func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTasks)
		hb := tx.Bucket(bucketHeartbeats)

		return tb.ForEach(func(k, v []byte) error {
			var t task.Task
			if err := unmarshalJSON(v, &t); err != nil {
				return err
			}
			if t.State != task.StateRunning {
				return nil
			}

			stale := true
			if t.AssignedWorker != "" {
				if hbData := hb.Get([]byte(t.AssignedWorker)); hbData != nil {
					var h Heartbeat
					if err := unmarshalJSON(hbData, &h); err == nil {
						if now.Sub(h.Timestamp) <= timeout {
							stale = false
						}
					}
				}
			}
			if !stale {
				return nil
			}

			sm := task.NewStateMachine(&t)
			if err := sm.Requeue(); err != nil {
				return nil // leave inconsistent rows alone rather than corrupt state
			}
			t.RetryCount++
			count++
			return putJSON(tb, t.TaskID, &t)
		})
	})
	return count, err
}

// RecoverZombie is RecoverStale's longer-threshold counterpart: it
// additionally marks the worker dead and destroys its heartbeat, per
// spec.md §4.1's recover_zombie.
func (s *Store) RecoverZombie(timeout time.Duration) (int, error) {
	count := 0
	now := time.Now().UTC()

	err := s.db.Update(func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTasks)
		wb := tx.Bucket(bucketWorkers)
		hb := tx.Bucket(bucketHeartbeats)

		return tb.ForEach(func(k, v []byte) error {
			var t task.Task
			if err := unmarshalJSON(v, &t); err != nil {
				return err
			}
			if t.State != task.StateRunning || t.AssignedWorker == "" {
				return nil
			}

			hbData := hb.Get([]byte(t.AssignedWorker))
			if hbData == nil {
				return nil
			}
			var h Heartbeat
			if err := unmarshalJSON(hbData, &h); err != nil {
				return nil
			}
			if now.Sub(h.Timestamp) <= timeout {
				return nil
			}

			workerID := t.AssignedWorker
			sm := task.NewStateMachine(&t)
			if err := sm.Requeue(); err != nil {
				return nil
			}
			t.RetryCount++
			if err := putJSON(tb, t.TaskID, &t); err != nil {
				return err
			}

			if wData := wb.Get([]byte(workerID)); wData != nil {
				var w Worker
				if err := unmarshalJSON(wData, &w); err == nil {
					w.Status = "dead"
					crashedAt := now
					w.CrashedAt = &crashedAt
					w.CrashCount++
					if err := putJSON(wb, w.WorkerID, &w); err != nil {
						return err
					}
				}
			}
			if err := hb.Delete([]byte(workerID)); err != nil {
				return err
			}

			count++
			return nil
		})
	})
	return count, err
}

// GetPhase returns the persisted phase for groupID, or ("", nil) if
// the group has never been recorded (callers treat that as BRAINSTORM,
// the Phase Machine's initial phase).
func (s *Store) GetPhase(groupID string) (string, error) {
	var phase string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPhases).Get([]byte(groupID))
		if data == nil {
			return nil
		}
		var rec PhaseRecord
		if err := unmarshalJSON(data, &rec); err != nil {
			return err
		}
		phase = rec.Phase
		return nil
	})
	return phase, err
}

// PutPhase persists groupID's new phase, per spec.md §4.14.
func (s *Store) PutPhase(groupID, phase string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketPhases), groupID, &PhaseRecord{
			GroupID:   groupID,
			Phase:     phase,
			UpdatedAt: time.Now().UTC(),
		})
	})
}
