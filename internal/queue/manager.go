package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/interfaces"
)

// ErrNoMessage is returned when the queue has no visible tasks
var ErrNoMessage = errors.New("no messages in queue")

// ErrUnavailable is returned when the backend cannot accept or deliver work.
// The job manager treats it as a fallback trigger, never a caller-visible error.
var ErrUnavailable = errors.New("queue backend unavailable")

// queuedTask wraps a task with delivery bookkeeping stored in Badger
type queuedTask struct {
	ID           string          `json:"id"`
	Task         interfaces.Task `json:"task"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAt    time.Time       `json:"visible_at"`
	ReceiveCount int             `json:"receive_count"`
}

// Manager implements interfaces.QueueBackend with a persistent priority queue
// on BadgerDB. Tasks are ordered by priority weight then enqueue time via a
// visibility index; redelivery uses a visibility timeout with exponential
// backoff and a bounded receive count before dead-lettering.
type Manager struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
	seq               atomic.Uint64

	closed atomic.Bool
	deadMu sync.Mutex
	onDead func(task interfaces.Task, receiveCount int)
}

// NewManager creates a new Badger-backed queue manager
func NewManager(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int) (*Manager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &Manager{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
	}, nil
}

// OnDeadLetter registers a callback invoked when a task exhausts its receive
// budget. The job manager mirrors this into the job's audit trail.
func (m *Manager) OnDeadLetter(fn func(task interfaces.Task, receiveCount int)) {
	m.deadMu.Lock()
	m.onDead = fn
	m.deadMu.Unlock()
}

// Submit enqueues a task, implementing interfaces.QueueBackend
func (m *Manager) Submit(ctx context.Context, task interfaces.Task) error {
	if m.closed.Load() {
		return ErrUnavailable
	}

	id := uuid.New().String()
	qt := queuedTask{
		ID:         id,
		Task:       task,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now(),
	}

	data, err := json.Marshal(qt)
	if err != nil {
		return fmt.Errorf("failed to marshal queued task: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(m.taskKey(id), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(task.Priority, qt.VisibleAt, id), []byte{})
	})
	if err != nil {
		// Any storage failure counts as unavailability for the fallback policy
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Receive pulls the highest-priority visible task.
// Returns the task, an ack function (delete on success) and a nack function
// (reschedule with exponential backoff on failure).
func (m *Manager) Receive(ctx context.Context) (*interfaces.Task, func() error, func() error, error) {
	if m.closed.Load() {
		return nil, nil, nil, ErrUnavailable
	}

	var claimed queuedTask
	var found bool
	var deadLettered []queuedTask

	err := m.db.Update(func(txn *badger.Txn) error {
		deadLettered = deadLettered[:0]
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			visibleAt, id, err := m.parseIndexKey(key)
			if err != nil {
				continue
			}
			if visibleAt.After(now) {
				// Within one priority band keys sort by visibility time, but a
				// lower band may still hold ready tasks, so keep scanning.
				continue
			}

			item, err := txn.Get(m.taskKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry, clean up and continue
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var qt queuedTask
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &qt)
			}); err != nil {
				return err
			}

			if qt.ReceiveCount >= m.maxReceive {
				// Exhausted: move out of the live queue into the dead-letter set
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(m.taskKey(id)); err != nil {
					return err
				}
				data, err := json.Marshal(qt)
				if err != nil {
					return err
				}
				if err := txn.Set(m.deadKey(id), data); err != nil {
					return err
				}
				deadLettered = append(deadLettered, qt)
				continue
			}

			// Claim: bump receive count, push visibility forward
			qt.ReceiveCount++
			qt.VisibleAt = now.Add(m.visibilityTimeout)

			data, err := json.Marshal(qt)
			if err != nil {
				return err
			}
			if err := txn.Set(m.taskKey(id), data); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(m.indexKey(qt.Task.Priority, qt.VisibleAt, id), []byte{}); err != nil {
				return err
			}

			claimed = qt
			found = true
			return nil
		}

		// Commit even without a claim so dead-letter moves stick
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}

	for i := range deadLettered {
		m.notifyDeadLetter(&deadLettered[i])
	}
	if !found {
		return nil, nil, nil, ErrNoMessage
	}

	taskID := claimed.ID

	ack := func() error {
		return m.remove(taskID)
	}
	nack := func() error {
		return m.reschedule(taskID)
	}

	task := claimed.Task
	return &task, ack, nack, nil
}

// Stats returns queue depth counters, implementing interfaces.QueueBackend
func (m *Manager) Stats(ctx context.Context) (*interfaces.QueueStats, error) {
	stats := &interfaces.QueueStats{QueueName: m.queueName, Available: !m.closed.Load()}
	if m.closed.Load() {
		return stats, nil
	}

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		indexPrefix := []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
		for it.Seek(indexPrefix); it.ValidForPrefix(indexPrefix); it.Next() {
			visibleAt, _, err := m.parseIndexKey(it.Item().Key())
			if err != nil {
				continue
			}
			if visibleAt.After(now) {
				stats.InFlight++
			} else {
				stats.Pending++
			}
		}

		deadPrefix := []byte(fmt.Sprintf("queue:%s:dead:", m.queueName))
		for it.Seek(deadPrefix); it.ValidForPrefix(deadPrefix); it.Next() {
			stats.DeadLetter++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return stats, nil
}

// Close marks the backend unavailable. The Badger handle is owned by the
// caller and closed there.
func (m *Manager) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *Manager) notifyDeadLetter(qt *queuedTask) {
	m.deadMu.Lock()
	fn := m.onDead
	m.deadMu.Unlock()
	if fn != nil {
		fn(qt.Task, qt.ReceiveCount)
	}
}

// remove deletes a task and its index entry after successful processing
func (m *Manager) remove(id string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(m.taskKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // already removed
			}
			return err
		}

		var qt queuedTask
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &qt)
		}); err != nil {
			return err
		}

		if err := txn.Delete(m.indexKey(qt.Task.Priority, qt.VisibleAt, id)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Delete(m.taskKey(id))
	})
}

// reschedule makes a failed task visible again after an exponential backoff
// derived from its receive count
func (m *Manager) reschedule(id string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(m.taskKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}

		var qt queuedTask
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &qt)
		}); err != nil {
			return err
		}

		oldIndexKey := m.indexKey(qt.Task.Priority, qt.VisibleAt, id)

		backoff := time.Duration(1<<uint(qt.ReceiveCount)) * 250 * time.Millisecond
		qt.VisibleAt = time.Now().Add(backoff)

		data, err := json.Marshal(qt)
		if err != nil {
			return err
		}
		if err := txn.Set(m.taskKey(id), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(m.indexKey(qt.Task.Priority, qt.VisibleAt, id), []byte{})
	})
}

// Key layout:
//   queue:<name>:msg:<id>                          -> task JSON
//   queue:<name>:index:<inv-priority>:<ts>:<id>    -> empty (scan order)
//   queue:<name>:dead:<id>                         -> task JSON
// Priority is inverted (999 - weight) so higher weights sort first.

func (m *Manager) taskKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *Manager) deadKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:dead:%s", m.queueName, id))
}

func (m *Manager) indexKey(priority int, visibleAt time.Time, id string) []byte {
	inv := 999 - priority
	if inv < 0 {
		inv = 0
	}
	return []byte(fmt.Sprintf("queue:%s:index:%03d:%020d:%s", m.queueName, inv, visibleAt.UnixNano(), id))
}

func (m *Manager) parseIndexKey(key []byte) (time.Time, string, error) {
	prefixStr := fmt.Sprintf("queue:%s:index:", m.queueName)
	if len(key) <= len(prefixStr) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	// Suffix is "<3-digit inv-priority>:<20-digit ts>:<id>"
	suffix := string(key[len(prefixStr):])
	if len(suffix) < 25 {
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	tsStr := suffix[4:24]
	id := suffix[25:]

	var ts int64
	if _, err := fmt.Sscanf(tsStr, "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), id, nil
}
