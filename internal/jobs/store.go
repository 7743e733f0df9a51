package jobs

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

// ListOptions filters and paginates job listings
type ListOptions struct {
	Status models.JobStatus
	Type   models.JobType
	Owner  string
	Limit  int
	Offset int
}

// Store is the in-process authoritative map of live jobs plus a bounded
// archive of terminal ones. All mutation goes through Update, which holds the
// store lock for the duration of the mutator, so no two writers ever touch
// the same job concurrently. Reads hand out shallow snapshots.
type Store struct {
	mu        sync.RWMutex
	live      map[string]*models.Job
	archive   []*models.Job // oldest first
	retention time.Duration
	maxArch   int
	onArchive func(job *models.Job)
	onMiss    func(id string) (*models.Job, error)
}

// NewStore creates a job store with the given terminal-state retention
// window and archive cap
func NewStore(retention time.Duration, archiveSize int) *Store {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if archiveSize <= 0 {
		archiveSize = 500
	}
	return &Store{
		live:      make(map[string]*models.Job),
		retention: retention,
		maxArch:   archiveSize,
	}
}

// Put inserts a job into the live map
func (s *Store) Put(job *models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[job.ID] = job
}

// Get returns a snapshot of a job, checking the live map, the in-memory
// archive, then the miss fallback for jobs only the durable archive still has
func (s *Store) Get(id string) (*models.Job, error) {
	s.mu.RLock()
	if job, ok := s.live[id]; ok {
		s.mu.RUnlock()
		return job.Clone(), nil
	}
	for _, job := range s.archive {
		if job.ID == id {
			s.mu.RUnlock()
			return job.Clone(), nil
		}
	}
	fallback := s.onMiss
	s.mu.RUnlock()

	if fallback != nil {
		if job, err := fallback(id); err == nil && job != nil {
			return job, nil
		}
	}
	return nil, ErrNotFound
}

// Update applies a mutator to a live job under the store lock.
// The mutator sees the authoritative entity, not a copy.
func (s *Store) Update(id string, mutate func(job *models.Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.live[id]
	if !ok {
		return ErrNotFound
	}
	return mutate(job)
}

// Status returns a job's current status without copying the entity
func (s *Store) Status(id string) (models.JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if job, ok := s.live[id]; ok {
		return job.Status, nil
	}
	for _, job := range s.archive {
		if job.ID == id {
			return job.Status, nil
		}
	}
	return "", ErrNotFound
}

// List returns snapshot copies matching the filters, newest-first
func (s *Store) List(opts ListOptions) []*models.Job {
	s.mu.RLock()

	var matched []*models.Job
	for _, job := range s.live {
		if matches(job, opts) {
			matched = append(matched, job.Clone())
		}
	}
	for _, job := range s.archive {
		if matches(job, opts) {
			matched = append(matched, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched
}

func matches(job *models.Job, opts ListOptions) bool {
	if opts.Status != "" && job.Status != opts.Status {
		return false
	}
	if opts.Type != "" && job.Type != opts.Type {
		return false
	}
	if opts.Owner != "" && !strings.EqualFold(job.Owner, opts.Owner) {
		return false
	}
	return true
}

// CountByStatus returns live job counts keyed by status
func (s *Store) CountByStatus() map[models.JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.JobStatus]int)
	for _, job := range s.live {
		counts[job.Status]++
	}
	return counts
}

// SetArchiveHook registers a callback invoked for each job moved to the
// archive, used to persist terminal jobs durably
func (s *Store) SetArchiveHook(fn func(job *models.Job)) {
	s.mu.Lock()
	s.onArchive = fn
	s.mu.Unlock()
}

// SetMissFallback registers a loader consulted when Get misses both the live
// map and the in-memory archive, used to read back durably archived jobs
func (s *Store) SetMissFallback(fn func(id string) (*models.Job, error)) {
	s.mu.Lock()
	s.onMiss = fn
	s.mu.Unlock()
}

// Sweep moves terminal jobs past the retention window into the archive and
// trims the archive to its cap (oldest dropped). Returns archived count.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()

	var moved []*models.Job
	for id, job := range s.live {
		if !job.Status.IsTerminal() || job.CompletedAt == nil {
			continue
		}
		if now.Sub(*job.CompletedAt) < s.retention {
			continue
		}
		delete(s.live, id)
		s.archive = append(s.archive, job)
		moved = append(moved, job)
	}

	if len(moved) > 0 {
		sort.Slice(s.archive, func(i, j int) bool {
			return s.archive[i].CreatedAt.Before(s.archive[j].CreatedAt)
		})
	}
	if len(s.archive) > s.maxArch {
		s.archive = s.archive[len(s.archive)-s.maxArch:]
	}
	hook := s.onArchive
	s.mu.Unlock()

	if hook != nil {
		for _, job := range moved {
			hook(job)
		}
	}
	return len(moved)
}

// LiveCount returns the number of jobs in the live map
func (s *Store) LiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live)
}

// ArchiveCount returns the number of archived jobs
func (s *Store) ArchiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.archive)
}
