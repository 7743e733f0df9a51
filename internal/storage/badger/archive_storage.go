package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

// ArchiveStorage persists terminal jobs swept out of the live store so their
// results survive restarts after the in-memory archive drops them
type ArchiveStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewArchiveStorage creates an ArchiveStorage instance
func NewArchiveStorage(db *BadgerDB, logger arbor.ILogger) *ArchiveStorage {
	return &ArchiveStorage{
		db:     db,
		logger: logger,
	}
}

// SaveJob upserts a terminal job into the durable archive
func (s *ArchiveStorage) SaveJob(job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("job %s is not terminal", job.ID)
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to archive job: %w", err)
	}
	return nil
}

// GetJob loads an archived job by id
func (s *ArchiveStorage) GetJob(jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("archived job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get archived job: %w", err)
	}
	return &job, nil
}

// ListJobs returns archived jobs newest-first
func (s *ArchiveStorage) ListJobs(limit int) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list archived jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// Prune trims the durable archive to the given cap, oldest first.
// Returns the number of jobs removed.
func (s *ArchiveStorage) Prune(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	jobs, err := s.ListJobs(0)
	if err != nil {
		return 0, err
	}
	if len(jobs) <= max {
		return 0, nil
	}

	// ListJobs is newest-first, so everything past the cap goes
	pruned := 0
	for _, job := range jobs[max:] {
		if err := s.DeleteJob(job.ID); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// DeleteJob removes an archived job
func (s *ArchiveStorage) DeleteJob(jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.Job{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete archived job: %w", err)
	}
	return nil
}
