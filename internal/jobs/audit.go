package jobs

import (
	"sync"
	"time"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

// AuditQuery filters audit log reads
type AuditQuery struct {
	JobID  string
	Event  models.AuditEventType
	Limit  int
	Offset int
}

// AuditLog is the append-only record of state-changing job events.
// The global log is bounded (oldest truncated) independently of per-job
// archival; entries are strictly ordered by a process-global sequence.
type AuditLog struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
	maxSize int
	nextSeq uint64
}

// NewAuditLog creates a bounded audit log
func NewAuditLog(maxSize int) *AuditLog {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &AuditLog{maxSize: maxSize}
}

// Append records an event and returns the stored entry
func (l *AuditLog) Append(jobID string, event models.AuditEventType, actor string, details map[string]interface{}) models.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSeq++
	entry := models.AuditEntry{
		Sequence:  l.nextSeq,
		JobID:     jobID,
		Event:     event,
		Actor:     actor,
		Timestamp: time.Now(),
		Details:   details,
	}

	l.entries = append(l.entries, entry)
	if len(l.entries) > l.maxSize {
		// Truncate oldest; copy to release the backing array's head
		trimmed := make([]models.AuditEntry, l.maxSize)
		copy(trimmed, l.entries[len(l.entries)-l.maxSize:])
		l.entries = trimmed
	}

	return entry
}

// Query returns matching entries newest-first with pagination
func (l *AuditLog) Query(q AuditQuery) []models.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []models.AuditEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if q.JobID != "" && e.JobID != q.JobID {
			continue
		}
		if q.Event != "" && e.Event != q.Event {
			continue
		}
		matched = append(matched, e)
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched
}

// ForJob returns a job's entries oldest-first, reconstructing its exact
// transition sequence
func (l *AuditLog) ForJob(jobID string) []models.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []models.AuditEntry
	for _, e := range l.entries {
		if e.JobID == jobID {
			matched = append(matched, e)
		}
	}
	return matched
}

// Len returns the current entry count
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
