package models

import "time"

// AuditEventType enumerates the state-changing events recorded per job
type AuditEventType string

const (
	AuditJobCreated          AuditEventType = "JOB_CREATED"
	AuditJobQueued           AuditEventType = "JOB_QUEUED"
	AuditJobStarted          AuditEventType = "JOB_STARTED"
	AuditBatchCompleted      AuditEventType = "BATCH_COMPLETED"
	AuditJobPaused           AuditEventType = "JOB_PAUSED"
	AuditJobResumed          AuditEventType = "JOB_RESUMED"
	AuditJobCompleted        AuditEventType = "JOB_COMPLETED"
	AuditJobFailed           AuditEventType = "JOB_FAILED"
	AuditJobCancelled        AuditEventType = "JOB_CANCELLED"
	AuditProcessingComplete  AuditEventType = "COMPREHENSIVE_PROCESSING_COMPLETE"
	AuditQueueRetryExhausted AuditEventType = "QUEUE_RETRY_EXHAUSTED"
)

// AuditEntry is an append-only, ordered record of a job state change.
// Sequence is process-global and strictly increasing, so per-job slices
// reconstruct the exact transition order.
type AuditEntry struct {
	Sequence  uint64                 `json:"sequence"`
	JobID     string                 `json:"job_id"`
	Event     AuditEventType         `json:"event"`
	Actor     string                 `json:"actor"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}
