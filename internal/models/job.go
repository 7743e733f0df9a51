package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a processing job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true for states a job can never leave
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobType classifies the work a job performs
type JobType string

const (
	JobTypeIdentityMatching   JobType = "identity_matching"
	JobTypeDataValidation     JobType = "data_validation"
	JobTypeDataQuality        JobType = "data_quality"
	JobTypeDeduplication      JobType = "deduplication"
	JobTypeHouseholdDetection JobType = "household_detection"
	JobTypeBulkExport         JobType = "bulk_export"
)

// AllJobTypes lists every registered job type, used for exhaustive config checks
func AllJobTypes() []JobType {
	return []JobType{
		JobTypeIdentityMatching,
		JobTypeDataValidation,
		JobTypeDataQuality,
		JobTypeDeduplication,
		JobTypeHouseholdDetection,
		JobTypeBulkExport,
	}
}

// JobPriority maps the enumerated priority names to numeric queue weights
type JobPriority string

const (
	PriorityUrgent JobPriority = "urgent"
	PriorityHigh   JobPriority = "high"
	PriorityNormal JobPriority = "normal"
	PriorityLow    JobPriority = "low"
)

// Weight returns the numeric weight used for queue ordering (higher first)
func (p JobPriority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 20
	case PriorityHigh:
		return 10
	case PriorityLow:
		return 1
	default:
		return 5
	}
}

// ProcessingMode records which execution path handled a job.
// Queue-backend failures are invisible to API consumers except through this field.
type ProcessingMode string

const (
	ProcessingModeQueued         ProcessingMode = "queued"
	ProcessingModeDirect         ProcessingMode = "direct"
	ProcessingModeDirectFallback ProcessingMode = "direct_fallback"
)

// FileRef describes an uploaded input file consumed through the record source
type FileRef struct {
	Path   string `json:"path"`
	Format string `json:"format"` // "csv" or "json"
	Name   string `json:"name,omitempty"`
}

// JobConfig is the per-job processing configuration, snapshot at creation time
type JobConfig struct {
	BatchSize             int      `json:"batch_size"`
	OutputFormat          string   `json:"output_format"`
	QualityThreshold      float64  `json:"quality_threshold"`
	PartialMatchThreshold float64  `json:"partial_match_threshold"`
	Algorithms            []string `json:"algorithms,omitempty"`

	// Stage toggles; the typeconfig registry sets defaults per job type
	EnableQuality        bool `json:"enable_quality"`
	EnableValidation     bool `json:"enable_validation"`
	EnableSecurity       bool `json:"enable_security"`
	EnableTransformation bool `json:"enable_transformation"`
	EnableMatching       bool `json:"enable_matching"`
	EnableHousehold      bool `json:"enable_household"`
}

// JobInsights summarizes a terminal job's outcome
type JobInsights struct {
	ProcessingTime float64 `json:"processing_time_seconds"`
	Throughput     float64 `json:"throughput_records_per_second"`
	QualityScore   float64 `json:"quality_score"`
	MatchRate      float64 `json:"match_rate"`
	ErrorRate      float64 `json:"error_rate"`
}

// Job is the unit of asynchronous batch work.
// Owned exclusively by the job manager; the pipeline executor mutates it only
// through manager methods and the broadcaster reads copies.
type Job struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Type     JobType     `json:"job_type"`
	Owner    string      `json:"owner,omitempty"`
	Status   JobStatus   `json:"status"`
	Priority JobPriority `json:"priority"`

	CreatedAt           time.Time  `json:"created_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`

	TotalRecords      int     `json:"total_records"`
	ProcessedRecords  int     `json:"processed_records"`
	SuccessfulRecords int     `json:"successful_records"`
	FailedRecords     int     `json:"failed_records"`
	Progress          float64 `json:"progress"` // percent, non-decreasing while running

	ProcessingMode ProcessingMode `json:"processing_mode"`

	InlineRecords []Record  `json:"inline_records,omitempty"`
	File          *FileRef  `json:"file,omitempty"`
	Config        JobConfig `json:"config"`

	Results  []RecordResult    `json:"results,omitempty"`
	Report   *ProcessingReport `json:"report,omitempty"`
	Insights *JobInsights      `json:"insights,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// NewJob creates a job in the queued state
func NewJob(name string, jobType JobType, priority JobPriority, cfg JobConfig) *Job {
	if priority == "" {
		priority = PriorityNormal
	}
	return &Job{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      jobType,
		Status:    JobStatusQueued,
		Priority:  priority,
		CreatedAt: time.Now(),
		Config:    cfg,
	}
}

// MarkStarted transitions the job into the running state
func (j *Job) MarkStarted() {
	j.Status = JobStatusRunning
	now := time.Now()
	j.StartedAt = &now
}

// MarkCompleted stamps the terminal completed state
func (j *Job) MarkCompleted() {
	j.Status = JobStatusCompleted
	now := time.Now()
	j.CompletedAt = &now
	j.Progress = 100
}

// MarkFailed stamps the terminal failed state with the captured error
func (j *Job) MarkFailed(errMsg string) {
	j.Status = JobStatusFailed
	j.Error = errMsg
	now := time.Now()
	j.CompletedAt = &now
}

// MarkCancelled stamps the terminal cancelled state
func (j *Job) MarkCancelled() {
	j.Status = JobStatusCancelled
	now := time.Now()
	j.CompletedAt = &now
}

// Duration returns elapsed processing time, zero if the job never started
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}

// Clone returns a shallow copy safe for snapshot reads.
// Result and record slices are shared but immutable once written.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}
