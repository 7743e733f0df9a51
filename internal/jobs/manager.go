package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/common"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/interfaces"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/pipeline"
)

// perRecordEstimate is the rough per-record processing cost used for the
// estimated completion timestamp
var perRecordEstimate = map[models.JobType]time.Duration{
	models.JobTypeIdentityMatching:   25 * time.Millisecond,
	models.JobTypeDeduplication:      20 * time.Millisecond,
	models.JobTypeHouseholdDetection: 15 * time.Millisecond,
	models.JobTypeDataValidation:     8 * time.Millisecond,
	models.JobTypeDataQuality:        8 * time.Millisecond,
	models.JobTypeBulkExport:         5 * time.Millisecond,
}

// CreateJobRequest is the external surface for job submission
type CreateJobRequest struct {
	Name     string             `json:"name" validate:"required,min=1,max=200"`
	Type     models.JobType     `json:"job_type" validate:"required"`
	Priority models.JobPriority `json:"priority" validate:"omitempty,oneof=urgent high normal low"`
	Owner    string             `json:"owner,omitempty"`

	Records []models.Record `json:"records,omitempty"`
	File    *models.FileRef `json:"file,omitempty"`

	Config *ConfigOverride `json:"config,omitempty"`
}

// ConfigOverride carries caller overrides applied on top of the job type's
// default configuration. Nil fields keep the defaults.
type ConfigOverride struct {
	BatchSize             *int     `json:"batch_size,omitempty" validate:"omitempty,gt=0,lte=10000"`
	OutputFormat          *string  `json:"output_format,omitempty" validate:"omitempty,oneof=json csv"`
	QualityThreshold      *float64 `json:"quality_threshold,omitempty" validate:"omitempty,gt=0,lte=1"`
	PartialMatchThreshold *float64 `json:"partial_match_threshold,omitempty" validate:"omitempty,gt=0,lte=1"`
	Algorithms            []string `json:"algorithms,omitempty"`
}

// JobEventPayload rides on the event bus for job lifecycle events
type JobEventPayload struct {
	Job      *models.Job             `json:"job"`
	Progress *pipeline.ChunkProgress `json:"progress,omitempty"`
}

// ResultsPage is a paginated slice of record results
type ResultsPage struct {
	JobID   string                `json:"job_id"`
	Results []models.RecordResult `json:"results"`
	Total   int                   `json:"total"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

// errAlreadyProcessed marks a duplicate ProcessJob delivery; swallowed so
// queue redeliveries stay harmless
var errAlreadyProcessed = errors.New("job already claimed")

// Manager owns the job lifecycle: creation, dispatch, the running state
// machine and terminal bookkeeping. It is the only writer of job entities.
type Manager struct {
	store    *Store
	audit    *AuditLog
	types    *TypeRegistry
	executor *pipeline.Executor
	queue    interfaces.QueueBackend
	events   interfaces.EventService
	metrics  interfaces.MetricsSink
	source   interfaces.RecordSource
	validate *validator.Validate
	logger   arbor.ILogger

	submitAttempts   int
	submitBackoff    time.Duration
	fallbackDeferral time.Duration
	defaults         common.PipelineConfig
}

// ManagerDeps bundles the manager's collaborators. Queue, metrics and source
// are optional; a nil queue selects direct execution for every job.
type ManagerDeps struct {
	Store    *Store
	Audit    *AuditLog
	Types    *TypeRegistry
	Executor *pipeline.Executor
	Queue    interfaces.QueueBackend
	Events   interfaces.EventService
	Metrics  interfaces.MetricsSink
	Source   interfaces.RecordSource
	Logger   arbor.ILogger
}

// NewManager creates the job manager
func NewManager(deps ManagerDeps, cfg *common.Config) *Manager {
	attempts := cfg.Queue.SubmitAttempts
	if attempts <= 0 {
		attempts = 3
	}

	return &Manager{
		store:            deps.Store,
		audit:            deps.Audit,
		types:            deps.Types,
		executor:         deps.Executor,
		queue:            deps.Queue,
		events:           deps.Events,
		metrics:          deps.Metrics,
		source:           deps.Source,
		validate:         validator.New(),
		logger:           deps.Logger,
		submitAttempts:   attempts,
		submitBackoff:    common.Duration(cfg.Queue.SubmitBackoff, 50*time.Millisecond),
		fallbackDeferral: common.Duration(cfg.Queue.FallbackDeferral, 100*time.Millisecond),
		defaults:         cfg.Pipeline,
	}
}

// CreateJob validates the request, snapshots the job's configuration and
// dispatches it. Queue submission failures degrade to direct execution; the
// caller sees only the processing_mode field change.
func (m *Manager) CreateJob(ctx context.Context, req CreateJobRequest) (*models.Job, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid job request: %w", err)
	}
	if req.Config != nil {
		if err := m.validate.Struct(req.Config); err != nil {
			return nil, fmt.Errorf("invalid job config: %w", err)
		}
	}
	if len(req.Records) == 0 && req.File == nil {
		return nil, errors.New("invalid job request: records or file is required")
	}

	cfg, err := m.types.Build(req.Type, m.defaults)
	if err != nil {
		return nil, err
	}
	applyOverride(&cfg, req.Config)

	job := models.NewJob(req.Name, req.Type, req.Priority, cfg)
	job.Owner = req.Owner
	job.InlineRecords = req.Records
	job.File = req.File
	job.TotalRecords = len(req.Records)

	m.store.Put(job)
	m.recordAudit(ctx, job.ID, models.AuditJobCreated, req.Owner, map[string]interface{}{
		"job_type": string(job.Type),
		"priority": string(job.Priority),
	})

	m.publishJobEvent(ctx, interfaces.EventJobCreated, job.ID, nil)

	m.dispatch(ctx, job)

	m.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Str("priority", string(job.Priority)).
		Str("mode", string(job.ProcessingMode)).
		Msg("Job created")

	return m.mustSnapshot(job.ID), nil
}

// dispatch routes a new job to the queue backend or to direct execution,
// recording the chosen processing mode on the entity
func (m *Manager) dispatch(ctx context.Context, job *models.Job) {
	if m.queue == nil {
		m.setMode(job, models.ProcessingModeDirect)
		go m.runDirect(job.ID, 0)
		return
	}

	task := interfaces.Task{
		JobID:    job.ID,
		JobType:  string(job.Type),
		Priority: job.Priority.Weight(),
	}

	var lastErr error
	for attempt := 0; attempt < m.submitAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(m.submitBackoff * time.Duration(attempt))
		}
		if lastErr = m.queue.Submit(ctx, task); lastErr == nil {
			m.setMode(job, models.ProcessingModeQueued)
			m.recordAudit(ctx, job.ID, models.AuditJobQueued, "system", map[string]interface{}{
				"priority_weight": task.Priority,
				"attempts":        attempt + 1,
			})
			return
		}
	}

	m.logger.Warn().
		Err(lastErr).
		Str("job_id", job.ID).
		Int("attempts", m.submitAttempts).
		Msg("Queue submit failed, falling back to direct execution")

	m.setMode(job, models.ProcessingModeDirectFallback)
	go m.runDirect(job.ID, m.fallbackDeferral)
}

func (m *Manager) setMode(job *models.Job, mode models.ProcessingMode) {
	job.ProcessingMode = mode
	_ = m.store.Update(job.ID, func(j *models.Job) error {
		j.ProcessingMode = mode
		return nil
	})
}

// runDirect executes a job in-process after an optional deferral, used both
// for the queue-less configuration and for submit fallback
func (m *Manager) runDirect(jobID string, deferral time.Duration) {
	if deferral > 0 {
		time.Sleep(deferral)
	}
	if err := m.ProcessJob(context.Background(), jobID); err != nil {
		m.logger.Error().Err(err).Str("job_id", jobID).Msg("Direct job execution failed")
	}
}

// ProcessJob is the single execution entry point, invoked by queue workers
// and the direct path alike. Safe under redelivery: only the first claim of a
// queued job proceeds.
func (m *Manager) ProcessJob(ctx context.Context, jobID string) error {
	var records []models.Record
	var jobType models.JobType
	var cfg models.JobConfig
	var fileRef *models.FileRef

	err := m.store.Update(jobID, func(job *models.Job) error {
		if job.Status != models.JobStatusQueued {
			return errAlreadyProcessed
		}
		job.MarkStarted()
		jobType = job.Type
		cfg = job.Config
		records = job.InlineRecords
		fileRef = job.File
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyProcessed) {
			return nil
		}
		return err
	}

	if fileRef != nil && len(records) == 0 {
		m.stampFileEstimate(ctx, jobID, jobType, fileRef)
		records, err = m.loadRecords(ctx, jobID, fileRef)
		if err != nil {
			m.finishFailed(ctx, jobID, fmt.Sprintf("failed to load input records: %v", err))
			return nil
		}
	}

	total := len(records)
	estimate := time.Now().Add(time.Duration(total) * perRecordDuration(jobType))
	_ = m.store.Update(jobID, func(job *models.Job) error {
		job.TotalRecords = total
		job.EstimatedCompletion = &estimate
		return nil
	})

	m.recordAudit(ctx, jobID, models.AuditJobStarted, "system", map[string]interface{}{
		"total_records": total,
	})
	m.publishJobEvent(ctx, interfaces.EventJobStarted, jobID, nil)

	lastQuartile := 0
	out, err := m.executor.Run(ctx, pipeline.RunInput{
		JobID:   jobID,
		Records: records,
		Config:  cfg,
		Probe: func() models.JobStatus {
			status, err := m.store.Status(jobID)
			if err != nil {
				return models.JobStatusCancelled
			}
			return status
		},
		OnChunk: func(p pipeline.ChunkProgress) {
			m.applyProgress(ctx, jobID, p, &lastQuartile)
		},
	})
	if err != nil {
		m.finishFailed(ctx, jobID, err.Error())
		return nil
	}

	if out.Cancelled {
		// CancelJob already stamped the terminal state and audit entry;
		// persist the partial results only.
		_ = m.store.Update(jobID, func(job *models.Job) error {
			job.Results = out.Results
			job.Report = out.Report
			return nil
		})
		return nil
	}

	m.finishCompleted(ctx, jobID, out)
	return nil
}

// stampFileEstimate counts the file's records without materializing them and
// publishes the total and a completion estimate before the full read, so
// early subscribers see real progress denominators
func (m *Manager) stampFileEstimate(ctx context.Context, jobID string, jobType models.JobType, ref *models.FileRef) {
	if m.source == nil {
		return
	}
	count, err := m.source.CountRecords(ctx, *ref)
	if err != nil {
		m.logger.Debug().Err(err).Str("job_id", jobID).Msg("Record count unavailable before read")
		return
	}

	estimate := time.Now().Add(time.Duration(count) * perRecordDuration(jobType))
	_ = m.store.Update(jobID, func(job *models.Job) error {
		job.TotalRecords = count
		job.EstimatedCompletion = &estimate
		return nil
	})
}

func (m *Manager) loadRecords(ctx context.Context, jobID string, ref *models.FileRef) ([]models.Record, error) {
	if m.source == nil {
		return nil, errors.New("no record source configured")
	}
	records, err := m.source.ReadRecords(ctx, *ref)
	if err != nil {
		return nil, err
	}
	m.logger.Debug().
		Str("job_id", jobID).
		Str("file", ref.Path).
		Int("records", len(records)).
		Msg("Input file loaded")
	return records, nil
}

// applyProgress updates the job's counters after a chunk and emits progress
// signals. Progress audit entries are written only at 25% boundaries so the
// audit log stays bounded by job count, not record count.
func (m *Manager) applyProgress(ctx context.Context, jobID string, p pipeline.ChunkProgress, lastQuartile *int) {
	percent := 0.0
	if p.Total > 0 {
		percent = float64(p.Processed) / float64(p.Total) * 100
	}

	_ = m.store.Update(jobID, func(job *models.Job) error {
		job.ProcessedRecords = p.Processed
		job.SuccessfulRecords = p.Successful
		job.FailedRecords = p.Failed
		if percent > job.Progress {
			job.Progress = percent
		}
		return nil
	})

	progress := p
	m.publishJobEvent(ctx, interfaces.EventJobProgress, jobID, &progress)

	quartile := int(percent) / 25
	if quartile > *lastQuartile && percent < 100 {
		*lastQuartile = quartile
		m.recordAudit(ctx, jobID, models.AuditBatchCompleted, "system", map[string]interface{}{
			"chunk":     p.ChunkIndex + 1,
			"processed": p.Processed,
			"total":     p.Total,
			"percent":   quartile * 25,
		})
	}
}

// finishCompleted stamps the terminal completed state with results, report
// and insights, then emits the terminal signals and metric samples
func (m *Manager) finishCompleted(ctx context.Context, jobID string, out *pipeline.RunOutput) {
	var snapshot *models.Job
	_ = m.store.Update(jobID, func(job *models.Job) error {
		job.Results = out.Results
		job.Report = out.Report
		if job.Status.IsTerminal() {
			// A cancel can land while the final chunk is in flight, with no
			// later boundary to observe it. That terminal state stands;
			// persist the results only.
			return nil
		}
		job.ProcessedRecords = len(out.Results)
		job.MarkCompleted()
		job.Insights = buildInsights(job, out)
		snapshot = job.Clone()
		return nil
	})
	if snapshot == nil {
		return
	}

	details := map[string]interface{}{
		"processed":  snapshot.ProcessedRecords,
		"successful": snapshot.SuccessfulRecords,
		"failed":     snapshot.FailedRecords,
	}
	m.recordAudit(ctx, jobID, models.AuditJobCompleted, "system", details)

	m.recordAudit(ctx, jobID, models.AuditProcessingComplete, "system", map[string]interface{}{
		"algorithms": snapshot.Config.Algorithms,
		"chunks":     chunksProcessed(out),
	})

	m.publishJobEvent(ctx, interfaces.EventJobCompleted, jobID, nil)
	m.recordSamples(snapshot, out)

	m.logger.Info().
		Str("job_id", jobID).
		Int("processed", snapshot.ProcessedRecords).
		Dur("duration", snapshot.Duration()).
		Msg("Job completed")
}

// finishFailed stamps the terminal failed state and emits the failure signals
func (m *Manager) finishFailed(ctx context.Context, jobID string, errMsg string) {
	var snapshot *models.Job
	_ = m.store.Update(jobID, func(job *models.Job) error {
		if job.Status.IsTerminal() {
			return nil
		}
		job.MarkFailed(errMsg)
		snapshot = job.Clone()
		return nil
	})
	if snapshot == nil {
		return
	}

	m.recordAudit(ctx, jobID, models.AuditJobFailed, "system", map[string]interface{}{
		"error": errMsg,
	})
	m.publishJobEvent(ctx, interfaces.EventJobFailed, jobID, nil)
	m.recordSamples(snapshot, nil)

	m.logger.Error().
		Str("job_id", jobID).
		Str("error", errMsg).
		Msg("Job failed")
}

// CancelJob transitions a queued, running or paused job to cancelled.
// A running pipeline observes the change at its next chunk boundary.
func (m *Manager) CancelJob(ctx context.Context, jobID, actor string) error {
	err := m.store.Update(jobID, func(job *models.Job) error {
		if job.Status.IsTerminal() {
			return ErrInvalidTransition
		}
		job.MarkCancelled()
		return nil
	})
	if err != nil {
		return err
	}

	m.recordAudit(ctx, jobID, models.AuditJobCancelled, actor, nil)
	m.publishJobEvent(ctx, interfaces.EventJobCancelled, jobID, nil)
	return nil
}

// PauseJob suspends a running job at its next chunk boundary
func (m *Manager) PauseJob(ctx context.Context, jobID, actor string) error {
	err := m.store.Update(jobID, func(job *models.Job) error {
		if job.Status != models.JobStatusRunning {
			return ErrInvalidTransition
		}
		job.Status = models.JobStatusPaused
		return nil
	})
	if err != nil {
		return err
	}

	m.recordAudit(ctx, jobID, models.AuditJobPaused, actor, nil)
	m.publishJobEvent(ctx, interfaces.EventJobPaused, jobID, nil)
	return nil
}

// ResumeJob returns a paused job to the running state
func (m *Manager) ResumeJob(ctx context.Context, jobID, actor string) error {
	err := m.store.Update(jobID, func(job *models.Job) error {
		if job.Status != models.JobStatusPaused {
			return ErrInvalidTransition
		}
		job.Status = models.JobStatusRunning
		return nil
	})
	if err != nil {
		return err
	}

	m.recordAudit(ctx, jobID, models.AuditJobResumed, actor, nil)
	m.publishJobEvent(ctx, interfaces.EventJobResumed, jobID, nil)
	return nil
}

// HandleDeadLetter fails the job behind a task whose receive budget is
// exhausted. Wired to the queue backend's dead-letter callback.
func (m *Manager) HandleDeadLetter(task interfaces.Task, receiveCount int) {
	ctx := context.Background()

	m.recordAudit(ctx, task.JobID, models.AuditQueueRetryExhausted, "system", map[string]interface{}{
		"receive_count": receiveCount,
	})
	m.finishFailed(ctx, task.JobID, fmt.Sprintf("queue retry budget exhausted after %d deliveries", receiveCount))
}

// GetJob returns a snapshot of a job
func (m *Manager) GetJob(jobID string) (*models.Job, error) {
	return m.store.Get(jobID)
}

// ListJobs returns filtered, paginated job snapshots
func (m *Manager) ListJobs(opts ListOptions) []*models.Job {
	return m.store.List(opts)
}

// GetResults returns a page of a job's record results
func (m *Manager) GetResults(jobID string, limit, offset int) (*ResultsPage, error) {
	job, err := m.store.Get(jobID)
	if err != nil {
		return nil, err
	}

	page := &ResultsPage{
		JobID:  jobID,
		Total:  len(job.Results),
		Limit:  limit,
		Offset: offset,
	}

	results := job.Results
	if offset > 0 {
		if offset >= len(results) {
			results = nil
		} else {
			results = results[offset:]
		}
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	page.Results = results
	return page, nil
}

// QueueStats reports the backend queue depth, or an unavailable marker when
// running queue-less
func (m *Manager) QueueStats(ctx context.Context) (*interfaces.QueueStats, error) {
	if m.queue == nil {
		return &interfaces.QueueStats{Available: false}, nil
	}
	return m.queue.Stats(ctx)
}

// AuditTrail queries the audit log
func (m *Manager) AuditTrail(q AuditQuery) []models.AuditEntry {
	return m.audit.Query(q)
}

// JobAuditTrail returns a job's full transition history, oldest first
func (m *Manager) JobAuditTrail(jobID string) []models.AuditEntry {
	return m.audit.ForJob(jobID)
}

// CountByStatus exposes live job counts for the snapshot push and metrics
func (m *Manager) CountByStatus() map[models.JobStatus]int {
	return m.store.CountByStatus()
}

// SweepArchive moves expired terminal jobs to the bounded archive
func (m *Manager) SweepArchive() {
	archived := m.store.Sweep(time.Now())
	if archived > 0 {
		m.logger.Info().
			Int("archived", archived).
			Int("live", m.store.LiveCount()).
			Int("archive_size", m.store.ArchiveCount()).
			Msg("Job archive sweep completed")
	}
}

// recordAudit appends an audit entry and mirrors it onto the event bus.
// Synchronous delivery keeps the audit stream in sequence order for
// subscribers, matching the log itself.
func (m *Manager) recordAudit(ctx context.Context, jobID string, event models.AuditEventType, actor string, details map[string]interface{}) {
	if actor == "" {
		actor = "system"
	}
	entry := m.audit.Append(jobID, event, actor, details)
	_ = m.events.PublishSync(ctx, interfaces.Event{
		Type:    interfaces.EventAuditLogged,
		Payload: entry,
	})
}

// publishJobEvent publishes a lifecycle event with a fresh job snapshot.
// Synchronous delivery keeps each job's event stream ordered.
func (m *Manager) publishJobEvent(ctx context.Context, eventType interfaces.EventType, jobID string, progress *pipeline.ChunkProgress) {
	job, err := m.store.Get(jobID)
	if err != nil {
		return
	}
	_ = m.events.PublishSync(ctx, interfaces.Event{
		Type:    eventType,
		Payload: JobEventPayload{Job: job, Progress: progress},
	})
}

func (m *Manager) mustSnapshot(jobID string) *models.Job {
	job, _ := m.store.Get(jobID)
	return job
}

// recordSamples forwards terminal job outcomes to the metrics sink
func (m *Manager) recordSamples(job *models.Job, out *pipeline.RunOutput) {
	if m.metrics == nil {
		return
	}

	sample := interfaces.JobSample{
		JobID:          job.ID,
		JobType:        job.Type,
		DataSource:     dataSource(job),
		Status:         job.Status,
		ProcessingTime: job.Duration().Seconds(),
		RecordCount:    job.ProcessedRecords,
		Timestamp:      time.Now(),
	}
	if job.Insights != nil {
		sample.Throughput = job.Insights.Throughput
		sample.QualityScore = job.Insights.QualityScore
		sample.MatchRate = job.Insights.MatchRate
		sample.ErrorRate = job.Insights.ErrorRate
	}
	m.metrics.RecordJobSample(sample)

	if out == nil || out.Report == nil {
		return
	}
	for _, perf := range out.Report.Algorithms {
		m.metrics.RecordAlgorithmSample(interfaces.AlgorithmSample{
			Algorithm:     perf.Algorithm,
			JobID:         job.ID,
			Runs:          perf.Runs,
			AvgConfidence: perf.AvgConfidence,
			Timestamp:     time.Now(),
		})
	}
}

func applyOverride(cfg *models.JobConfig, o *ConfigOverride) {
	if o == nil {
		return
	}
	if o.BatchSize != nil {
		cfg.BatchSize = *o.BatchSize
	}
	if o.OutputFormat != nil {
		cfg.OutputFormat = *o.OutputFormat
	}
	if o.QualityThreshold != nil {
		cfg.QualityThreshold = *o.QualityThreshold
	}
	if o.PartialMatchThreshold != nil {
		cfg.PartialMatchThreshold = *o.PartialMatchThreshold
	}
	if len(o.Algorithms) > 0 {
		cfg.Algorithms = o.Algorithms
	}
}

// buildInsights derives the summary metrics attached to a completed job
func buildInsights(job *models.Job, out *pipeline.RunOutput) *models.JobInsights {
	insights := &models.JobInsights{
		ProcessingTime: job.Duration().Seconds(),
	}

	total := len(out.Results)
	if total == 0 {
		return insights
	}

	if insights.ProcessingTime > 0 {
		insights.Throughput = float64(total) / insights.ProcessingTime
	}

	var qualitySum float64
	matched := 0
	failed := 0
	for _, r := range out.Results {
		qualitySum += r.QualityScore
		switch r.Status {
		case models.RecordStatusSuccess, models.RecordStatusPartialMatch:
			matched++
		case models.RecordStatusFailed, models.RecordStatusValidationFailed:
			failed++
		}
	}

	insights.QualityScore = qualitySum / float64(total)
	insights.MatchRate = float64(matched) / float64(total)
	insights.ErrorRate = float64(failed) / float64(total)
	return insights
}

func chunksProcessed(out *pipeline.RunOutput) int {
	if out.Report == nil {
		return 0
	}
	return out.Report.ChunksProcessed
}

func perRecordDuration(jobType models.JobType) time.Duration {
	if d, ok := perRecordEstimate[jobType]; ok {
		return d
	}
	return 10 * time.Millisecond
}

func dataSource(job *models.Job) string {
	if job.File != nil {
		return job.File.Format
	}
	return "inline"
}
