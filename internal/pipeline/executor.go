package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/common"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/interfaces"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

// ChunkProgress is reported after each chunk commits
type ChunkProgress struct {
	ChunkIndex  int // zero-based
	TotalChunks int
	Processed   int
	Total       int
	Successful  int
	Failed      int
}

// RunInput carries everything a pipeline run needs. The executor never
// touches the job entity; control state arrives through Probe and results
// leave through the return value and OnChunk.
type RunInput struct {
	JobID   string
	Records []models.Record
	Config  models.JobConfig

	// Probe is consulted at chunk boundaries only. Pausing blocks the run;
	// cancellation stops it with partial results intact.
	Probe func() models.JobStatus

	// OnChunk is invoked after each chunk, before the inter-chunk yield
	OnChunk func(progress ChunkProgress)
}

// RunOutput is the outcome of a pipeline run
type RunOutput struct {
	Results   []models.RecordResult
	Report    *models.ProcessingReport
	Cancelled bool
}

// Executor drives chunked, staged record processing. Stateless across runs;
// one executor serves all jobs.
type Executor struct {
	classifier interfaces.Classifier
	defaults   common.PipelineConfig
	chunkYield time.Duration
	pausePoll  time.Duration
	logger     arbor.ILogger
}

// NewExecutor creates a pipeline executor
func NewExecutor(classifier interfaces.Classifier, defaults common.PipelineConfig, logger arbor.ILogger) *Executor {
	return &Executor{
		classifier: classifier,
		defaults:   defaults,
		chunkYield: common.Duration(defaults.ChunkYield, 10*time.Millisecond),
		pausePoll:  25 * time.Millisecond,
		logger:     logger,
	}
}

// Run processes the record set in chunks. Pause and cancel signals are
// observed only between chunks; a chunk in flight always completes.
func (e *Executor) Run(ctx context.Context, in RunInput) (*RunOutput, error) {
	batch := in.Config.BatchSize
	if batch <= 0 {
		batch = e.defaults.BatchSize
	}
	if batch <= 0 {
		batch = 50
	}

	total := len(in.Records)
	totalChunks := (total + batch - 1) / batch

	out := &RunOutput{
		Results: make([]models.RecordResult, 0, total),
	}
	report := newReportBuilder(total)

	e.logger.Info().
		Str("job_id", in.JobID).
		Int("records", total).
		Int("batch_size", batch).
		Int("chunks", totalChunks).
		Msg("Pipeline run starting")

	households := make(map[string][]string)
	successful := 0
	failed := 0

	for chunk := 0; chunk < totalChunks; chunk++ {
		stop, cancelled, err := e.waitAtBoundary(ctx, in.Probe)
		if err != nil {
			return nil, err
		}
		if stop {
			out.Cancelled = cancelled
			break
		}

		start := chunk * batch
		end := start + batch
		if end > total {
			end = total
		}

		for i := start; i < end; i++ {
			result := e.processRecord(ctx, in, i, households)
			if result.Status == models.RecordStatusSuccess || result.Status == models.RecordStatusPartialMatch {
				successful++
			} else {
				failed++
			}
			report.add(result)
			out.Results = append(out.Results, result)
		}

		if in.OnChunk != nil {
			in.OnChunk(ChunkProgress{
				ChunkIndex:  chunk,
				TotalChunks: totalChunks,
				Processed:   end,
				Total:       total,
				Successful:  successful,
				Failed:      failed,
			})
		}

		if chunk < totalChunks-1 && e.chunkYield > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.chunkYield):
			}
		}
	}

	out.Report = report.finish()
	out.Report.ChunksProcessed = (len(out.Results) + batch - 1) / batch

	e.logger.Info().
		Str("job_id", in.JobID).
		Int("processed", len(out.Results)).
		Int("successful", successful).
		Int("failed", failed).
		Bool("cancelled", out.Cancelled).
		Msg("Pipeline run finished")

	return out, nil
}

// waitAtBoundary blocks while the job is paused and reports whether the run
// should stop. Returns stop=true with cancelled=true for cancellation,
// stop=true cancelled=false for any other terminal state.
func (e *Executor) waitAtBoundary(ctx context.Context, probe func() models.JobStatus) (stop, cancelled bool, err error) {
	if probe == nil {
		return false, false, nil
	}

	for {
		switch status := probe(); status {
		case models.JobStatusRunning:
			return false, false, nil
		case models.JobStatusPaused:
			select {
			case <-ctx.Done():
				return false, false, ctx.Err()
			case <-time.After(e.pausePoll):
			}
		case models.JobStatusCancelled:
			return true, true, nil
		default:
			return true, false, nil
		}
	}
}

// processRecord runs the enabled stages over one record and classifies the
// outcome. A stage error fails the record, never the run.
func (e *Executor) processRecord(ctx context.Context, in RunInput, index int, households map[string][]string) models.RecordResult {
	record := in.Records[index]
	start := time.Now()

	result := models.RecordResult{
		RecordID:    record.ID,
		RecordIndex: index,
	}
	if result.RecordID == "" {
		result.RecordID = fmt.Sprintf("%s_r%d", in.JobID, index)
	}

	cfg := in.Config
	working := record

	if cfg.EnableQuality {
		result.Quality = assessQuality(working)
		result.QualityScore = result.Quality.Score
	}

	if cfg.EnableValidation {
		result.Validation = validateRecord(working)
	}

	if cfg.EnableSecurity {
		result.Security = checkSecurity(working)
	}

	if cfg.EnableTransformation {
		result.Transform = transformRecord(working)
		working = result.Transform.Normalized
	}

	if cfg.EnableMatching && e.classifier != nil {
		matching, err := runMatching(ctx, e.classifier, working, cfg.Algorithms)
		if err != nil {
			result.Status = models.RecordStatusFailed
			result.FailedStage = "matching"
			result.Error = err.Error()
			result.ProcessingTime = float64(time.Since(start).Microseconds()) / 1000.0
			return result
		}
		result.Matching = matching
	}

	if cfg.EnableHousehold {
		result.Household = detectHousehold(working, result.RecordID, households)
	}

	result.Confidence = e.aggregateConfidence(result)
	result.Status = e.classify(result, cfg)
	result.ProcessingTime = float64(time.Since(start).Microseconds()) / 1000.0
	return result
}

// aggregateConfidence averages the contributing stage scores: quality score,
// validation pass/fail as 1.0/0.0, and the best match confidence. Records
// that ran no scoring stage get the configured default.
func (e *Executor) aggregateConfidence(result models.RecordResult) float64 {
	var sum float64
	var n int

	if result.Quality != nil {
		sum += result.Quality.Score
		n++
	}
	if result.Validation != nil {
		if result.Validation.Valid {
			sum += 1.0
		}
		n++
	}
	if result.Matching != nil && result.Matching.BestMatch != nil {
		sum += result.Matching.BestMatch.Confidence
		n++
	}

	if n == 0 {
		if e.defaults.DefaultConfidence > 0 {
			return e.defaults.DefaultConfidence
		}
		return 0.5
	}
	return sum / float64(n)
}

// classify maps a processed record to its final status. Precedence: stage
// failure, then validation failure, then the confidence bands.
func (e *Executor) classify(result models.RecordResult, cfg models.JobConfig) models.RecordStatus {
	if result.Status == models.RecordStatusFailed {
		return models.RecordStatusFailed
	}
	if result.Validation != nil && !result.Validation.Valid {
		return models.RecordStatusValidationFailed
	}

	quality := cfg.QualityThreshold
	if quality <= 0 {
		quality = e.defaults.QualityThreshold
	}
	partial := cfg.PartialMatchThreshold
	if partial <= 0 {
		partial = e.defaults.PartialMatchThreshold
	}

	switch {
	case result.Confidence >= quality:
		return models.RecordStatusSuccess
	case result.Confidence >= partial:
		return models.RecordStatusPartialMatch
	default:
		return models.RecordStatusLowConfidence
	}
}
