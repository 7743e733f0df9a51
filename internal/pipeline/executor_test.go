package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/common"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/interfaces"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
	"github.com/ternarybob/arbor"
)

// stubClassifier returns a fixed confidence, or an error for records whose
// first name matches failOn
type stubClassifier struct {
	confidence float64
	failOn     string
}

func (s *stubClassifier) Score(ctx context.Context, record models.Record, algorithm string, params map[string]interface{}) (*interfaces.MatchScore, error) {
	if s.failOn != "" && record.FirstName == s.failOn {
		return nil, errors.New("classifier unavailable")
	}
	return &interfaces.MatchScore{Confidence: s.confidence}, nil
}

func (s *stubClassifier) Algorithms() []string {
	return []string{"stub"}
}

func testExecutor(classifier interfaces.Classifier) *Executor {
	defaults := common.PipelineConfig{
		BatchSize:             50,
		QualityThreshold:      0.8,
		PartialMatchThreshold: 0.5,
		DefaultConfidence:     0.5,
		ChunkYield:            "1ms",
	}
	return NewExecutor(classifier, defaults, arbor.NewLogger())
}

func makeRecords(n int) []models.Record {
	records := make([]models.Record, n)
	for i := range records {
		records[i] = models.Record{
			ID:        fmt.Sprintf("rec-%d", i),
			FirstName: "Jane",
			LastName:  "Doe",
			DOB:       "1990-01-15",
			SSN:       "123-45-6789",
			Email:     "jane.doe@example.com",
			Phone:     "555-0100",
			Address:   "12 Main St",
		}
	}
	return records
}

func matchingConfig() models.JobConfig {
	return models.JobConfig{
		BatchSize:             50,
		QualityThreshold:      0.8,
		PartialMatchThreshold: 0.5,
		EnableMatching:        true,
		Algorithms:            []string{"stub"},
	}
}

func TestRunChunksBatchOfFifty(t *testing.T) {
	exec := testExecutor(&stubClassifier{confidence: 0.9})

	var chunks []ChunkProgress
	out, err := exec.Run(context.Background(), RunInput{
		JobID:   "job-1",
		Records: makeRecords(120),
		Config:  matchingConfig(),
		Probe:   func() models.JobStatus { return models.JobStatusRunning },
		OnChunk: func(p ChunkProgress) { chunks = append(chunks, p) },
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks for 120 records at batch size 50, got %d", len(chunks))
	}
	wantProcessed := []int{50, 100, 120}
	for i, p := range chunks {
		if p.Processed != wantProcessed[i] {
			t.Errorf("chunk %d: processed = %d, want %d", i, p.Processed, wantProcessed[i])
		}
		if p.TotalChunks != 3 {
			t.Errorf("chunk %d: total chunks = %d, want 3", i, p.TotalChunks)
		}
	}
	if len(out.Results) != 120 {
		t.Fatalf("expected 120 results, got %d", len(out.Results))
	}
	if out.Report.ChunksProcessed != 3 {
		t.Errorf("report chunks = %d, want 3", out.Report.ChunksProcessed)
	}
}

func TestClassificationThresholds(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		want       models.RecordStatus
	}{
		{"high confidence", 0.92, models.RecordStatusSuccess},
		{"boundary success", 0.80, models.RecordStatusSuccess},
		{"partial match", 0.65, models.RecordStatusPartialMatch},
		{"boundary partial", 0.50, models.RecordStatusPartialMatch},
		{"low confidence", 0.30, models.RecordStatusLowConfidence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := testExecutor(&stubClassifier{confidence: tt.confidence})
			out, err := exec.Run(context.Background(), RunInput{
				JobID:   "job-t",
				Records: makeRecords(1),
				Config:  matchingConfig(),
			})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if got := out.Results[0].Status; got != tt.want {
				t.Errorf("status = %s, want %s (confidence %.2f)", got, tt.want, tt.confidence)
			}
		})
	}
}

func TestValidationFailureOverridesConfidence(t *testing.T) {
	exec := testExecutor(&stubClassifier{confidence: 0.99})

	cfg := matchingConfig()
	cfg.EnableValidation = true

	records := []models.Record{{ID: "r1", FirstName: "OnlyName"}} // no last name, no identifiers
	out, err := exec.Run(context.Background(), RunInput{
		JobID:   "job-v",
		Records: records,
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := out.Results[0].Status; got != models.RecordStatusValidationFailed {
		t.Errorf("status = %s, want validation_failed", got)
	}
}

func TestStageErrorFailsRecordNotRun(t *testing.T) {
	exec := testExecutor(&stubClassifier{confidence: 0.9, failOn: "Broken"})

	records := makeRecords(3)
	records[1].FirstName = "Broken"

	out, err := exec.Run(context.Background(), RunInput{
		JobID:   "job-f",
		Records: records,
		Config:  matchingConfig(),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := out.Results[1].Status; got != models.RecordStatusFailed {
		t.Errorf("record 1 status = %s, want failed", got)
	}
	if out.Results[1].FailedStage != "matching" {
		t.Errorf("failed stage = %q, want matching", out.Results[1].FailedStage)
	}
	for _, i := range []int{0, 2} {
		if got := out.Results[i].Status; got != models.RecordStatusSuccess {
			t.Errorf("record %d status = %s, want success", i, got)
		}
	}
}

func TestCancelStopsAtChunkBoundary(t *testing.T) {
	exec := testExecutor(&stubClassifier{confidence: 0.9})

	var status atomic.Value
	status.Store(models.JobStatusRunning)

	cfg := matchingConfig()
	cfg.BatchSize = 10

	out, err := exec.Run(context.Background(), RunInput{
		JobID:   "job-c",
		Records: makeRecords(50),
		Config:  cfg,
		Probe:   func() models.JobStatus { return status.Load().(models.JobStatus) },
		OnChunk: func(p ChunkProgress) {
			if p.ChunkIndex == 1 {
				status.Store(models.JobStatusCancelled)
			}
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !out.Cancelled {
		t.Fatal("expected cancelled run")
	}
	if len(out.Results) != 20 {
		t.Errorf("expected 20 partial results (2 chunks of 10), got %d", len(out.Results))
	}
}

func TestPauseBlocksUntilResumed(t *testing.T) {
	exec := testExecutor(&stubClassifier{confidence: 0.9})

	var status atomic.Value
	status.Store(models.JobStatusRunning)

	cfg := matchingConfig()
	cfg.BatchSize = 5

	paused := make(chan struct{})
	var once atomic.Bool

	go func() {
		<-paused
		time.Sleep(50 * time.Millisecond)
		status.Store(models.JobStatusRunning)
	}()

	start := time.Now()
	out, err := exec.Run(context.Background(), RunInput{
		JobID:   "job-p",
		Records: makeRecords(10),
		Config:  cfg,
		Probe:   func() models.JobStatus { return status.Load().(models.JobStatus) },
		OnChunk: func(p ChunkProgress) {
			if p.ChunkIndex == 0 && once.CompareAndSwap(false, true) {
				status.Store(models.JobStatusPaused)
				close(paused)
			}
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if out.Cancelled {
		t.Fatal("run should not be cancelled")
	}
	if len(out.Results) != 10 {
		t.Errorf("expected all 10 results after resume, got %d", len(out.Results))
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("run finished in %v, expected the pause to hold it at least 50ms", elapsed)
	}
}

func TestConfidenceAveragesStages(t *testing.T) {
	exec := testExecutor(&stubClassifier{confidence: 0.6})

	cfg := matchingConfig()
	cfg.EnableQuality = true
	cfg.EnableValidation = true

	out, err := exec.Run(context.Background(), RunInput{
		JobID:   "job-a",
		Records: makeRecords(1), // all quality fields present => quality 1.0, valid => 1.0
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := (1.0 + 1.0 + 0.6) / 3
	got := out.Results[0].Confidence
	if got < want-0.001 || got > want+0.001 {
		t.Errorf("confidence = %.4f, want %.4f", got, want)
	}
}

func TestDefaultConfidenceWhenNoScoringStage(t *testing.T) {
	exec := testExecutor(nil)

	out, err := exec.Run(context.Background(), RunInput{
		JobID:   "job-d",
		Records: makeRecords(1),
		Config:  models.JobConfig{BatchSize: 50, EnableTransformation: true},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := out.Results[0].Confidence; got != 0.5 {
		t.Errorf("confidence = %.2f, want default 0.5", got)
	}
	if got := out.Results[0].Status; got != models.RecordStatusPartialMatch {
		t.Errorf("status = %s, want partial_match at default confidence", got)
	}
}

func TestHouseholdGrouping(t *testing.T) {
	exec := testExecutor(nil)

	records := []models.Record{
		{ID: "a", FirstName: "Jane", LastName: "Doe", Address: "12 Main St"},
		{ID: "b", FirstName: "John", LastName: "Doe", Address: "12  Main   St"}, // same after normalization
		{ID: "c", FirstName: "Sam", LastName: "Smith", Address: "99 Oak Ave"},
	}

	out, err := exec.Run(context.Background(), RunInput{
		JobID:   "job-h",
		Records: records,
		Config: models.JobConfig{
			BatchSize:            50,
			EnableTransformation: true,
			EnableHousehold:      true,
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	h0 := out.Results[0].Household
	h1 := out.Results[1].Household
	h2 := out.Results[2].Household

	if h0.HouseholdID == "" || h0.HouseholdID != h1.HouseholdID {
		t.Errorf("records a and b should share a household: %q vs %q", h0.HouseholdID, h1.HouseholdID)
	}
	if h2.HouseholdID == h0.HouseholdID {
		t.Error("record c should be in a different household")
	}
	if h1.Relation != "member" {
		t.Errorf("second resident relation = %q, want member", h1.Relation)
	}
}

func TestReportQualityDistribution(t *testing.T) {
	exec := testExecutor(&stubClassifier{confidence: 0.9})

	cfg := matchingConfig()
	cfg.EnableQuality = true

	records := makeRecords(2)
	records[1] = models.Record{ID: "sparse", FirstName: "A", LastName: "B", Email: "a@b.c"} // 3 of 7 fields

	out, err := exec.Run(context.Background(), RunInput{
		JobID:   "job-q",
		Records: records,
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if out.Report.Quality.Excellent != 1 {
		t.Errorf("excellent = %d, want 1", out.Report.Quality.Excellent)
	}
	if out.Report.Quality.Poor != 1 {
		t.Errorf("poor = %d, want 1 (3/7 fields)", out.Report.Quality.Poor)
	}
	perf, ok := out.Report.Algorithms["stub"]
	if !ok {
		t.Fatal("expected stub algorithm in report")
	}
	if perf.Runs != 2 || perf.BestMatches != 2 {
		t.Errorf("algorithm perf = %+v, want 2 runs and 2 best matches", perf)
	}
}
