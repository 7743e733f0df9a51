package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/common"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/interfaces"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/pipeline"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/services/events"
)

// stubQueue is a queue backend that either accepts tasks without delivering
// them or rejects every submit
type stubQueue struct {
	mu        sync.Mutex
	accept    bool
	submitted []interfaces.Task
}

func (q *stubQueue) Submit(ctx context.Context, task interfaces.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.accept {
		return errors.New("queue backend unavailable")
	}
	q.submitted = append(q.submitted, task)
	return nil
}

func (q *stubQueue) Stats(ctx context.Context) (*interfaces.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return &interfaces.QueueStats{Pending: len(q.submitted), Available: q.accept}, nil
}

func (q *stubQueue) Close() error { return nil }

func (q *stubQueue) tasks() []interfaces.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]interfaces.Task, len(q.submitted))
	copy(out, q.submitted)
	return out
}

func testConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Queue.SubmitAttempts = 2
	cfg.Queue.SubmitBackoff = "1ms"
	cfg.Queue.FallbackDeferral = "1ms"
	cfg.Pipeline.ChunkYield = "0s"
	return cfg
}

func newTestManager(t *testing.T, queue interfaces.QueueBackend) *Manager {
	t.Helper()
	cfg := testConfig()
	logger := arbor.NewLogger()

	return NewManager(ManagerDeps{
		Store:    NewStore(time.Hour, 100),
		Audit:    NewAuditLog(1000),
		Types:    NewTypeRegistry(),
		Executor: pipeline.NewExecutor(nil, cfg.Pipeline, logger),
		Queue:    queue,
		Events:   events.NewService(logger),
		Logger:   logger,
	}, cfg)
}

func qualityRecords(n int) []models.Record {
	records := make([]models.Record, n)
	for i := range records {
		records[i] = models.Record{
			ID:        fmt.Sprintf("rec-%d", i),
			FirstName: "Jane",
			LastName:  "Doe",
			DOB:       "1990-01-15",
			SSN:       "123-45-6789",
			Email:     "jane@example.com",
			Phone:     "555-0100",
			Address:   "12 Main St",
		}
	}
	return records
}

func waitForStatus(t *testing.T, m *Manager, jobID string, want models.JobStatus) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.GetJob(jobID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := m.GetJob(jobID)
	t.Fatalf("job %s never reached %s (stuck at %s)", jobID, want, job.Status)
	return nil
}

func TestCreateJobQueuedMode(t *testing.T) {
	queue := &stubQueue{accept: true}
	m := newTestManager(t, queue)

	job, err := m.CreateJob(context.Background(), CreateJobRequest{
		Name:    "nightly load",
		Type:    models.JobTypeDataQuality,
		Records: qualityRecords(10),
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if job.Status != models.JobStatusQueued {
		t.Errorf("status = %s, want queued", job.Status)
	}
	if job.ProcessingMode != models.ProcessingModeQueued {
		t.Errorf("mode = %s, want queued", job.ProcessingMode)
	}
	if job.Priority != models.PriorityNormal {
		t.Errorf("priority = %s, want normal default", job.Priority)
	}

	tasks := queue.tasks()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 submitted task, got %d", len(tasks))
	}
	if tasks[0].JobID != job.ID || tasks[0].Priority != models.PriorityNormal.Weight() {
		t.Errorf("submitted task = %+v", tasks[0])
	}
}

func TestCreateJobValidation(t *testing.T) {
	m := newTestManager(t, &stubQueue{accept: true})
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateJobRequest
	}{
		{"missing name", CreateJobRequest{Type: models.JobTypeDataQuality, Records: qualityRecords(1)}},
		{"unknown type", CreateJobRequest{Name: "x", Type: "mystery", Records: qualityRecords(1)}},
		{"bad priority", CreateJobRequest{Name: "x", Type: models.JobTypeDataQuality, Priority: "asap", Records: qualityRecords(1)}},
		{"no input", CreateJobRequest{Name: "x", Type: models.JobTypeDataQuality}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := m.CreateJob(ctx, tc.req); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestProcessJobFullScenario(t *testing.T) {
	queue := &stubQueue{accept: true}
	m := newTestManager(t, queue)
	ctx := context.Background()

	created, err := m.CreateJob(ctx, CreateJobRequest{
		Name:    "q-check",
		Type:    models.JobTypeDataQuality,
		Records: qualityRecords(120),
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	// Simulate the queue worker delivering the task
	if err := m.ProcessJob(ctx, created.ID); err != nil {
		t.Fatalf("ProcessJob failed: %v", err)
	}

	job := waitForStatus(t, m, created.ID, models.JobStatusCompleted)
	if job.TotalRecords != 120 || job.ProcessedRecords != 120 {
		t.Errorf("counters = %d/%d, want 120/120", job.ProcessedRecords, job.TotalRecords)
	}
	if job.Progress != 100 {
		t.Errorf("progress = %.1f, want 100", job.Progress)
	}
	if job.Report == nil || job.Report.ChunksProcessed != 3 {
		t.Fatalf("expected report with 3 chunks, got %+v", job.Report)
	}
	if job.Insights == nil {
		t.Fatal("expected insights on completed job")
	}
	if job.Insights.MatchRate <= 0 {
		t.Errorf("match rate = %.2f, want > 0", job.Insights.MatchRate)
	}

	// Exact transition order via the audit trail
	trail := m.JobAuditTrail(created.ID)
	var eventsSeen []models.AuditEventType
	for _, e := range trail {
		eventsSeen = append(eventsSeen, e.Event)
	}

	want := []models.AuditEventType{
		models.AuditJobCreated,
		models.AuditJobQueued,
		models.AuditJobStarted,
		models.AuditBatchCompleted, // 25% boundary crossed at chunk 1 (50/120)
		models.AuditBatchCompleted, // 75% boundary crossed at chunk 2 (100/120)
		models.AuditJobCompleted,
		models.AuditProcessingComplete,
	}
	if len(eventsSeen) != len(want) {
		t.Fatalf("audit trail = %v, want %v", eventsSeen, want)
	}
	for i := range want {
		if eventsSeen[i] != want[i] {
			t.Fatalf("audit[%d] = %s, want %s (full trail %v)", i, eventsSeen[i], want[i], eventsSeen)
		}
	}

	// Sequence numbers are strictly increasing
	for i := 1; i < len(trail); i++ {
		if trail[i].Sequence <= trail[i-1].Sequence {
			t.Fatalf("audit sequence not increasing: %d then %d", trail[i-1].Sequence, trail[i].Sequence)
		}
	}
}

func TestProcessJobIdempotent(t *testing.T) {
	m := newTestManager(t, &stubQueue{accept: true})
	ctx := context.Background()

	created, err := m.CreateJob(ctx, CreateJobRequest{
		Name:    "dup",
		Type:    models.JobTypeDataQuality,
		Records: qualityRecords(5),
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := m.ProcessJob(ctx, created.ID); err != nil {
		t.Fatalf("first ProcessJob failed: %v", err)
	}
	waitForStatus(t, m, created.ID, models.JobStatusCompleted)

	// Redelivery is a no-op
	if err := m.ProcessJob(ctx, created.ID); err != nil {
		t.Fatalf("redelivered ProcessJob returned error: %v", err)
	}

	completed := 0
	for _, e := range m.JobAuditTrail(created.ID) {
		if e.Event == models.AuditJobCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Errorf("JOB_COMPLETED recorded %d times, want exactly 1", completed)
	}
}

func TestDirectModeWithoutQueue(t *testing.T) {
	m := newTestManager(t, nil)

	job, err := m.CreateJob(context.Background(), CreateJobRequest{
		Name:    "no-queue",
		Type:    models.JobTypeDataQuality,
		Records: qualityRecords(5),
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if job.ProcessingMode != models.ProcessingModeDirect {
		t.Errorf("mode = %s, want direct", job.ProcessingMode)
	}

	waitForStatus(t, m, job.ID, models.JobStatusCompleted)
}

func TestDirectFallbackOnQueueFailure(t *testing.T) {
	m := newTestManager(t, &stubQueue{accept: false})

	job, err := m.CreateJob(context.Background(), CreateJobRequest{
		Name:    "degraded",
		Type:    models.JobTypeDataQuality,
		Records: qualityRecords(5),
	})
	if err != nil {
		t.Fatalf("CreateJob must succeed despite queue failure: %v", err)
	}
	if job.ProcessingMode != models.ProcessingModeDirectFallback {
		t.Errorf("mode = %s, want direct_fallback", job.ProcessingMode)
	}

	completed := waitForStatus(t, m, job.ID, models.JobStatusCompleted)
	for _, e := range m.JobAuditTrail(completed.ID) {
		if e.Event == models.AuditJobQueued {
			t.Error("fallback job must not carry a JOB_QUEUED entry")
		}
	}
}

func TestStateTransitionRules(t *testing.T) {
	m := newTestManager(t, &stubQueue{accept: true})
	ctx := context.Background()

	created, err := m.CreateJob(ctx, CreateJobRequest{
		Name:    "rules",
		Type:    models.JobTypeDataQuality,
		Records: qualityRecords(5),
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	// Queued jobs cannot pause or resume
	if err := m.PauseJob(ctx, created.ID, "tester"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pause queued: err = %v, want ErrInvalidTransition", err)
	}
	if err := m.ResumeJob(ctx, created.ID, "tester"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("resume queued: err = %v, want ErrInvalidTransition", err)
	}

	// Cancel from queued is allowed
	if err := m.CancelJob(ctx, created.ID, "tester"); err != nil {
		t.Fatalf("cancel queued failed: %v", err)
	}
	job, _ := m.GetJob(created.ID)
	if job.Status != models.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", job.Status)
	}

	// Terminal states reject everything
	if err := m.CancelJob(ctx, created.ID, "tester"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel terminal: err = %v, want ErrInvalidTransition", err)
	}
	if err := m.PauseJob(ctx, created.ID, "tester"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pause terminal: err = %v, want ErrInvalidTransition", err)
	}

	// ProcessJob on a cancelled job is a no-op
	if err := m.ProcessJob(ctx, created.ID); err != nil {
		t.Errorf("ProcessJob on cancelled job: err = %v, want nil", err)
	}

	// Unknown ids surface ErrNotFound
	if err := m.CancelJob(ctx, "nope", "tester"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel unknown: err = %v, want ErrNotFound", err)
	}
}

func TestHandleDeadLetter(t *testing.T) {
	m := newTestManager(t, &stubQueue{accept: true})
	ctx := context.Background()

	created, err := m.CreateJob(ctx, CreateJobRequest{
		Name:    "poison",
		Type:    models.JobTypeDataQuality,
		Records: qualityRecords(5),
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	m.HandleDeadLetter(interfaces.Task{JobID: created.ID, JobType: string(created.Type)}, 3)

	job, _ := m.GetJob(created.ID)
	if job.Status != models.JobStatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.Error, "exhausted") {
		t.Errorf("error = %q, want retry exhaustion message", job.Error)
	}

	var sawExhausted bool
	for _, e := range m.JobAuditTrail(created.ID) {
		if e.Event == models.AuditQueueRetryExhausted {
			sawExhausted = true
		}
	}
	if !sawExhausted {
		t.Error("expected QUEUE_RETRY_EXHAUSTED audit entry")
	}
}

func TestGetResultsPagination(t *testing.T) {
	m := newTestManager(t, &stubQueue{accept: true})
	ctx := context.Background()

	created, err := m.CreateJob(ctx, CreateJobRequest{
		Name:    "page",
		Type:    models.JobTypeDataQuality,
		Records: qualityRecords(30),
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if err := m.ProcessJob(ctx, created.ID); err != nil {
		t.Fatalf("ProcessJob failed: %v", err)
	}
	waitForStatus(t, m, created.ID, models.JobStatusCompleted)

	page, err := m.GetResults(created.ID, 10, 25)
	if err != nil {
		t.Fatalf("GetResults failed: %v", err)
	}
	if page.Total != 30 {
		t.Errorf("total = %d, want 30", page.Total)
	}
	if len(page.Results) != 5 {
		t.Errorf("page size = %d, want 5 (offset 25 of 30)", len(page.Results))
	}
	if page.Results[0].RecordIndex != 25 {
		t.Errorf("first record index = %d, want 25", page.Results[0].RecordIndex)
	}
}

func TestConfigOverrides(t *testing.T) {
	m := newTestManager(t, &stubQueue{accept: true})

	batch := 10
	threshold := 0.9
	job, err := m.CreateJob(context.Background(), CreateJobRequest{
		Name:    "tuned",
		Type:    models.JobTypeIdentityMatching,
		Records: qualityRecords(1),
		Config: &ConfigOverride{
			BatchSize:        &batch,
			QualityThreshold: &threshold,
			Algorithms:       []string{"fuzzy"},
		},
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if job.Config.BatchSize != 10 {
		t.Errorf("batch size = %d, want 10", job.Config.BatchSize)
	}
	if job.Config.QualityThreshold != 0.9 {
		t.Errorf("quality threshold = %.2f, want 0.9", job.Config.QualityThreshold)
	}
	if len(job.Config.Algorithms) != 1 || job.Config.Algorithms[0] != "fuzzy" {
		t.Errorf("algorithms = %v, want [fuzzy]", job.Config.Algorithms)
	}
	// Type defaults survive where not overridden
	if !job.Config.EnableMatching {
		t.Error("identity_matching default stages lost")
	}
}

// gateClassifier blocks inside Score until released, holding a chunk open
type gateClassifier struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateClassifier) Score(ctx context.Context, record models.Record, algorithm string, params map[string]interface{}) (*interfaces.MatchScore, error) {
	g.entered <- struct{}{}
	<-g.release
	return &interfaces.MatchScore{Confidence: 0.9}, nil
}

func (g *gateClassifier) Algorithms() []string { return []string{"gate"} }

func TestCancelDuringFinalChunkStaysCancelled(t *testing.T) {
	cfg := testConfig()
	logger := arbor.NewLogger()
	gate := &gateClassifier{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}

	m := NewManager(ManagerDeps{
		Store:    NewStore(time.Hour, 100),
		Audit:    NewAuditLog(1000),
		Types:    NewTypeRegistry(),
		Executor: pipeline.NewExecutor(gate, cfg.Pipeline, logger),
		Events:   events.NewService(logger),
		Logger:   logger,
	}, cfg)
	ctx := context.Background()

	// Single record, single chunk: there is no later chunk boundary where
	// the run could observe the cancel
	created, err := m.CreateJob(ctx, CreateJobRequest{
		Name:    "late-cancel",
		Type:    models.JobTypeIdentityMatching,
		Records: qualityRecords(1),
		Config:  &ConfigOverride{Algorithms: []string{"gate"}},
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	<-gate.entered // the chunk is in flight now

	if err := m.CancelJob(ctx, created.ID, "tester"); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	close(gate.release)

	// Wait for the run to drain its partial results into the job
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.GetJob(created.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if len(job.Results) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	job, _ := m.GetJob(created.ID)
	if job.Status != models.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled to stand after the chunk finishes", job.Status)
	}
	if len(job.Results) != 1 {
		t.Errorf("results = %d, want the partial chunk persisted", len(job.Results))
	}

	cancelled, completed := 0, 0
	for _, e := range m.JobAuditTrail(created.ID) {
		switch e.Event {
		case models.AuditJobCancelled:
			cancelled++
		case models.AuditJobCompleted, models.AuditProcessingComplete:
			completed++
		}
	}
	if cancelled != 1 {
		t.Errorf("JOB_CANCELLED recorded %d times, want exactly 1", cancelled)
	}
	if completed != 0 {
		t.Errorf("completion entries recorded %d times on a cancelled job, want 0", completed)
	}
}

// stubSource serves a fixed record set and counts interface calls
type stubSource struct {
	mu      sync.Mutex
	counts  int
	reads   int
	records []models.Record
}

func (s *stubSource) CountRecords(ctx context.Context, ref models.FileRef) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts++
	return len(s.records), nil
}

func (s *stubSource) ReadRecords(ctx context.Context, ref models.FileRef) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return s.records, nil
}

func TestFileJobCountsRecordsBeforeRead(t *testing.T) {
	cfg := testConfig()
	logger := arbor.NewLogger()
	src := &stubSource{records: qualityRecords(8)}

	m := NewManager(ManagerDeps{
		Store:    NewStore(time.Hour, 100),
		Audit:    NewAuditLog(1000),
		Types:    NewTypeRegistry(),
		Executor: pipeline.NewExecutor(nil, cfg.Pipeline, logger),
		Queue:    &stubQueue{accept: true},
		Events:   events.NewService(logger),
		Source:   src,
		Logger:   logger,
	}, cfg)
	ctx := context.Background()

	created, err := m.CreateJob(ctx, CreateJobRequest{
		Name: "from-file",
		Type: models.JobTypeDataQuality,
		File: &models.FileRef{Path: "input.csv", Format: "csv"},
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if err := m.ProcessJob(ctx, created.ID); err != nil {
		t.Fatalf("ProcessJob failed: %v", err)
	}

	job := waitForStatus(t, m, created.ID, models.JobStatusCompleted)
	if job.TotalRecords != 8 || job.ProcessedRecords != 8 {
		t.Errorf("counters = %d/%d, want 8/8", job.ProcessedRecords, job.TotalRecords)
	}
	if job.EstimatedCompletion == nil {
		t.Error("expected an estimated completion stamped from the record count")
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if src.counts != 1 {
		t.Errorf("CountRecords called %d times, want 1", src.counts)
	}
	if src.reads != 1 {
		t.Errorf("ReadRecords called %d times, want 1", src.reads)
	}
}

func TestAuditEventsDeliverInOrder(t *testing.T) {
	cfg := testConfig()
	logger := arbor.NewLogger()
	bus := events.NewService(logger)

	var mu sync.Mutex
	var seqs []uint64
	bus.Subscribe(interfaces.EventAuditLogged, func(ctx context.Context, event interfaces.Event) error {
		entry := event.Payload.(models.AuditEntry)
		mu.Lock()
		seqs = append(seqs, entry.Sequence)
		mu.Unlock()
		return nil
	})

	m := NewManager(ManagerDeps{
		Store:    NewStore(time.Hour, 100),
		Audit:    NewAuditLog(1000),
		Types:    NewTypeRegistry(),
		Executor: pipeline.NewExecutor(nil, cfg.Pipeline, logger),
		Events:   bus,
		Logger:   logger,
	}, cfg)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		m.recordAudit(ctx, "job-x", models.AuditBatchCompleted, "system", nil)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seqs) != 20 {
		t.Fatalf("delivered %d audit events, want 20", len(seqs))
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("audit events out of order: sequence %d after %d", seqs[i], seqs[i-1])
		}
	}
}
