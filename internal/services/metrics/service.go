package metrics

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/common"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/interfaces"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

// Overview aggregates job samples over a trailing window
type Overview struct {
	Window           string  `json:"window"`
	TotalJobs        int     `json:"total_jobs"`
	CompletedJobs    int     `json:"completed_jobs"`
	FailedJobs       int     `json:"failed_jobs"`
	CancelledJobs    int     `json:"cancelled_jobs"`
	RecordsProcessed int     `json:"records_processed"`
	AvgThroughput    float64 `json:"avg_throughput"`
	AvgQualityScore  float64 `json:"avg_quality_score"`
	AvgMatchRate     float64 `json:"avg_match_rate"`
	AvgErrorRate     float64 `json:"avg_error_rate"`
}

// AlgorithmStanding is one row of the accuracy leaderboard
type AlgorithmStanding struct {
	Algorithm     string  `json:"algorithm"`
	Jobs          int     `json:"jobs"`
	Runs          int     `json:"runs"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// SourceSummary aggregates job samples per input source
type SourceSummary struct {
	Source           string  `json:"source"`
	Jobs             int     `json:"jobs"`
	RecordsProcessed int     `json:"records_processed"`
	AvgQualityScore  float64 `json:"avg_quality_score"`
}

// ResourceSnapshot is one point of the process resource ring
type ResourceSnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	Goroutines   int       `json:"goroutines"`
	HeapAllocMB  float64   `json:"heap_alloc_mb"`
	HeapSysMB    float64   `json:"heap_sys_mb"`
	NumGC        uint32    `json:"num_gc"`
	PauseTotalMS float64   `json:"gc_pause_total_ms"`
}

// SystemMetrics is the periodic payload pushed to system_metrics subscribers
type SystemMetrics struct {
	Timestamp     time.Time                `json:"timestamp"`
	UptimeSeconds float64                  `json:"uptime_seconds"`
	JobCounts     map[models.JobStatus]int `json:"job_counts"`
	Queue         *interfaces.QueueStats   `json:"queue,omitempty"`
	Resources     ResourceSnapshot         `json:"resources"`
	Overview      Overview                 `json:"overview"`
}

// Providers supplies the live counters SystemMetrics composes beyond the
// store's own samples
type Providers struct {
	JobCounts  func() map[models.JobStatus]int
	QueueStats func(ctx context.Context) (*interfaces.QueueStats, error)
}

// Service is the in-memory metrics store: bounded sample history with a
// trailing-window read surface and a fixed-size resource snapshot ring.
// Implements interfaces.MetricsSink.
type Service struct {
	mu          sync.RWMutex
	jobSamples  []interfaces.JobSample
	algoSamples []interfaces.AlgorithmSample

	snapshots []ResourceSnapshot // ring, snapHead is the next write slot
	snapHead  int
	snapCount int

	retention    time.Duration
	snapInterval time.Duration
	providers    Providers
	startedAt    time.Time
	logger       arbor.ILogger

	cancel context.CancelFunc
}

// NewService creates the metrics store
func NewService(cfg common.MetricsConfig, logger arbor.ILogger) *Service {
	window := cfg.SnapshotWindow
	if window <= 0 {
		window = 120
	}
	return &Service{
		snapshots:    make([]ResourceSnapshot, window),
		retention:    common.Duration(cfg.RetentionWindow, 168*time.Hour),
		snapInterval: common.Duration(cfg.SnapshotInterval, 30*time.Second),
		startedAt:    time.Now(),
		logger:       logger,
	}
}

// SetProviders wires the live counter sources, called once at app assembly
func (s *Service) SetProviders(p Providers) {
	s.mu.Lock()
	s.providers = p
	s.mu.Unlock()
}

// RecordJobSample implements interfaces.MetricsSink
func (s *Service) RecordJobSample(sample interfaces.JobSample) {
	s.mu.Lock()
	s.jobSamples = append(s.jobSamples, sample)
	s.mu.Unlock()
}

// RecordAlgorithmSample implements interfaces.MetricsSink
func (s *Service) RecordAlgorithmSample(sample interfaces.AlgorithmSample) {
	s.mu.Lock()
	s.algoSamples = append(s.algoSamples, sample)
	s.mu.Unlock()
}

// GetOverview aggregates the trailing window, 24h by default
func (s *Service) GetOverview(window time.Duration) Overview {
	if window <= 0 {
		window = 24 * time.Hour
	}
	cutoff := time.Now().Add(-window)

	s.mu.RLock()
	defer s.mu.RUnlock()

	overview := Overview{Window: window.String()}
	var throughputSum, qualitySum, matchSum, errorSum float64
	scored := 0

	for _, sample := range s.jobSamples {
		if sample.Timestamp.Before(cutoff) {
			continue
		}
		overview.TotalJobs++
		overview.RecordsProcessed += sample.RecordCount

		switch sample.Status {
		case models.JobStatusCompleted:
			overview.CompletedJobs++
			throughputSum += sample.Throughput
			qualitySum += sample.QualityScore
			matchSum += sample.MatchRate
			errorSum += sample.ErrorRate
			scored++
		case models.JobStatusFailed:
			overview.FailedJobs++
		case models.JobStatusCancelled:
			overview.CancelledJobs++
		}
	}

	if scored > 0 {
		overview.AvgThroughput = throughputSum / float64(scored)
		overview.AvgQualityScore = qualitySum / float64(scored)
		overview.AvgMatchRate = matchSum / float64(scored)
		overview.AvgErrorRate = errorSum / float64(scored)
	}
	return overview
}

// GetLeaderboard ranks algorithms by average confidence over the window
func (s *Service) GetLeaderboard(window time.Duration) []AlgorithmStanding {
	if window <= 0 {
		window = 24 * time.Hour
	}
	cutoff := time.Now().Add(-window)

	s.mu.RLock()
	defer s.mu.RUnlock()

	type agg struct {
		jobs    int
		runs    int
		confSum float64
	}
	byAlgo := make(map[string]*agg)

	for _, sample := range s.algoSamples {
		if sample.Timestamp.Before(cutoff) {
			continue
		}
		a := byAlgo[sample.Algorithm]
		if a == nil {
			a = &agg{}
			byAlgo[sample.Algorithm] = a
		}
		a.jobs++
		a.runs += sample.Runs
		a.confSum += sample.AvgConfidence
	}

	standings := make([]AlgorithmStanding, 0, len(byAlgo))
	for algo, a := range byAlgo {
		standings = append(standings, AlgorithmStanding{
			Algorithm:     algo,
			Jobs:          a.jobs,
			Runs:          a.runs,
			AvgConfidence: a.confSum / float64(a.jobs),
		})
	}

	sort.Slice(standings, func(i, j int) bool {
		if standings[i].AvgConfidence != standings[j].AvgConfidence {
			return standings[i].AvgConfidence > standings[j].AvgConfidence
		}
		return standings[i].Algorithm < standings[j].Algorithm
	})
	return standings
}

// GetSourceSummary aggregates job samples per data source over the window
func (s *Service) GetSourceSummary(window time.Duration) []SourceSummary {
	if window <= 0 {
		window = 24 * time.Hour
	}
	cutoff := time.Now().Add(-window)

	s.mu.RLock()
	defer s.mu.RUnlock()

	type agg struct {
		jobs       int
		records    int
		qualitySum float64
	}
	bySource := make(map[string]*agg)

	for _, sample := range s.jobSamples {
		if sample.Timestamp.Before(cutoff) {
			continue
		}
		source := sample.DataSource
		if source == "" {
			source = "inline"
		}
		a := bySource[source]
		if a == nil {
			a = &agg{}
			bySource[source] = a
		}
		a.jobs++
		a.records += sample.RecordCount
		a.qualitySum += sample.QualityScore
	}

	summaries := make([]SourceSummary, 0, len(bySource))
	for source, a := range bySource {
		summaries = append(summaries, SourceSummary{
			Source:           source,
			Jobs:             a.jobs,
			RecordsProcessed: a.records,
			AvgQualityScore:  a.qualitySum / float64(a.jobs),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Source < summaries[j].Source
	})
	return summaries
}

// GetResourceHistory returns the snapshot ring contents oldest-first
func (s *Service) GetResourceHistory() []ResourceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]ResourceSnapshot, 0, s.snapCount)
	size := len(s.snapshots)
	start := s.snapHead - s.snapCount
	for i := 0; i < s.snapCount; i++ {
		history = append(history, s.snapshots[((start+i)%size+size)%size])
	}
	return history
}

// TakeSnapshot records the current process resource usage into the ring
func (s *Service) TakeSnapshot() ResourceSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	snapshot := ResourceSnapshot{
		Timestamp:    time.Now(),
		Goroutines:   runtime.NumGoroutine(),
		HeapAllocMB:  float64(mem.HeapAlloc) / (1024 * 1024),
		HeapSysMB:    float64(mem.HeapSys) / (1024 * 1024),
		NumGC:        mem.NumGC,
		PauseTotalMS: float64(mem.PauseTotalNs) / 1e6,
	}

	s.mu.Lock()
	s.snapshots[s.snapHead] = snapshot
	s.snapHead = (s.snapHead + 1) % len(s.snapshots)
	if s.snapCount < len(s.snapshots) {
		s.snapCount++
	}
	s.mu.Unlock()

	return snapshot
}

// SystemMetrics composes the realtime payload for system_metrics pushes
func (s *Service) SystemMetrics(ctx context.Context) SystemMetrics {
	s.mu.RLock()
	providers := s.providers
	startedAt := s.startedAt
	s.mu.RUnlock()

	payload := SystemMetrics{
		Timestamp:     time.Now(),
		UptimeSeconds: time.Since(startedAt).Seconds(),
		Resources:     s.TakeSnapshot(),
		Overview:      s.GetOverview(24 * time.Hour),
	}

	if providers.JobCounts != nil {
		payload.JobCounts = providers.JobCounts()
	}
	if providers.QueueStats != nil {
		if stats, err := providers.QueueStats(ctx); err == nil {
			payload.Queue = stats
		}
	}
	return payload
}

// Purge drops samples older than the retention window, 7 days by default
func (s *Service) Purge(now time.Time) int {
	cutoff := now.Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0

	kept := s.jobSamples[:0]
	for _, sample := range s.jobSamples {
		if sample.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, sample)
	}
	s.jobSamples = kept

	keptAlgo := s.algoSamples[:0]
	for _, sample := range s.algoSamples {
		if sample.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		keptAlgo = append(keptAlgo, sample)
	}
	s.algoSamples = keptAlgo

	if purged > 0 {
		s.logger.Info().
			Int("purged", purged).
			Int("retained_jobs", len(s.jobSamples)).
			Msg("Metrics purge completed")
	}
	return purged
}

// Start launches the background snapshot loop
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		ticker := time.NewTicker(s.snapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.TakeSnapshot()
			}
		}
	}()
}

// Stop halts the snapshot loop
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}
