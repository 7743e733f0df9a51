package pipeline

import (
	"time"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

// reportBuilder accumulates per-record outcomes into the batch report
type reportBuilder struct {
	report     *models.ProcessingReport
	confSums   map[string]float64
	confCounts map[string]int
	bestCounts map[string]int
}

func newReportBuilder(total int) *reportBuilder {
	return &reportBuilder{
		report: &models.ProcessingReport{
			TotalRecords:   total,
			CountsByStatus: make(map[models.RecordStatus]int),
			Algorithms:     make(map[string]models.AlgorithmPerformance),
			StartedAt:      time.Now(),
		},
		confSums:   make(map[string]float64),
		confCounts: make(map[string]int),
		bestCounts: make(map[string]int),
	}
}

func (b *reportBuilder) add(result models.RecordResult) {
	b.report.CountsByStatus[result.Status]++

	score := result.QualityScore
	if result.Quality == nil {
		score = result.Confidence
	}
	switch {
	case score >= 0.9:
		b.report.Quality.Excellent++
	case score >= 0.75:
		b.report.Quality.Good++
	case score >= 0.5:
		b.report.Quality.Fair++
	default:
		b.report.Quality.Poor++
	}

	if result.Matching == nil {
		return
	}
	for _, match := range result.Matching.Algorithms {
		b.confSums[match.Algorithm] += match.Confidence
		b.confCounts[match.Algorithm]++
	}
	if result.Matching.BestMatch != nil {
		b.bestCounts[result.Matching.BestMatch.Algorithm]++
	}
}

func (b *reportBuilder) finish() *models.ProcessingReport {
	for algo, count := range b.confCounts {
		b.report.Algorithms[algo] = models.AlgorithmPerformance{
			Algorithm:     algo,
			Runs:          count,
			AvgConfidence: b.confSums[algo] / float64(count),
			BestMatches:   b.bestCounts[algo],
		}
	}
	b.report.FinishedAt = time.Now()
	return b.report
}
