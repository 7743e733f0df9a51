package interfaces

import (
	"time"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

// JobSample is the post-hoc metric sample recorded per terminal job
type JobSample struct {
	JobID          string
	JobType        models.JobType
	DataSource     string
	Status         models.JobStatus
	ProcessingTime float64 // seconds
	Throughput     float64 // records/second
	RecordCount    int
	QualityScore   float64
	MatchRate      float64
	ErrorRate      float64
	Timestamp      time.Time
}

// AlgorithmSample records one algorithm's aggregate accuracy for a job
type AlgorithmSample struct {
	Algorithm     string
	JobID         string
	Runs          int
	AvgConfidence float64
	Timestamp     time.Time
}

// MetricsSink accepts samples from the job manager. The full read surface
// lives on the metrics service itself; the manager depends only on the sink.
type MetricsSink interface {
	RecordJobSample(sample JobSample)
	RecordAlgorithmSample(sample AlgorithmSample)
}
