package interfaces

import (
	"context"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

// MatchScore is the outcome of scoring one record with one algorithm
type MatchScore struct {
	Confidence     float64
	MatchedRecords []string
}

// Classifier scores a record against the identity graph with a named
// algorithm. Implementations are black boxes to the pipeline; the executor
// only compares confidences.
type Classifier interface {
	Score(ctx context.Context, record models.Record, algorithm string, params map[string]interface{}) (*MatchScore, error)

	// Algorithms returns the algorithm names this classifier supports
	Algorithms() []string
}
