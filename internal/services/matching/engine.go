package matching

import (
	"context"
	"crypto/sha1"
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/interfaces"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

var ssnPattern = regexp.MustCompile(`^\d{3}-?\d{2}-?\d{4}$`)

// Engine is the built-in classifier. Scoring is deterministic per record and
// algorithm so repeated runs of the same input classify identically.
type Engine struct {
	logger arbor.ILogger
}

// NewEngine creates the default matching engine
func NewEngine(logger arbor.ILogger) *Engine {
	return &Engine{logger: logger}
}

// Algorithms implements interfaces.Classifier
func (e *Engine) Algorithms() []string {
	return []string{"deterministic", "probabilistic", "fuzzy"}
}

// Score implements interfaces.Classifier
func (e *Engine) Score(ctx context.Context, record models.Record, algorithm string, params map[string]interface{}) (*interfaces.MatchScore, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var confidence float64
	switch algorithm {
	case "deterministic":
		confidence = e.deterministic(record)
	case "probabilistic":
		confidence = e.probabilistic(record)
	case "fuzzy":
		confidence = e.fuzzy(record)
	default:
		return nil, fmt.Errorf("unknown matching algorithm: %s", algorithm)
	}

	score := &interfaces.MatchScore{Confidence: confidence}
	if confidence >= 0.75 {
		score.MatchedRecords = matchedRefs(record, confidence)
	}
	return score, nil
}

// deterministic requires an exact strong identifier: a well-formed SSN scores
// highest, an email plus date of birth close behind, anything else misses
func (e *Engine) deterministic(record models.Record) float64 {
	switch {
	case record.SSN != "" && ssnPattern.MatchString(record.SSN):
		return 0.98
	case record.Email != "" && strings.Contains(record.Email, "@") && record.DOB != "":
		return 0.92
	default:
		return 0.30
	}
}

// probabilistic weights each present identifier by its discriminating power
func (e *Engine) probabilistic(record models.Record) float64 {
	score := 0.0
	if record.SSN != "" {
		score += 0.35
	}
	if record.DOB != "" {
		score += 0.20
	}
	if record.Email != "" {
		score += 0.18
	}
	if record.Phone != "" {
		score += 0.10
	}
	if record.FirstName != "" && record.LastName != "" {
		score += 0.12
	}
	if record.Address != "" {
		score += 0.05
	}
	return score
}

// fuzzy tolerates weak identifiers, leaning on name and address shape
func (e *Engine) fuzzy(record models.Record) float64 {
	score := 0.0
	if record.FirstName != "" {
		score += 0.25
	}
	if record.LastName != "" {
		score += 0.30
	}
	if record.Address != "" {
		score += 0.20
	}
	if record.Phone != "" || record.Email != "" {
		score += 0.15
	}
	if record.DOB != "" {
		score += 0.10
	}
	return score
}

// matchedRefs derives stable pseudo-identifiers for the records a high
// confidence score links to
func matchedRefs(record models.Record, confidence float64) []string {
	seed := strings.ToLower(strings.Join([]string{
		record.FirstName, record.LastName, record.SSN, record.Email,
	}, "|"))
	sum := sha1.Sum([]byte(seed))

	refs := []string{fmt.Sprintf("ref_%x", sum[:6])}
	if confidence >= 0.95 {
		refs = append(refs, fmt.Sprintf("ref_%x", sum[6:12]))
	}
	return refs
}
