package models

import "time"

// Record is a single input row consumed by the pipeline.
// Fields mirror the identity sources the platform ingests; Extra carries
// source columns that have no first-class field.
type Record struct {
	ID        string            `json:"id,omitempty"`
	FirstName string            `json:"first_name,omitempty"`
	LastName  string            `json:"last_name,omitempty"`
	DOB       string            `json:"dob,omitempty"`
	SSN       string            `json:"ssn,omitempty"`
	Email     string            `json:"email,omitempty"`
	Phone     string            `json:"phone,omitempty"`
	Address   string            `json:"address,omitempty"`
	Source    string            `json:"source,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// RecordStatus is the final classification of a processed record
type RecordStatus string

const (
	RecordStatusSuccess          RecordStatus = "success"
	RecordStatusPartialMatch     RecordStatus = "partial_match"
	RecordStatusLowConfidence    RecordStatus = "low_confidence"
	RecordStatusValidationFailed RecordStatus = "validation_failed"
	RecordStatusFailed           RecordStatus = "failed"
)

// QualityResult is the data-quality stage output
type QualityResult struct {
	Score        float64  `json:"score"`
	MissingField []string `json:"missing_fields,omitempty"`
	Issues       []string `json:"issues,omitempty"`
}

// ValidationResult is the validation stage output
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// SecurityResult is the security/compliance stage output
type SecurityResult struct {
	Passed bool     `json:"passed"`
	Flags  []string `json:"flags,omitempty"`
}

// TransformResult is the transformation stage output
type TransformResult struct {
	Normalized Record   `json:"normalized"`
	Applied    []string `json:"applied,omitempty"`
}

// AlgorithmMatch is one algorithm's scoring outcome for a record
type AlgorithmMatch struct {
	Algorithm      string   `json:"algorithm"`
	Confidence     float64  `json:"confidence"`
	MatchedRecords []string `json:"matched_records,omitempty"`
	Elapsed        float64  `json:"elapsed_ms"`
}

// MatchingResult aggregates all algorithm runs for a record
type MatchingResult struct {
	BestMatch  *AlgorithmMatch  `json:"best_match,omitempty"`
	Algorithms []AlgorithmMatch `json:"algorithms,omitempty"`
}

// HouseholdResult is the household-relationship stage output
type HouseholdResult struct {
	HouseholdID string   `json:"household_id,omitempty"`
	Members     []string `json:"members,omitempty"`
	Relation    string   `json:"relation,omitempty"`
}

// RecordResult is the immutable per-record outcome of a pipeline run
type RecordResult struct {
	RecordID    string       `json:"record_id"`
	RecordIndex int          `json:"record_index"`
	Status      RecordStatus `json:"status"`

	Quality    *QualityResult    `json:"quality,omitempty"`
	Validation *ValidationResult `json:"validation,omitempty"`
	Security   *SecurityResult   `json:"security,omitempty"`
	Transform  *TransformResult  `json:"transform,omitempty"`
	Matching   *MatchingResult   `json:"matching,omitempty"`
	Household  *HouseholdResult  `json:"household,omitempty"`

	Confidence     float64 `json:"confidence"`
	QualityScore   float64 `json:"quality_score"`
	FailedStage    string  `json:"failed_stage,omitempty"`
	Error          string  `json:"error,omitempty"`
	ProcessingTime float64 `json:"processing_time_ms"`
}

// QualityDistribution buckets record quality for the processing report
type QualityDistribution struct {
	Excellent int `json:"excellent"` // >= 0.9
	Good      int `json:"good"`      // >= 0.75
	Fair      int `json:"fair"`      // >= 0.5
	Poor      int `json:"poor"`
}

// AlgorithmPerformance aggregates per-algorithm outcomes across a batch
type AlgorithmPerformance struct {
	Algorithm     string  `json:"algorithm"`
	Runs          int     `json:"runs"`
	AvgConfidence float64 `json:"avg_confidence"`
	BestMatches   int     `json:"best_matches"`
}

// ProcessingReport is attached to the job when the batch finishes
type ProcessingReport struct {
	TotalRecords     int                             `json:"total_records"`
	CountsByStatus   map[RecordStatus]int            `json:"counts_by_status"`
	Quality          QualityDistribution             `json:"quality_distribution"`
	Algorithms       map[string]AlgorithmPerformance `json:"algorithm_performance"`
	ChunksProcessed  int                             `json:"chunks_processed"`
	StartedAt        time.Time                       `json:"started_at"`
	FinishedAt       time.Time                       `json:"finished_at"`
}
