package jobs

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

// Export is the serialized result set of a completed job
type Export struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ExportResults serializes a completed job's record results in the requested
// format, falling back to the job's configured output format when the format
// argument is empty. Non-completed jobs are rejected.
func (m *Manager) ExportResults(jobID, format string) (*Export, error) {
	job, err := m.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotCompleted, jobID, job.Status)
	}

	if format == "" {
		format = job.Config.OutputFormat
	}

	switch format {
	case "csv":
		data, err := resultsToCSV(job.Results)
		if err != nil {
			return nil, err
		}
		return &Export{
			FileName:    fmt.Sprintf("job_%s_results.csv", jobID),
			ContentType: "text/csv",
			Data:        data,
		}, nil
	case "json", "":
		data, err := json.MarshalIndent(job.Results, "", "  ")
		if err != nil {
			return nil, err
		}
		return &Export{
			FileName:    fmt.Sprintf("job_%s_results.json", jobID),
			ContentType: "application/json",
			Data:        data,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func resultsToCSV(results []models.RecordResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"record_id", "record_index", "status", "confidence", "quality_score",
		"best_algorithm", "best_confidence", "household_id", "failed_stage", "error",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, r := range results {
		bestAlgo := ""
		bestConf := ""
		if r.Matching != nil && r.Matching.BestMatch != nil {
			bestAlgo = r.Matching.BestMatch.Algorithm
			bestConf = strconv.FormatFloat(r.Matching.BestMatch.Confidence, 'f', 4, 64)
		}
		householdID := ""
		if r.Household != nil {
			householdID = r.Household.HouseholdID
		}

		row := []string{
			r.RecordID,
			strconv.Itoa(r.RecordIndex),
			string(r.Status),
			strconv.FormatFloat(r.Confidence, 'f', 4, 64),
			strconv.FormatFloat(r.QualityScore, 'f', 4, 64),
			bestAlgo,
			bestConf,
			householdID,
			r.FailedStage,
			r.Error,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
