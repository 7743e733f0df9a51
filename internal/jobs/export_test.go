package jobs

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

func completedJob(t *testing.T, m *Manager, records int) string {
	t.Helper()
	ctx := context.Background()

	created, err := m.CreateJob(ctx, CreateJobRequest{
		Name:    "export-src",
		Type:    models.JobTypeDataQuality,
		Records: qualityRecords(records),
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if err := m.ProcessJob(ctx, created.ID); err != nil {
		t.Fatalf("ProcessJob failed: %v", err)
	}
	waitForStatus(t, m, created.ID, models.JobStatusCompleted)
	return created.ID
}

func TestExportRejectsNonCompleted(t *testing.T) {
	m := newTestManager(t, &stubQueue{accept: true})

	created, err := m.CreateJob(context.Background(), CreateJobRequest{
		Name:    "pending",
		Type:    models.JobTypeDataQuality,
		Records: qualityRecords(3),
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if _, err := m.ExportResults(created.ID, "json"); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("err = %v, want ErrNotCompleted", err)
	}
}

func TestExportCSV(t *testing.T) {
	m := newTestManager(t, &stubQueue{accept: true})
	jobID := completedJob(t, m, 4)

	export, err := m.ExportResults(jobID, "csv")
	if err != nil {
		t.Fatalf("ExportResults failed: %v", err)
	}
	if export.ContentType != "text/csv" {
		t.Errorf("content type = %s", export.ContentType)
	}
	if !strings.HasSuffix(export.FileName, ".csv") {
		t.Errorf("file name = %s", export.FileName)
	}

	rows, err := csv.NewReader(strings.NewReader(string(export.Data))).ReadAll()
	if err != nil {
		t.Fatalf("export is not valid csv: %v", err)
	}
	if len(rows) != 5 { // header + 4 records
		t.Errorf("rows = %d, want 5", len(rows))
	}
	if rows[0][0] != "record_id" {
		t.Errorf("header = %v", rows[0])
	}
}

func TestExportJSONDefault(t *testing.T) {
	m := newTestManager(t, &stubQueue{accept: true})
	jobID := completedJob(t, m, 2)

	// Empty format falls back to the job's configured output format (json)
	export, err := m.ExportResults(jobID, "")
	if err != nil {
		t.Fatalf("ExportResults failed: %v", err)
	}
	if export.ContentType != "application/json" {
		t.Errorf("content type = %s", export.ContentType)
	}

	var results []models.RecordResult
	if err := json.Unmarshal(export.Data, &results); err != nil {
		t.Fatalf("export is not valid json: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}
}

func TestExportUnknownFormat(t *testing.T) {
	m := newTestManager(t, &stubQueue{accept: true})
	jobID := completedJob(t, m, 1)

	if _, err := m.ExportResults(jobID, "xml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
