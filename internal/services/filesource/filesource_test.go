package filesource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestReadCSVMapsHeaders(t *testing.T) {
	csvData := "record_id,first_name,last_name,ssn,email,department\n" +
		"r1,Jane,Doe,123-45-6789,jane@example.com,fraud\n" +
		"r2,John,Smith,,john@example.com,\n"
	path := writeTempFile(t, "input.csv", csvData)

	s := NewSource(arbor.NewLogger())
	records, err := s.ReadRecords(context.Background(), models.FileRef{Path: path, Format: "csv"})
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	first := records[0]
	if first.ID != "r1" || first.FirstName != "Jane" || first.SSN != "123-45-6789" {
		t.Errorf("first record = %+v", first)
	}
	// Unknown columns land in Extra
	if first.Extra["department"] != "fraud" {
		t.Errorf("extra = %v", first.Extra)
	}
	// Empty unknown values are not stored
	if _, ok := records[1].Extra["department"]; ok {
		t.Error("empty extra value should be dropped")
	}
}

func TestCountCSVSkipsHeader(t *testing.T) {
	csvData := "id,first_name\nr1,Jane\nr2,John\nr3,Ann\n"
	path := writeTempFile(t, "input.csv", csvData)

	s := NewSource(arbor.NewLogger())
	count, err := s.CountRecords(context.Background(), models.FileRef{Path: path, Format: "csv"})
	if err != nil {
		t.Fatalf("CountRecords failed: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestReadJSONBareArray(t *testing.T) {
	jsonData := `[{"id":"r1","first_name":"Jane"},{"id":"r2","first_name":"John"}]`
	path := writeTempFile(t, "input.json", jsonData)

	s := NewSource(arbor.NewLogger())
	records, err := s.ReadRecords(context.Background(), models.FileRef{Path: path, Format: "json"})
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}
	if len(records) != 2 || records[0].ID != "r1" {
		t.Errorf("records = %+v", records)
	}
}

func TestReadJSONWrappedObject(t *testing.T) {
	jsonData := `{"records":[{"id":"r1"},{"id":"r2"},{"id":"r3"}]}`
	path := writeTempFile(t, "input.json", jsonData)

	s := NewSource(arbor.NewLogger())
	records, err := s.ReadRecords(context.Background(), models.FileRef{Path: path, Format: "json"})
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("records = %d, want 3", len(records))
	}
}

func TestFormatInferredFromExtension(t *testing.T) {
	path := writeTempFile(t, "input.json", `[{"id":"r1"}]`)

	s := NewSource(arbor.NewLogger())
	// No explicit format: the .json suffix decides
	records, err := s.ReadRecords(context.Background(), models.FileRef{Path: path})
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records = %d, want 1", len(records))
	}
}

func TestUnsupportedFormat(t *testing.T) {
	path := writeTempFile(t, "input.xml", "<records/>")

	s := NewSource(arbor.NewLogger())
	if _, err := s.ReadRecords(context.Background(), models.FileRef{Path: path, Format: "xml"}); err == nil {
		t.Error("expected error for unsupported format")
	}
	if _, err := s.CountRecords(context.Background(), models.FileRef{Path: path}); err == nil {
		t.Error("expected error when format cannot be inferred")
	}
}

func TestMissingFile(t *testing.T) {
	s := NewSource(arbor.NewLogger())
	if _, err := s.ReadRecords(context.Background(), models.FileRef{Path: "/nonexistent/input.csv", Format: "csv"}); err == nil {
		t.Error("expected error for missing file")
	}
}
