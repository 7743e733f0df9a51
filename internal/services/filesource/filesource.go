package filesource

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

// Source reads job input files from local disk, implementing
// interfaces.RecordSource for CSV and JSON uploads
type Source struct {
	logger arbor.ILogger
}

// NewSource creates a file-backed record source
func NewSource(logger arbor.ILogger) *Source {
	return &Source{logger: logger}
}

// CountRecords returns the record count without materializing the set
func (s *Source) CountRecords(ctx context.Context, ref models.FileRef) (int, error) {
	switch normalizeFormat(ref) {
	case "csv":
		return s.countCSV(ref.Path)
	case "json":
		records, err := s.readJSON(ref.Path)
		if err != nil {
			return 0, err
		}
		return len(records), nil
	default:
		return 0, fmt.Errorf("unsupported input format: %s", ref.Format)
	}
}

// ReadRecords loads the full record set
func (s *Source) ReadRecords(ctx context.Context, ref models.FileRef) ([]models.Record, error) {
	var records []models.Record
	var err error

	switch normalizeFormat(ref) {
	case "csv":
		records, err = s.readCSV(ref.Path)
	case "json":
		records, err = s.readJSON(ref.Path)
	default:
		return nil, fmt.Errorf("unsupported input format: %s", ref.Format)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("path", ref.Path).
		Int("records", len(records)).
		Msg("Input file read")
	return records, nil
}

func normalizeFormat(ref models.FileRef) string {
	format := strings.ToLower(ref.Format)
	if format != "" {
		return format
	}
	switch {
	case strings.HasSuffix(strings.ToLower(ref.Path), ".csv"):
		return "csv"
	case strings.HasSuffix(strings.ToLower(ref.Path), ".json"):
		return "json"
	}
	return ""
}

func (s *Source) countCSV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	count := 0
	first := true
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read csv: %w", err)
		}
		if first {
			first = false
			continue // header row
		}
		count++
	}
	return count, nil
}

func (s *Source) readCSV(path string) ([]models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var records []models.Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		records = append(records, rowToRecord(header, row))
	}
	return records, nil
}

// rowToRecord maps known header names onto record fields; unknown columns
// land in Extra
func rowToRecord(header, row []string) models.Record {
	record := models.Record{}
	for i, value := range row {
		if i >= len(header) {
			break
		}
		value = strings.TrimSpace(value)
		switch header[i] {
		case "id", "record_id":
			record.ID = value
		case "first_name", "firstname", "first":
			record.FirstName = value
		case "last_name", "lastname", "last":
			record.LastName = value
		case "dob", "date_of_birth", "birthdate":
			record.DOB = value
		case "ssn":
			record.SSN = value
		case "email":
			record.Email = value
		case "phone", "phone_number":
			record.Phone = value
		case "address":
			record.Address = value
		case "source":
			record.Source = value
		default:
			if value != "" {
				if record.Extra == nil {
					record.Extra = make(map[string]string)
				}
				record.Extra[header[i]] = value
			}
		}
	}
	return record
}

// readJSON accepts either a bare array of records or an object with a
// top-level "records" array
func (s *Source) readJSON(path string) ([]models.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	var records []models.Record
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	var wrapper struct {
		Records []models.Record `json:"records"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to parse json input: %w", err)
	}
	return wrapper.Records, nil
}
