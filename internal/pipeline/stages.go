package pipeline

import (
	"context"
	"crypto/sha1"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/interfaces"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

var ssnPattern = regexp.MustCompile(`^\d{3}-?\d{2}-?\d{4}$`)

// qualityFields are the identity fields counted toward the completeness score
var qualityFields = []string{"first_name", "last_name", "dob", "ssn", "email", "phone", "address"}

// assessQuality scores field completeness and flags obvious data issues
func assessQuality(record models.Record) *models.QualityResult {
	values := map[string]string{
		"first_name": record.FirstName,
		"last_name":  record.LastName,
		"dob":        record.DOB,
		"ssn":        record.SSN,
		"email":      record.Email,
		"phone":      record.Phone,
		"address":    record.Address,
	}

	result := &models.QualityResult{}
	present := 0
	for _, field := range qualityFields {
		if strings.TrimSpace(values[field]) != "" {
			present++
		} else {
			result.MissingField = append(result.MissingField, field)
		}
	}
	result.Score = float64(present) / float64(len(qualityFields))

	if record.Email != "" && !strings.Contains(record.Email, "@") {
		result.Issues = append(result.Issues, "malformed email")
	}
	if record.DOB != "" {
		if _, err := time.Parse("2006-01-02", record.DOB); err != nil {
			result.Issues = append(result.Issues, "unparseable dob")
		}
	}

	return result
}

// validateRecord checks the minimum identity shape: a name plus at least one
// strong identifier
func validateRecord(record models.Record) *models.ValidationResult {
	result := &models.ValidationResult{Valid: true}

	if strings.TrimSpace(record.FirstName) == "" {
		result.Errors = append(result.Errors, "first_name is required")
	}
	if strings.TrimSpace(record.LastName) == "" {
		result.Errors = append(result.Errors, "last_name is required")
	}
	if record.DOB == "" && record.SSN == "" && record.Email == "" {
		result.Errors = append(result.Errors, "at least one of dob, ssn, email is required")
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// checkSecurity runs format and compliance checks on sensitive identifiers
func checkSecurity(record models.Record) *models.SecurityResult {
	result := &models.SecurityResult{Passed: true}

	if record.SSN != "" && !ssnPattern.MatchString(record.SSN) {
		result.Flags = append(result.Flags, "ssn_format")
	}
	if record.SSN != "" && strings.HasPrefix(record.SSN, "000") {
		result.Flags = append(result.Flags, "ssn_invalid_area")
	}

	result.Passed = len(result.Flags) == 0
	return result
}

// transformRecord normalizes a record the way downstream matching expects:
// trimmed fields, case-folded email, title-cased names
func transformRecord(record models.Record) *models.TransformResult {
	normalized := record
	var applied []string

	trim := func(s string) string { return strings.TrimSpace(s) }

	if t := trim(record.FirstName); t != record.FirstName {
		applied = append(applied, "trim_first_name")
	}
	if t := trim(record.LastName); t != record.LastName {
		applied = append(applied, "trim_last_name")
	}
	normalized.FirstName = titleCase(trim(record.FirstName))
	normalized.LastName = titleCase(trim(record.LastName))
	if normalized.FirstName != trim(record.FirstName) || normalized.LastName != trim(record.LastName) {
		applied = append(applied, "case_fold_names")
	}

	if lower := strings.ToLower(trim(record.Email)); lower != record.Email {
		normalized.Email = lower
		applied = append(applied, "lowercase_email")
	}

	normalized.Address = strings.Join(strings.Fields(record.Address), " ")
	if normalized.Address != record.Address {
		applied = append(applied, "collapse_address_whitespace")
	}

	return &models.TransformResult{Normalized: normalized, Applied: applied}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// runMatching invokes the classifier for each configured algorithm and
// selects the highest-confidence result as the best match
func runMatching(ctx context.Context, classifier interfaces.Classifier, record models.Record, algorithms []string) (*models.MatchingResult, error) {
	result := &models.MatchingResult{}

	for _, algo := range algorithms {
		start := time.Now()
		score, err := classifier.Score(ctx, record, algo, nil)
		if err != nil {
			return nil, fmt.Errorf("algorithm %s: %w", algo, err)
		}
		match := models.AlgorithmMatch{
			Algorithm:      algo,
			Confidence:     score.Confidence,
			MatchedRecords: score.MatchedRecords,
			Elapsed:        float64(time.Since(start).Microseconds()) / 1000.0,
		}
		result.Algorithms = append(result.Algorithms, match)

		if result.BestMatch == nil || match.Confidence > result.BestMatch.Confidence {
			best := match
			result.BestMatch = &best
		}
	}

	return result, nil
}

// householdKey groups records sharing a normalized address and surname
func householdKey(record models.Record) string {
	addr := strings.ToLower(strings.Join(strings.Fields(record.Address), " "))
	last := strings.ToLower(strings.TrimSpace(record.LastName))
	if addr == "" || last == "" {
		return ""
	}
	sum := sha1.Sum([]byte(addr + "|" + last))
	return fmt.Sprintf("hh_%x", sum[:6])
}

// detectHousehold assigns the record to a household bucket, accumulating
// members across the batch
func detectHousehold(record models.Record, recordID string, households map[string][]string) *models.HouseholdResult {
	key := householdKey(record)
	if key == "" {
		return &models.HouseholdResult{}
	}

	households[key] = append(households[key], recordID)
	members := make([]string, len(households[key]))
	copy(members, households[key])

	relation := "primary"
	if len(members) > 1 {
		relation = "member"
	}

	return &models.HouseholdResult{
		HouseholdID: key,
		Members:     members,
		Relation:    relation,
	}
}
