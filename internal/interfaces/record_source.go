package interfaces

import (
	"context"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

// RecordSource reads job input records from an uploaded file reference.
// Delimited text and JSON container formats are supported at minimum.
type RecordSource interface {
	// CountRecords returns the number of records in the file without
	// materializing them, used for progress totals
	CountRecords(ctx context.Context, ref models.FileRef) (int, error)

	// ReadRecords loads the full record set
	ReadRecords(ctx context.Context, ref models.FileRef) ([]models.Record, error)
}
