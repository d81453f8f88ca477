package ports

import (
	"context"

	"detectpd/domain/dataset"
)

// CRFReaderPort loads the raw cell grid of a case report form export.
// Implementations handle the file format; header flattening and typing
// happen in ingestion.
type CRFReaderPort interface {
	ReadTable(ctx context.Context, path, sheet string) (dataset.RawTable, error)
}

// CRFWriterPort writes a cell grid as a spreadsheet, header rows included.
type CRFWriterPort interface {
	WriteTable(ctx context.Context, path, sheet string, table dataset.RawTable) error
}
