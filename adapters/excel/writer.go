package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"detectpd/domain/dataset"
	"detectpd/internal"

	"github.com/xuri/excelize/v2"
)

// DataWriter writes cell grids as workbooks or CSV files.
type DataWriter struct {
	logger *internal.Logger
}

// NewDataWriter creates a writer logging through logger.
func NewDataWriter(logger *internal.Logger) *DataWriter {
	return &DataWriter{logger: logger.With("DataWriter")}
}

// WriteTable writes table to path, creating parent directories. Workbooks
// get a single sheet named sheet.
func (w *DataWriter) WriteTable(ctx context.Context, path, sheet string, table dataset.RawTable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if fileType(path) == fileTypeCSV {
		return w.writeCSV(path, table)
	}

	f := excelize.NewFile()
	defer f.Close()
	if sheet == "" {
		sheet = "Sheet1"
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}
	for i, row := range table.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	w.logger.Info("Wrote %d rows to %s", len(table.Rows), path)
	return nil
}

func (w *DataWriter) writeCSV(path string, table dataset.RawTable) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	cw := csv.NewWriter(file)
	if err := cw.WriteAll(table.Rows); err != nil {
		return fmt.Errorf("failed to write CSV file: %w", err)
	}
	w.logger.Info("Wrote %d rows to %s", len(table.Rows), path)
	return nil
}
