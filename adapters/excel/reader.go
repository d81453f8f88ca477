// Package excel reads and writes CRF spreadsheets. Workbooks go through
// excelize; files with a .csv extension are read as comma separated text.
package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"detectpd/domain/dataset"
	"detectpd/internal"

	"github.com/xuri/excelize/v2"
)

const (
	fileTypeXLSX = "xlsx"
	fileTypeCSV  = "csv"
)

// DataReader loads the raw cell grid of a CRF export.
type DataReader struct {
	logger *internal.Logger
}

// NewDataReader creates a reader logging through logger.
func NewDataReader(logger *internal.Logger) *DataReader {
	return &DataReader{logger: logger.With("DataReader")}
}

func fileType(path string) string {
	if strings.ToLower(filepath.Ext(path)) == ".csv" {
		return fileTypeCSV
	}
	return fileTypeXLSX
}

// ReadTable reads every row of sheet, header rows included. Cells are
// trimmed. The sheet name is ignored for CSV files.
func (r *DataReader) ReadTable(ctx context.Context, path, sheet string) (dataset.RawTable, error) {
	if err := ctx.Err(); err != nil {
		return dataset.RawTable{}, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return dataset.RawTable{}, fmt.Errorf("CRF file not found: %s", path)
	}

	start := time.Now()
	var rows [][]string
	var err error
	switch fileType(path) {
	case fileTypeCSV:
		rows, err = r.readCSV(path)
	default:
		rows, err = r.readWorkbook(path, sheet)
	}
	if err != nil {
		return dataset.RawTable{}, err
	}
	for _, row := range rows {
		for j := range row {
			row[j] = strings.TrimSpace(row[j])
		}
	}
	r.logger.Info("%s file read in %.2fms (%d rows)", strings.ToUpper(fileType(path)), float64(time.Since(start).Nanoseconds())/1e6, len(rows))
	return dataset.RawTable{Rows: rows}, nil
}

func (r *DataReader) readWorkbook(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

func (r *DataReader) readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}
