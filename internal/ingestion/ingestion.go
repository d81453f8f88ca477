// Package ingestion turns the raw CRF spreadsheet grid into a validated
// dataset: multi-row headers are flattened, columns renamed and dropped,
// dates parsed, numeric ranges checked and incomplete outcome rows removed.
package ingestion

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"detectpd/domain/core"
	"detectpd/domain/dataset"
	"detectpd/internal"
	"detectpd/internal/config"
)

// HeaderSeparator joins the levels of a multi-row header.
const HeaderSeparator = "::"

// FlattenHeaders builds one column name per column from the given header
// rows. Blank cells of upper levels inherit the value to their left, the way
// merged header cells read; leading blanks become "Unnamed: <col>_level_<n>".
func FlattenHeaders(rows [][]string, headerRows []int) []string {
	width := 0
	for _, r := range headerRows {
		if r < len(rows) && len(rows[r]) > width {
			width = len(rows[r])
		}
	}
	cell := func(r, c int) string {
		if r >= len(rows) || c >= len(rows[r]) {
			return ""
		}
		return strings.TrimSpace(rows[r][c])
	}

	if len(headerRows) == 1 {
		names := make([]string, width)
		for c := 0; c < width; c++ {
			names[c] = cell(headerRows[0], c)
			if names[c] == "" {
				names[c] = fmt.Sprintf("Unnamed: %d", c)
			}
		}
		return names
	}

	// filled holds forward-filled raw values; blanks stay blank so leading
	// blanks are never propagated.
	filled := make([][]string, len(headerRows))
	for level, r := range headerRows {
		filled[level] = make([]string, width)
		last := level == len(headerRows)-1
		for c := 0; c < width; c++ {
			v := cell(r, c)
			if v == "" && !last && c > 0 && sameParent(filled, level, c) {
				v = filled[level][c-1]
			}
			filled[level][c] = v
		}
	}

	names := make([]string, width)
	for c := 0; c < width; c++ {
		parts := make([]string, len(filled))
		for level := range filled {
			parts[level] = filled[level][c]
			if parts[level] == "" {
				parts[level] = fmt.Sprintf("Unnamed: %d_level_%d", c, level)
			}
		}
		names[c] = strings.Join(parts, HeaderSeparator)
	}
	return names
}

// sameParent reports whether column c sits under the same upper-level
// headers as column c-1, so a blank at this level can be filled from the left.
func sameParent(levels [][]string, level, c int) bool {
	for up := 0; up < level; up++ {
		if levels[up][c] != levels[up][c-1] {
			return false
		}
	}
	return true
}

// Normalize converts a raw table to a validated dataset.
func Normalize(table dataset.RawTable, cfg config.IngestionConfig, logger *internal.Logger) (*dataset.Dataset, error) {
	log := logger.With("Ingestion")

	headerRows := cfg.HeaderRows
	if len(headerRows) == 0 {
		headerRows = []int{0}
	}
	dataStart := 0
	for _, r := range headerRows {
		if r+1 > dataStart {
			dataStart = r + 1
		}
	}
	if len(table.Rows) < dataStart {
		return nil, fmt.Errorf("%w: sheet has %d rows but %d header rows", core.ErrInsufficientData, len(table.Rows), dataStart)
	}

	headers := FlattenHeaders(table.Rows, headerRows)
	body := table.Rows[dataStart:]

	names := make([]string, len(headers))
	copy(names, headers)
	for i, n := range names {
		if to, ok := cfg.ColumnRenames[n]; ok {
			names[i] = to
		}
	}

	drop := make(map[string]bool, len(cfg.DropColumns))
	for _, c := range cfg.DropColumns {
		drop[c] = true
	}

	seen := make(map[string]bool, len(names))
	var keep []int
	for i, n := range names {
		if drop[n] {
			continue
		}
		if seen[n] {
			return nil, fmt.Errorf("%w: column %q appears twice after renaming", core.ErrDuplicateKey, n)
		}
		seen[n] = true
		keep = append(keep, i)
	}

	var missing []string
	for _, req := range cfg.RequiredColumns {
		if !seen[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, core.NewMissingColumnError(strings.Join(missing, ", "))
	}

	raw := func(row []string, c int) string {
		if c >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[c])
	}

	isDate := make(map[string]bool, len(cfg.DateColumns))
	for _, c := range cfg.DateColumns {
		isDate[c] = true
	}

	ds := dataset.NewIndexed(len(body))
	for _, c := range keep {
		name := names[c]
		cells := make([]string, len(body))
		for r, row := range body {
			cells[r] = raw(row, c)
		}
		var err error
		switch {
		case isDate[name]:
			err = ds.SetDatetime(name, parseDates(cells))
		default:
			if floats, ok := parseNumbers(cells); ok {
				err = ds.SetNumeric(name, floats)
			} else {
				err = ds.SetCategorical(name, cells)
			}
		}
		if err != nil {
			return nil, err
		}
	}

	if err := validateNumericRanges(ds, cfg.NumericValidationRules); err != nil {
		return nil, err
	}

	if cfg.DropMissingOutcomes {
		ds = dropRowsWithMissing(ds, cfg.RequiredColumns, log)
	}

	if cfg.IndexColumn != "" && ds.Has(cfg.IndexColumn) {
		col, _ := ds.Column(cfg.IndexColumn)
		ids := make([]string, ds.NumRows())
		for i := range ids {
			ids[i] = cellString(col, i)
		}
		if err := ds.SetRowIDs(ids); err != nil {
			return nil, fmt.Errorf("index column %s: %w", cfg.IndexColumn, err)
		}
		ds.Drop(cfg.IndexColumn)
	}

	log.Info("Ingested %d patient records with %d columns", ds.NumRows(), ds.NumColumns())
	return ds, nil
}

func cellString(col *dataset.Column, i int) string {
	switch col.Kind {
	case dataset.Numeric:
		return strconv.FormatFloat(col.Floats[i], 'f', -1, 64)
	case dataset.Categorical:
		return col.Strings[i]
	default:
		return col.Times[i].Format(time.RFC3339)
	}
}

func validateNumericRanges(ds *dataset.Dataset, rules map[string]config.Bounds) error {
	columns := make([]string, 0, len(rules))
	for c := range rules {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	ids := ds.RowIDs()
	for _, name := range columns {
		col, ok := ds.Column(name)
		if !ok {
			continue
		}
		b := rules[name]
		values := col.Floats
		if col.Kind == dataset.Categorical {
			values = make([]float64, len(col.Strings))
			for i, s := range col.Strings {
				values[i] = parseNumberOrNaN(s)
			}
		} else if col.Kind != dataset.Numeric {
			continue
		}
		for i, v := range values {
			if math.IsNaN(v) {
				continue
			}
			if v < b.Min || v > b.Max {
				return core.NewOutOfRangeError(name, ids[i], v, b.Min, b.Max)
			}
		}
	}
	return nil
}

func dropRowsWithMissing(ds *dataset.Dataset, columns []string, log *internal.Logger) *dataset.Dataset {
	var subset []*dataset.Column
	var names []string
	for _, c := range columns {
		if col, ok := ds.Column(c); ok {
			subset = append(subset, col)
			names = append(names, c)
		}
	}
	if len(subset) == 0 {
		return ds
	}
	out := ds.Filter(func(row int) bool {
		for _, col := range subset {
			if col.IsMissing(row) {
				return false
			}
		}
		return true
	})
	if dropped := ds.NumRows() - out.NumRows(); dropped > 0 {
		log.Info("Dropped %d rows due to missing values in %v", dropped, names)
	}
	return out
}

var missingTokens = map[string]bool{
	"": true, "na": true, "n/a": true, "nan": true, "null": true, "none": true, "-": true,
}

func isMissingToken(s string) bool {
	return missingTokens[strings.ToLower(strings.TrimSpace(s))]
}

func parseNumberOrNaN(s string) float64 {
	if isMissingToken(s) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// parseNumbers returns the column as floats when every non-missing cell is numeric.
func parseNumbers(cells []string) ([]float64, bool) {
	out := make([]float64, len(cells))
	for i, s := range cells {
		if isMissingToken(s) {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"02.01.2006",
	"01-02-06",
	"1/2/06",
	"1/2/06 15:04",
}

// excelEpoch is day zero of the 1900 date system as Excel counts it.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ParseDate parses a CRF date cell. Unparseable cells yield the zero time.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if isMissingToken(s) {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 && serial < 2958466 {
		days := math.Floor(serial)
		frac := serial - days
		return excelEpoch.AddDate(0, 0, int(days)).Add(time.Duration(frac * 24 * float64(time.Hour)))
	}
	return time.Time{}
}

func parseDates(cells []string) []time.Time {
	out := make([]time.Time, len(cells))
	for i, s := range cells {
		out[i] = ParseDate(s)
	}
	return out
}
