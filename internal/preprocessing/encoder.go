package preprocessing

import (
	"math"
	"sort"
	"strconv"

	"detectpd/domain/dataset"
	"detectpd/internal"
)

// MissingCategory stands in for absent categorical values.
const MissingCategory = "missing"

// UnseenLabel is the code label encoding assigns to categories not seen at fit time.
const UnseenLabel = -1.0

// Encoder turns categorical feature columns into numeric ones.
type Encoder interface {
	// Transform replaces the encoder's input columns in ds with encoded columns.
	Transform(ds *dataset.Dataset, logger *internal.Logger) error
	// InputColumns lists the categorical columns consumed.
	InputColumns() []string
	// OutputColumns lists the numeric columns produced.
	OutputColumns() []string
}

// categoryValues renders a column as category strings, mapping missing
// values to MissingCategory.
func categoryValues(col *dataset.Column) []string {
	out := make([]string, col.Len())
	for i := range out {
		if col.IsMissing(i) {
			out[i] = MissingCategory
			continue
		}
		switch col.Kind {
		case dataset.Numeric:
			out[i] = strconv.FormatFloat(col.Floats[i], 'f', -1, 64)
		case dataset.Categorical:
			out[i] = col.Strings[i]
		default:
			out[i] = col.Times[i].Format("2006-01-02")
		}
	}
	return out
}

func sortedUnique(values []string) []string {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// OneHotEncoder expands each categorical column into one indicator column
// per category seen at fit time. Unseen categories encode as all zeros.
type OneHotEncoder struct {
	Columns    []string
	Categories [][]string
}

// FitOneHot learns the sorted category set of each column.
func FitOneHot(ds *dataset.Dataset, columns []string) *OneHotEncoder {
	enc := &OneHotEncoder{Columns: append([]string(nil), columns...)}
	for _, name := range columns {
		col, _ := ds.Column(name)
		enc.Categories = append(enc.Categories, sortedUnique(categoryValues(col)))
	}
	return enc
}

func (e *OneHotEncoder) InputColumns() []string { return e.Columns }

func (e *OneHotEncoder) OutputColumns() []string {
	var names []string
	for j, name := range e.Columns {
		for _, cat := range e.Categories[j] {
			names = append(names, name+"_"+cat)
		}
	}
	return names
}

// Transform drops the input columns and appends the indicator columns.
// Input columns absent from ds encode as MissingCategory.
func (e *OneHotEncoder) Transform(ds *dataset.Dataset, logger *internal.Logger) error {
	n := ds.NumRows()
	type indicator struct {
		name   string
		values []float64
	}
	var encoded []indicator
	for j, name := range e.Columns {
		values := make([]string, n)
		if col, ok := ds.Column(name); ok {
			values = categoryValues(col)
		} else {
			for i := range values {
				values[i] = MissingCategory
			}
		}
		index := make(map[string]int, len(e.Categories[j]))
		for k, cat := range e.Categories[j] {
			index[cat] = k
		}
		block := make([][]float64, len(e.Categories[j]))
		for k := range block {
			block[k] = make([]float64, n)
		}
		unseen := 0
		for i, v := range values {
			if k, ok := index[v]; ok {
				block[k][i] = 1
			} else {
				unseen++
			}
		}
		if unseen > 0 {
			logger.Debug("Column %s: %d rows with categories unseen at fit time encoded as zeros", name, unseen)
		}
		for k, cat := range e.Categories[j] {
			encoded = append(encoded, indicator{name: name + "_" + cat, values: block[k]})
		}
	}
	ds.Drop(e.Columns...)
	for _, ind := range encoded {
		if err := ds.SetNumeric(ind.name, ind.values); err != nil {
			return err
		}
	}
	return nil
}

// LabelEncoder maps each category of one column to its index in the sorted
// class list.
type LabelEncoder struct {
	Column  string
	Classes []string
}

// LabelEncoders encodes several columns in place, one encoder per column.
type LabelEncoders struct {
	Encoders []*LabelEncoder
}

// FitLabel learns the class list of every column.
func FitLabel(ds *dataset.Dataset, columns []string) *LabelEncoders {
	out := &LabelEncoders{}
	for _, name := range columns {
		col, _ := ds.Column(name)
		out.Encoders = append(out.Encoders, &LabelEncoder{Column: name, Classes: sortedUnique(categoryValues(col))})
	}
	return out
}

func (l *LabelEncoders) InputColumns() []string {
	names := make([]string, len(l.Encoders))
	for i, e := range l.Encoders {
		names[i] = e.Column
	}
	return names
}

func (l *LabelEncoders) OutputColumns() []string { return l.InputColumns() }

// Transform replaces each column with its class codes. Categories unseen at
// fit time get UnseenLabel; absent columns are skipped.
func (l *LabelEncoders) Transform(ds *dataset.Dataset, logger *internal.Logger) error {
	for _, e := range l.Encoders {
		col, ok := ds.Column(e.Column)
		if !ok {
			continue
		}
		index := make(map[string]int, len(e.Classes))
		for k, c := range e.Classes {
			index[c] = k
		}
		values := categoryValues(col)
		codes := make([]float64, len(values))
		unseen := 0
		for i, v := range values {
			if k, ok := index[v]; ok {
				codes[i] = float64(k)
			} else {
				codes[i] = UnseenLabel
				unseen++
			}
		}
		if unseen > 0 {
			logger.Warn("Column %s: %d rows with categories unseen at fit time encoded as %v", e.Column, unseen, UnseenLabel)
		}
		if err := ds.SetNumeric(e.Column, codes); err != nil {
			return err
		}
	}
	return nil
}

func nanColumn(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
