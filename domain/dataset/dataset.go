package dataset

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"detectpd/domain/core"

	"gonum.org/v1/gonum/mat"
)

// Kind is the storage type of a column.
type Kind int

const (
	Numeric Kind = iota
	Categorical
	Datetime
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Categorical:
		return "categorical"
	case Datetime:
		return "datetime"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Column holds one named, typed column. Missing values are NaN for numeric
// columns, "" for categorical columns and the zero time for datetime columns.
type Column struct {
	Name    string
	Kind    Kind
	Floats  []float64
	Strings []string
	Times   []time.Time
}

// Len returns the number of values in the column.
func (c *Column) Len() int {
	switch c.Kind {
	case Numeric:
		return len(c.Floats)
	case Categorical:
		return len(c.Strings)
	default:
		return len(c.Times)
	}
}

// IsMissing reports whether row i holds a missing value.
func (c *Column) IsMissing(i int) bool {
	switch c.Kind {
	case Numeric:
		return math.IsNaN(c.Floats[i])
	case Categorical:
		return c.Strings[i] == ""
	default:
		return c.Times[i].IsZero()
	}
}

func (c *Column) clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case Numeric:
		out.Floats = append([]float64(nil), c.Floats...)
	case Categorical:
		out.Strings = append([]string(nil), c.Strings...)
	default:
		out.Times = append([]time.Time(nil), c.Times...)
	}
	return out
}

func (c *Column) take(rows []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case Numeric:
		out.Floats = make([]float64, len(rows))
		for i, r := range rows {
			out.Floats[i] = c.Floats[r]
		}
	case Categorical:
		out.Strings = make([]string, len(rows))
		for i, r := range rows {
			out.Strings[i] = c.Strings[r]
		}
	default:
		out.Times = make([]time.Time, len(rows))
		for i, r := range rows {
			out.Times[i] = c.Times[r]
		}
	}
	return out
}

// Dataset is a table of uniquely named columns over uniquely identified rows.
type Dataset struct {
	rowIDs  []string
	rowPos  map[string]int
	columns []*Column
	byName  map[string]int
}

// New creates an empty dataset over the given row identifiers.
func New(rowIDs []string) (*Dataset, error) {
	pos := make(map[string]int, len(rowIDs))
	for i, id := range rowIDs {
		if _, dup := pos[id]; dup {
			return nil, fmt.Errorf("%w: row id %q", core.ErrDuplicateKey, id)
		}
		pos[id] = i
	}
	return &Dataset{
		rowIDs: append([]string(nil), rowIDs...),
		rowPos: pos,
		byName: make(map[string]int),
	}, nil
}

// NewIndexed creates an empty dataset with row ids "0".."n-1".
func NewIndexed(n int) *Dataset {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", i)
	}
	ds, _ := New(ids)
	return ds
}

// NumRows returns the number of rows.
func (d *Dataset) NumRows() int { return len(d.rowIDs) }

// NumColumns returns the number of columns.
func (d *Dataset) NumColumns() int { return len(d.columns) }

// RowIDs returns a copy of the row identifiers in row order.
func (d *Dataset) RowIDs() []string { return append([]string(nil), d.rowIDs...) }

// RowPosition returns the position of a row id.
func (d *Dataset) RowPosition(id string) (int, bool) {
	i, ok := d.rowPos[id]
	return i, ok
}

// Columns returns the column names in order.
func (d *Dataset) Columns() []string {
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = c.Name
	}
	return names
}

// Has reports whether a column exists.
func (d *Dataset) Has(name string) bool {
	_, ok := d.byName[name]
	return ok
}

// Column returns the named column. The returned column must be treated as
// read-only; use the Set methods to change data.
func (d *Dataset) Column(name string) (*Column, bool) {
	i, ok := d.byName[name]
	if !ok {
		return nil, false
	}
	return d.columns[i], true
}

// ColumnsOfKind returns the names of all columns of kind k, in order.
func (d *Dataset) ColumnsOfKind(k Kind) []string {
	var names []string
	for _, c := range d.columns {
		if c.Kind == k {
			names = append(names, c.Name)
		}
	}
	return names
}

func (d *Dataset) set(col *Column) error {
	if col.Len() != len(d.rowIDs) {
		return core.NewDimensionError("column "+col.Name, len(d.rowIDs), col.Len())
	}
	if i, ok := d.byName[col.Name]; ok {
		d.columns[i] = col
		return nil
	}
	d.byName[col.Name] = len(d.columns)
	d.columns = append(d.columns, col)
	return nil
}

// SetNumeric adds or replaces a numeric column. Replacing keeps the column position.
func (d *Dataset) SetNumeric(name string, values []float64) error {
	return d.set(&Column{Name: name, Kind: Numeric, Floats: values})
}

// SetCategorical adds or replaces a categorical column.
func (d *Dataset) SetCategorical(name string, values []string) error {
	return d.set(&Column{Name: name, Kind: Categorical, Strings: values})
}

// SetDatetime adds or replaces a datetime column.
func (d *Dataset) SetDatetime(name string, values []time.Time) error {
	return d.set(&Column{Name: name, Kind: Datetime, Times: values})
}

// Floats returns the values of a numeric column.
func (d *Dataset) Floats(name string) ([]float64, error) {
	col, ok := d.Column(name)
	if !ok {
		return nil, core.NewMissingColumnError(name)
	}
	if col.Kind != Numeric {
		return nil, core.NewInvalidInputError(name, "column is "+col.Kind.String()+", not numeric")
	}
	return col.Floats, nil
}

// Drop removes the named columns; unknown names are ignored.
func (d *Dataset) Drop(names ...string) {
	if len(names) == 0 {
		return
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := d.columns[:0]
	for _, c := range d.columns {
		if !drop[c.Name] {
			kept = append(kept, c)
		}
	}
	d.columns = kept
	d.reindexColumns()
}

// Rename renames columns per mapping. Renaming onto an existing column fails.
func (d *Dataset) Rename(mapping map[string]string) error {
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, from := range keys {
		to := mapping[from]
		i, ok := d.byName[from]
		if !ok || from == to {
			continue
		}
		if _, clash := d.byName[to]; clash {
			return fmt.Errorf("%w: rename %s -> %s collides with an existing column", core.ErrDuplicateKey, from, to)
		}
		d.columns[i].Name = to
		delete(d.byName, from)
		d.byName[to] = i
	}
	return nil
}

func (d *Dataset) reindexColumns() {
	d.byName = make(map[string]int, len(d.columns))
	for i, c := range d.columns {
		d.byName[c.Name] = i
	}
}

// Clone returns a deep copy.
func (d *Dataset) Clone() *Dataset {
	out, _ := New(d.rowIDs)
	for _, c := range d.columns {
		_ = out.set(c.clone())
	}
	return out
}

// Select returns a deep copy restricted to the named columns, in the given order.
func (d *Dataset) Select(names []string) (*Dataset, error) {
	out, _ := New(d.rowIDs)
	for _, n := range names {
		col, ok := d.Column(n)
		if !ok {
			return nil, core.NewMissingColumnError(n)
		}
		if err := out.set(col.clone()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Take returns a deep copy of the rows at the given positions, in that order.
func (d *Dataset) Take(rows []int) *Dataset {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = d.rowIDs[r]
	}
	out, _ := New(ids)
	for _, c := range d.columns {
		_ = out.set(c.take(rows))
	}
	return out
}

// Filter returns the rows for which keep returns true.
func (d *Dataset) Filter(keep func(row int) bool) *Dataset {
	rows := make([]int, 0, len(d.rowIDs))
	for i := range d.rowIDs {
		if keep(i) {
			rows = append(rows, i)
		}
	}
	return d.Take(rows)
}

// Reindex returns a dataset over rowIDs, taking rows from d by identifier.
func (d *Dataset) Reindex(rowIDs []string) (*Dataset, error) {
	rows := make([]int, len(rowIDs))
	for i, id := range rowIDs {
		p, ok := d.rowPos[id]
		if !ok {
			return nil, fmt.Errorf("%w: row id %q", core.ErrInvalidInput, id)
		}
		rows[i] = p
	}
	return d.Take(rows), nil
}

// SetRowIDs replaces the row identifiers.
func (d *Dataset) SetRowIDs(ids []string) error {
	if len(ids) != len(d.rowIDs) {
		return core.NewDimensionError("row ids", len(d.rowIDs), len(ids))
	}
	fresh, err := New(ids)
	if err != nil {
		return err
	}
	d.rowIDs, d.rowPos = fresh.rowIDs, fresh.rowPos
	return nil
}

// Matrix builds a rows x len(names) dense matrix from numeric columns.
func (d *Dataset) Matrix(names []string) (*mat.Dense, error) {
	n := d.NumRows()
	if n == 0 || len(names) == 0 {
		return nil, fmt.Errorf("%w: matrix of %d rows and %d columns", core.ErrInsufficientData, n, len(names))
	}
	m := mat.NewDense(n, len(names), nil)
	for j, name := range names {
		values, err := d.Floats(name)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			m.Set(i, j, v)
		}
	}
	return m, nil
}

// MatrixFillMissing is Matrix with missing values replaced by fill.
func (d *Dataset) MatrixFillMissing(names []string, fill float64) (*mat.Dense, error) {
	m, err := d.Matrix(names)
	if err != nil {
		return nil, err
	}
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.IsNaN(m.At(i, j)) {
				m.Set(i, j, fill)
			}
		}
	}
	return m, nil
}

// Fingerprint hashes the row ids and every column's name, kind and values in
// column order. Two datasets with equal fingerprints hold the same data.
func (d *Dataset) Fingerprint() core.Hash {
	var buf bytes.Buffer
	for _, id := range d.rowIDs {
		buf.WriteString(id)
		buf.WriteByte(0x1f)
	}
	var word [8]byte
	for _, col := range d.columns {
		buf.WriteByte(0x1e)
		buf.WriteString(col.Name)
		buf.WriteByte(byte(col.Kind))
		switch col.Kind {
		case Numeric:
			for _, v := range col.Floats {
				binary.LittleEndian.PutUint64(word[:], math.Float64bits(v))
				buf.Write(word[:])
			}
		case Categorical:
			for _, v := range col.Strings {
				buf.WriteString(v)
				buf.WriteByte(0x1f)
			}
		default:
			for _, v := range col.Times {
				binary.LittleEndian.PutUint64(word[:], uint64(v.UnixNano()))
				buf.Write(word[:])
			}
		}
	}
	return core.NewHash(buf.Bytes())
}
