package dataset

// RawTable is the cell grid of one sheet as read from a CRF file, header
// rows included. Cells are trimmed strings; blank cells are "".
type RawTable struct {
	Rows [][]string
}

// Width returns the widest row length.
func (t RawTable) Width() int {
	w := 0
	for _, r := range t.Rows {
		if len(r) > w {
			w = len(r)
		}
	}
	return w
}
