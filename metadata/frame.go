// Package metadata provides the tabular sample metadata that flows through a
// branch: a TSV-backed frame plus the subset, filter, and partition
// operations branch specs apply to it.
package metadata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/TheAustinator/dataforest/types"
)

// Frame is an ordered-column table of string cells read from a TSV file.
// Cells are compared numerically when both sides parse as numbers.
type Frame struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

// NewFrame creates an empty frame with the given columns.
func NewFrame(columns []string) *Frame {
	f := &Frame{columns: append([]string(nil), columns...)}
	f.index = make(map[string]int, len(columns))
	for i, c := range f.columns {
		f.index[c] = i
	}
	return f
}

// ReadTSV decodes a tab-separated table with a header row.
func ReadTSV(r io.Reader) (*Frame, error) {
	return ReadDelim(r, '\t')
}

// ReadDelim decodes a delimiter-separated table with a header row.
func ReadDelim(r io.Reader, comma rune) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, types.NewError(types.ErrMetadataRead, "failed to parse table").WithCause(err)
	}
	if len(records) == 0 {
		return nil, types.NewError(types.ErrMetadataRead, "table has no header row")
	}
	f := NewFrame(records[0])
	for i, record := range records[1:] {
		if len(record) != len(f.columns) {
			return nil, types.NewErrorf(types.ErrMetadataRead, "row %d has %d fields, header has %d", i+1, len(record), len(f.columns))
		}
		f.rows = append(f.rows, record)
	}
	return f, nil
}

// ReadTSVFile reads a TSV file into a frame.
func ReadTSVFile(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadTSV(file)
}

// WriteTSV encodes the frame as a tab-separated table with a header row.
func (f *Frame) WriteTSV(w io.Writer) error {
	return f.WriteDelim(w, '\t')
}

// WriteDelim encodes the frame as a delimiter-separated table with a header
// row.
func (f *Frame) WriteDelim(w io.Writer, comma rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(f.columns); err != nil {
		return err
	}
	for _, row := range f.rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTSVFile writes the frame to path, creating or truncating it.
func (f *Frame) WriteTSVFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return f.WriteTSV(file)
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	return append([]string(nil), f.columns...)
}

// HasColumn reports whether the frame has the named column.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.rows)
}

// Cell returns the value at row i, column name.
func (f *Frame) Cell(i int, column string) (string, bool) {
	idx, ok := f.index[column]
	if !ok || i < 0 || i >= len(f.rows) {
		return "", false
	}
	return f.rows[i][idx], true
}

// Column returns all values of a column in row order.
func (f *Frame) Column(name string) ([]string, bool) {
	idx, ok := f.index[name]
	if !ok {
		return nil, false
	}
	out := make([]string, len(f.rows))
	for i, row := range f.rows {
		out[i] = row[idx]
	}
	return out, true
}

// AppendRow adds a row. The row length must match the column count.
func (f *Frame) AppendRow(row []string) error {
	if len(row) != len(f.columns) {
		return fmt.Errorf("row has %d fields, frame has %d columns", len(row), len(f.columns))
	}
	f.rows = append(f.rows, append([]string(nil), row...))
	return nil
}

// Copy returns a deep copy.
func (f *Frame) Copy() *Frame {
	cp := NewFrame(f.columns)
	cp.rows = make([][]string, len(f.rows))
	for i, row := range f.rows {
		cp.rows[i] = append([]string(nil), row...)
	}
	return cp
}

// Equal reports whether two frames have identical columns and cells.
func (f *Frame) Equal(other *Frame) bool {
	if other == nil || len(f.columns) != len(other.columns) || len(f.rows) != len(other.rows) {
		return false
	}
	for i, c := range f.columns {
		if other.columns[i] != c {
			return false
		}
	}
	for i, row := range f.rows {
		for j, cell := range row {
			if other.rows[i][j] != cell {
				return false
			}
		}
	}
	return true
}

// selectRows returns a new frame holding the rows where keep is true.
func (f *Frame) selectRows(keep func(i int) bool) *Frame {
	out := NewFrame(f.columns)
	for i, row := range f.rows {
		if keep(i) {
			out.rows = append(out.rows, append([]string(nil), row...))
		}
	}
	return out
}

// withColumn returns a copy with an extra column appended, valued per row.
func (f *Frame) withColumn(name string, value func(i int) string) *Frame {
	out := NewFrame(append(f.Columns(), name))
	for i, row := range f.rows {
		extended := make([]string, 0, len(row)+1)
		extended = append(extended, row...)
		extended = append(extended, value(i))
		out.rows = append(out.rows, extended)
	}
	return out
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}
