package backend

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

type Row struct {
	Key   []byte
	Cells map[string][]byte
}

func (r Row) Has(column string) bool {
	_, ok := r.Cells[column]
	return ok
}

func (r Row) Value(column string) []byte {
	return r.Cells[column]
}

func (r Row) String(column string) string {
	return string(r.Cells[column])
}

// Int decodes a counter cell. Missing cells decode as zero.
func (r Row) Int(column string) (int64, error) {
	v, ok := r.Cells[column]
	if !ok {
		return 0, nil
	}

	return DecodeInt64(v)
}

// Columns returns the sorted column names of the row.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r.Cells))

	for col := range r.Cells {
		cols = append(cols, col)
	}

	sort.Strings(cols)

	return cols
}

// Project keeps only the given columns. An empty list keeps every column.
func (r Row) Project(columns []string) Row {
	if len(columns) == 0 {
		return r
	}

	cells := make(map[string][]byte, len(columns))

	for _, col := range columns {
		if v, ok := r.Cells[col]; ok {
			cells[col] = v
		}
	}

	return Row{Key: r.Key, Cells: cells}
}

// Filter is a single column equality test. With Missing set, it matches rows that lack the column;
// otherwise rows lacking the column never match.
type Filter struct {
	Column  string
	Value   []byte
	Missing bool
}

func ColumnEquals(column string, value []byte) *Filter {
	return &Filter{Column: column, Value: value}
}

func ColumnMissing(column string) *Filter {
	return &Filter{Column: column, Missing: true}
}

func (f *Filter) Match(cells map[string][]byte) bool {
	if f == nil {
		return true
	}

	v, ok := cells[f.Column]

	if f.Missing {
		return !ok
	}

	return ok && bytes.Equal(v, f.Value)
}

func EncodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))

	return b
}

func DecodeInt64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid counter cell of %v bytes", len(b))
	}

	return int64(binary.BigEndian.Uint64(b)), nil
}

// PrefixEnd returns the smallest key greater than every key starting with prefix, or nil if there is none.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)

	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}

	return nil
}

// InRange returns true if start <= key < stop, treating nil bounds as unbounded.
func InRange(key, start, stop []byte) bool {
	if start != nil && bytes.Compare(key, start) < 0 {
		return false
	}

	return stop == nil || bytes.Compare(key, stop) < 0
}
