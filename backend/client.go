package backend

import (
	"context"
)

//go:generate mockgen -destination mock_backend/backend.go github.com/ProtonMail/mailstore/backend Client,Table,Scanner

const (
	TableMailboxes = "mailboxes"
	TableMessages  = "messages"
	TableContent   = "content"
	TableQuota     = "quota"
)

// Order describes how a backend physically lays out the message rows of a mailbox.
type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "descending"
	}

	return "ascending"
}

// Client is a connection to a key/value store offering named tables of rows. Rows are split in families
// of columns. There are no multi-row transactions: every method of Table is atomic for a single row only.
type Client interface {
	Table(name string) Table

	// Order is the physical order the backend uses for message rows (see OrderedIndex).
	Order() Order

	Close() error
}

type Table interface {
	// Increment atomically adds delta to the counter cell and returns the new value. Missing rows and
	// cells are created with a zero value first.
	Increment(ctx context.Context, row []byte, family, column string, delta int64) (int64, error)

	// IncrementExisting is like Increment but fails with ErrNotFound if the row has no cell in family.
	IncrementExisting(ctx context.Context, row []byte, family, column string, delta int64) (int64, error)

	// Get returns the requested columns of the row, or the whole family when no columns are given.
	// It fails with ErrNotFound if the row has no cell in family.
	Get(ctx context.Context, row []byte, family string, columns ...string) (Row, error)

	// Put writes cells to the row. A nil value removes the cell.
	Put(ctx context.Context, row []byte, family string, cells map[string][]byte) error

	// PutExisting is like Put but fails with ErrNotFound, writing nothing, if the row has no cell in family.
	PutExisting(ctx context.Context, row []byte, family string, cells map[string][]byte) error

	// Delete removes every cell of the row and reports whether the row existed.
	Delete(ctx context.Context, row []byte) (bool, error)

	// Scan iterates rows in physical key order. The caller must close the returned scanner.
	Scan(ctx context.Context, req ScanRequest) (Scanner, error)
}

type Builder interface {
	New(dir string) (Client, error)
	Delete(dir string) error
}

type Scanner interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// ScanRequest describes a range scan over the rows [Start, Stop) of a table. A nil Stop is unbounded.
// Only rows having cells in Family are returned. Filter is evaluated against all cells of the family before
// the result is projected on Columns.
type ScanRequest struct {
	Start   []byte
	Stop    []byte
	Family  string
	Columns []string
	Filter  *Filter
	Limit   int
}

// Collect drains and closes the scanner.
func Collect(scanner Scanner) ([]Row, error) {
	var rows []Row

	for scanner.Next() {
		rows = append(rows, scanner.Row())
	}

	if err := scanner.Err(); err != nil {
		_ = scanner.Close()

		return nil, err
	}

	if err := scanner.Close(); err != nil {
		return nil, err
	}

	return rows, nil
}

// ScanAll is a shortcut for Scan followed by Collect.
func ScanAll(ctx context.Context, table Table, req ScanRequest) ([]Row, error) {
	scanner, err := table.Scan(ctx, req)
	if err != nil {
		return nil, err
	}

	return Collect(scanner)
}

// SliceScanner serves rows already loaded in memory.
type SliceScanner struct {
	rows []Row
	pos  int
}

func NewSliceScanner(rows []Row) *SliceScanner {
	return &SliceScanner{rows: rows, pos: -1}
}

func (s *SliceScanner) Next() bool {
	if s.pos >= len(s.rows) {
		return false
	}

	s.pos++

	return s.pos < len(s.rows)
}

func (s *SliceScanner) Row() Row {
	return s.rows[s.pos]
}

func (s *SliceScanner) Err() error {
	return nil
}

func (s *SliceScanner) Close() error {
	s.rows = nil
	s.pos = 0

	return nil
}
