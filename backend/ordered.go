package backend

import (
	"context"
	"fmt"
	"math"

	"github.com/ProtonMail/mailstore/imap"
	"github.com/bradenaw/juniper/xslices"
)

const uidKeyLen = 4

// OrderedIndex stores rows keyed by (mailbox, uid) in a table. Backends that want cheap access to the most
// recent messages store the uid inverted so that rows are laid out in descending uid order. The index hides
// that choice: keys are built according to the backend order and scan results are always returned in
// ascending uid order.
type OrderedIndex struct {
	table Table
	order Order
}

func NewOrderedIndex(table Table, order Order) *OrderedIndex {
	return &OrderedIndex{table: table, order: order}
}

func (idx *OrderedIndex) Table() Table {
	return idx.table
}

func (idx *OrderedIndex) Order() Order {
	return idx.order
}

// Key returns the row key of the message with the given uid.
func (idx *OrderedIndex) Key(mboxID imap.MailboxID, uid imap.UID) []byte {
	key := make([]byte, 0, len(mboxID)+uidKeyLen)
	key = append(key, mboxID[:]...)

	if idx.order == Descending {
		uid = imap.UID(math.MaxUint32 - uint32(uid))
	}

	return append(key, uid.ToBytes()...)
}

// UID decodes the uid of a row key built by Key.
func (idx *OrderedIndex) UID(key []byte) (imap.UID, error) {
	if len(key) < uidKeyLen {
		return 0, fmt.Errorf("invalid message row key of %v bytes", len(key))
	}

	uid, err := imap.UIDFromBytes(key[len(key)-uidKeyLen:])
	if err != nil {
		return 0, err
	}

	if idx.order == Descending {
		uid = imap.UID(math.MaxUint32 - uint32(uid))
	}

	return uid, nil
}

// Bounds returns the [start, stop) keys covering the uids from..to of a mailbox, both inclusive.
func (idx *OrderedIndex) Bounds(mboxID imap.MailboxID, from, to imap.UID) ([]byte, []byte) {
	prefixEnd := PrefixEnd(mboxID[:])

	if idx.order == Descending {
		if from == 0 {
			return idx.Key(mboxID, to), prefixEnd
		}

		return idx.Key(mboxID, to), idx.Key(mboxID, from-1)
	}

	if to == math.MaxUint32 {
		return idx.Key(mboxID, from), prefixEnd
	}

	return idx.Key(mboxID, from), idx.Key(mboxID, to+1)
}

// IndexedRow is a row together with the uid decoded from its key.
type IndexedRow struct {
	UID imap.UID
	Row
}

type IndexScan struct {
	From, To imap.UID
	Family   string
	Columns  []string
	Filter   *Filter
	Limit    int
}

// Scan returns the rows of the mailbox within the scan bounds, in ascending uid order. When a limit is set,
// only the rows with the lowest uids are returned.
func (idx *OrderedIndex) Scan(ctx context.Context, mboxID imap.MailboxID, scan IndexScan) ([]IndexedRow, error) {
	if scan.From > scan.To {
		return nil, nil
	}

	start, stop := idx.Bounds(mboxID, scan.From, scan.To)

	req := ScanRequest{
		Start:   start,
		Stop:    stop,
		Family:  scan.Family,
		Columns: scan.Columns,
		Filter:  scan.Filter,
	}

	// The limit can only be pushed down when the physical order matches the result order.
	if idx.order == Ascending {
		req.Limit = scan.Limit
	}

	rows, err := ScanAll(ctx, idx.table, req)
	if err != nil {
		return nil, err
	}

	res := make([]IndexedRow, 0, len(rows))

	for _, row := range rows {
		uid, err := idx.UID(row.Key)
		if err != nil {
			return nil, err
		}

		res = append(res, IndexedRow{UID: uid, Row: row})
	}

	// On descending backends a limited scan still reads every matching row of the range before the lowest
	// uids are kept, so Limit saves no I/O there. FindFirstUnseenMessageUID pays this on large mailboxes.
	if idx.order == Descending {
		xslices.Reverse(res)

		if scan.Limit > 0 && len(res) > scan.Limit {
			res = res[:scan.Limit]
		}
	}

	return res, nil
}
