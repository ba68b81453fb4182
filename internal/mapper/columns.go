package mapper

import (
	"fmt"
	"strings"
	"time"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/mailbox"
)

const (
	familyMailbox = "mbox"
	familyMessage = "meta"
)

// Mailbox row columns.
const (
	colUser        = "user"
	colName        = "name"
	colUIDValidity = "uidvalidity"
	colLastUID     = "uid"
	colModSeq      = "modseq"
	colCount       = "count"
	colUnseen      = "unseen"
)

// Message row columns. colModSeq is shared with the mailbox row.
const (
	colDate      = "date"
	colSize      = "size"
	colBodyStart = "bodystart"
	colMedia     = "media"
	colSub       = "sub"

	flagPrefix    = "f:"
	keywordPrefix = "kw:"
)

var (
	flagOn  = []byte("1")
	flagOff = []byte("0")
)

// flagColumn returns the column holding a system flag, e.g. "f:seen" for \Seen.
func flagColumn(flag string) string {
	return flagPrefix + strings.ToLower(strings.TrimPrefix(flag, `\`))
}

func keywordColumn(keyword string) string {
	return keywordPrefix + strings.ToLower(keyword)
}

func contentRef(mboxID imap.MailboxID, uid imap.UID) string {
	return mboxID.String() + "/" + uid.String()
}

// encodeFlags returns the flag cells of a message. System flags are always written so that filters can
// match on "0"; keywords present in old but not in flags are removed.
func encodeFlags(old, flags imap.FlagSet) map[string][]byte {
	cells := make(map[string][]byte)

	for _, flag := range imap.SystemFlags {
		if flags.Contains(flag) {
			cells[flagColumn(flag)] = flagOn
		} else {
			cells[flagColumn(flag)] = flagOff
		}
	}

	for _, keyword := range old.Keywords() {
		if !flags.Contains(keyword) {
			cells[keywordColumn(keyword)] = nil
		}
	}

	for _, keyword := range flags.Keywords() {
		cells[keywordColumn(keyword)] = []byte(keyword)
	}

	return cells
}

func decodeFlags(row backend.Row) imap.FlagSet {
	flags := imap.NewFlagSet()

	for _, flag := range imap.SystemFlags {
		if string(row.Value(flagColumn(flag))) == string(flagOn) {
			flags = flags.Add(flag)
		}
	}

	for col, value := range row.Cells {
		if strings.HasPrefix(col, keywordPrefix) {
			flags = flags.Add(string(value))
		}
	}

	return flags
}

func encodeMessage(msg *mailbox.Message) map[string][]byte {
	cells := encodeFlags(imap.NewFlagSet(), msg.Flags)

	cells[colModSeq] = backend.EncodeInt64(int64(msg.ModSeq))
	cells[colDate] = backend.EncodeInt64(msg.InternalDate.UnixMilli())
	cells[colSize] = backend.EncodeInt64(msg.Size)
	cells[colBodyStart] = backend.EncodeInt64(msg.BodyStartOctet)
	cells[colMedia] = []byte(msg.MediaType)
	cells[colSub] = []byte(msg.SubType)

	return cells
}

func decodeMessage(mboxID imap.MailboxID, row backend.IndexedRow) (*mailbox.Message, error) {
	modSeq, err := row.Int(colModSeq)
	if err != nil {
		return nil, err
	}

	date, err := requiredInt(row.Row, colDate)
	if err != nil {
		return nil, err
	}

	size, err := requiredInt(row.Row, colSize)
	if err != nil {
		return nil, err
	}

	bodyStart, err := requiredInt(row.Row, colBodyStart)
	if err != nil {
		return nil, err
	}

	return &mailbox.Message{
		MailboxID:      mboxID,
		UID:            row.UID,
		ModSeq:         imap.ModSeq(modSeq),
		InternalDate:   time.UnixMilli(date).UTC(),
		Size:           size,
		BodyStartOctet: bodyStart,
		MediaType:      row.String(colMedia),
		SubType:        row.String(colSub),
		Flags:          decodeFlags(row.Row),
	}, nil
}

// requiredInt reads a column every complete message record has. A record without it was not written by Add.
func requiredInt(row backend.Row, column string) (int64, error) {
	if !row.Has(column) {
		return 0, fmt.Errorf("message record %x has no %v column", row.Key, column)
	}

	return row.Int(column)
}

func isUnseen(flags imap.FlagSet) bool {
	return !flags.Contains(imap.FlagSeen)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}

	return 0
}
