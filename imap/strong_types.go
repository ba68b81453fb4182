package imap

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// MailboxID identifies a mailbox. It is a fixed-length value so that message row keys
// built from it sort by UID within a mailbox.
type MailboxID uuid.UUID

func NewMailboxID() MailboxID {
	return MailboxID(uuid.New())
}

func MailboxIDFromString(id string) (MailboxID, error) {
	v, err := uuid.Parse(id)
	if err != nil {
		return MailboxID{}, fmt.Errorf("invalid mailbox id:%w", err)
	}

	return MailboxID(v), nil
}

func MailboxIDFromBytes(b []byte) (MailboxID, error) {
	v, err := uuid.FromBytes(b)
	if err != nil {
		return MailboxID{}, fmt.Errorf("invalid mailbox id:%w", err)
	}

	return MailboxID(v), nil
}

func (m MailboxID) String() string {
	return uuid.UUID(m).String()
}

// ShortID returns a truncated id. Use only for debug display.
func (m MailboxID) ShortID() string {
	return m.String()[:8]
}

func (m MailboxID) ToBytes() []byte {
	b := make([]byte, len(m))
	copy(b, m[:])

	return b
}

func (m MailboxID) IsZero() bool {
	return m == MailboxID{}
}

// UID is the per-mailbox unique, strictly increasing message identifier.
type UID uint32

func (u UID) String() string {
	return strconv.FormatUint(uint64(u), 10)
}

func (u UID) ToBytes() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(u))

	return b
}

func UIDFromBytes(b []byte) (UID, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("invalid uid length %v", len(b))
	}

	return UID(binary.BigEndian.Uint32(b)), nil
}

// ModSeq is the per-mailbox modification sequence bumped on every observable mutation.
type ModSeq uint64

func (m ModSeq) String() string {
	return strconv.FormatUint(uint64(m), 10)
}
