package mailbox

import (
	"io"
	"time"

	"github.com/ProtonMail/mailstore/imap"
)

type Mailbox struct {
	ID            imap.MailboxID
	User          string
	Name          string
	UIDValidity   imap.UID
	LastUID       imap.UID
	HighestModSeq imap.ModSeq
	MessageCount  int64
	UnseenCount   int64
}

// MetaData is the part of a message needed to report its removal or its addition.
type MetaData struct {
	UID          imap.UID
	ModSeq       imap.ModSeq
	InternalDate time.Time
	Size         int64
	Flags        imap.FlagSet
}

// Message is a message record. Content is only set when the record was fetched with content.
type Message struct {
	MailboxID      imap.MailboxID
	UID            imap.UID
	ModSeq         imap.ModSeq
	InternalDate   time.Time
	Size           int64
	BodyStartOctet int64
	MediaType      string
	SubType        string
	Flags          imap.FlagSet
	Content        Content
}

func (m *Message) MetaData() MetaData {
	return MetaData{
		UID:          m.UID,
		ModSeq:       m.ModSeq,
		InternalDate: m.InternalDate,
		Size:         m.Size,
		Flags:        m.Flags,
	}
}

// AppendMessage is a message about to be added to a mailbox.
type AppendMessage struct {
	InternalDate time.Time
	Flags        imap.FlagSet
	MediaType    string
	SubType      string
	Header       io.Reader
	Body         io.Reader
}

type UpdatedFlags struct {
	UID      imap.UID
	OldFlags imap.FlagSet
	NewFlags imap.FlagSet
	ModSeq   imap.ModSeq
}

// Counters are the denormalized aggregates kept on the mailbox row.
type Counters struct {
	MessageCount int64
	UnseenCount  int64
}
