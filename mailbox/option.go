package mailbox

import (
	"time"

	"github.com/ProtonMail/mailstore/imap"
)

type AppendOption interface {
	config(*AppendMessage)
}

func WithFlags(flags imap.FlagSet) AppendOption {
	return &withFlags{flags: flags}
}

type withFlags struct {
	flags imap.FlagSet
}

func (opt withFlags) config(msg *AppendMessage) {
	msg.Flags = opt.flags
}

func WithInternalDate(date time.Time) AppendOption {
	return &withInternalDate{date: date}
}

type withInternalDate struct {
	date time.Time
}

func (opt withInternalDate) config(msg *AppendMessage) {
	msg.InternalDate = opt.date
}
