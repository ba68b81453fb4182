package mailbox

import "github.com/ProtonMail/mailstore/imap"

// FlagsTransform computes the new flags of a message from its current ones. It must not mutate its argument.
type FlagsTransform func(imap.FlagSet) imap.FlagSet

func AddFlags(flags ...string) FlagsTransform {
	return func(cur imap.FlagSet) imap.FlagSet {
		return cur.Add(flags...)
	}
}

func RemoveFlags(flags ...string) FlagsTransform {
	return func(cur imap.FlagSet) imap.FlagSet {
		return cur.Remove(flags...)
	}
}

// ReplaceFlags sets the flags of the message. \Recent is not client settable and is kept as is.
func ReplaceFlags(flags ...string) FlagsTransform {
	return func(cur imap.FlagSet) imap.FlagSet {
		return imap.NewFlagSet(flags...).Remove(imap.FlagRecent).Set(imap.FlagRecent, cur.Contains(imap.FlagRecent))
	}
}
