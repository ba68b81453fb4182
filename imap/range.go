package imap

import "fmt"

type RangeType int

const (
	RangeAll RangeType = iota
	RangeOne
	RangeBetween
	RangeFrom
)

// MessageRange selects a subset of a mailbox's messages by UID.
type MessageRange struct {
	Type RangeType
	From UID
	To   UID
}

// All selects every message of the mailbox.
func All() MessageRange {
	return MessageRange{Type: RangeAll}
}

// One selects the message with the given UID, if any.
func One(uid UID) MessageRange {
	return MessageRange{Type: RangeOne, From: uid, To: uid}
}

// Range selects the messages with from <= UID <= to. The range is empty if from > to.
func Range(from, to UID) MessageRange {
	return MessageRange{Type: RangeBetween, From: from, To: to}
}

// From selects the messages with UID >= from.
func From(from UID) MessageRange {
	return MessageRange{Type: RangeFrom, From: from}
}

// IsEmpty returns true if the range can not match any message.
func (r MessageRange) IsEmpty() bool {
	return r.Type == RangeBetween && r.From > r.To
}

// Bounds returns the inclusive UID bounds of the range.
func (r MessageRange) Bounds() (UID, UID) {
	switch r.Type {
	case RangeOne:
		return r.From, r.From

	case RangeBetween:
		return r.From, r.To

	case RangeFrom:
		return r.From, UID(^uint32(0))

	default:
		return 0, UID(^uint32(0))
	}
}

// Contains returns true if the uid lies within the range.
func (r MessageRange) Contains(uid UID) bool {
	if r.IsEmpty() {
		return false
	}

	from, to := r.Bounds()

	return uid >= from && uid <= to
}

func (r MessageRange) String() string {
	switch r.Type {
	case RangeOne:
		return r.From.String()

	case RangeBetween:
		return fmt.Sprintf("%v:%v", r.From, r.To)

	case RangeFrom:
		return fmt.Sprintf("%v:*", r.From)

	default:
		return "1:*"
	}
}

// FetchType controls how much of a message is attached to the records returned by a lookup.
type FetchType int

const (
	FetchMetadata FetchType = iota
	FetchHeaders
	FetchBody
	FetchFull
)

func (f FetchType) WantsHeaders() bool {
	return f == FetchHeaders || f == FetchFull
}

func (f FetchType) WantsBody() bool {
	return f == FetchBody || f == FetchFull
}
