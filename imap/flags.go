package imap

import (
	"strings"

	"github.com/bradenaw/juniper/xslices"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	FlagSeen     = `\Seen`
	FlagAnswered = `\Answered`
	FlagFlagged  = `\Flagged`
	FlagDeleted  = `\Deleted`
	FlagDraft    = `\Draft`
	FlagRecent   = `\Recent` // Read-only!.
)

// SystemFlags lists the flags every mailbox supports, in the order they are stored.
var SystemFlags = []string{FlagAnswered, FlagDeleted, FlagDraft, FlagFlagged, FlagRecent, FlagSeen}

// IsSystemFlag returns true if the flag is one of the predefined IMAP flags.
func IsSystemFlag(flag string) bool {
	return strings.HasPrefix(flag, `\`) && xslices.IndexFunc(SystemFlags, func(f string) bool {
		return strings.EqualFold(f, flag)
	}) >= 0
}

// FlagSet represents a set of IMAP flags. Flags are case-insensitive and no duplicates are allowed.
type FlagSet map[string]string

// NewFlagSet creates a flag set containing the specified flags.
func NewFlagSet(flags ...string) FlagSet {
	fs := make(FlagSet)

	for _, item := range flags {
		fs.add(item)
	}

	return fs
}

// Len returns the number of flags in the flag set.
func (fs FlagSet) Len() int {
	return len(fs)
}

// ToSlice Returns the list of flags in the set as a sorted string slice. The returned list is a hard copy of the internal
// slice to avoid direct modifications of the FlagSet value that would break the uniqueness and case insensitivity rules.
func (fs FlagSet) ToSlice() []string {
	flags := maps.Values(fs)

	slices.Sort(flags)

	return flags
}

// Keywords returns the user defined flags of the set, sorted.
func (fs FlagSet) Keywords() []string {
	return xslices.Filter(fs.ToSlice(), func(flag string) bool {
		return !IsSystemFlag(flag)
	})
}

// Contains returns true if and only if the flag is in the set.
func (fs FlagSet) Contains(flag string) bool {
	_, ok := fs[strings.ToLower(flag)]
	return ok
}

// ContainsAny returns true if and only if any of the flags are in the set.
func (fs FlagSet) ContainsAny(flags ...string) bool {
	return xslices.IndexFunc(flags, func(f string) bool {
		return fs.Contains(f)
	}) >= 0
}

// Equals returns true if and only if the two sets are equal (same number of elements and each element of fs is also in otherFs).
func (fs FlagSet) Equals(otherFs FlagSet) bool {
	if fs.Len() != otherFs.Len() {
		return false
	}

	for key := range fs {
		if _, ok := otherFs[key]; !ok {
			return false
		}
	}

	return true
}

// Add adds new flags to the flag set. The case of existing elements is preserved.
func (fs FlagSet) Add(flags ...string) FlagSet {
	return fs.Clone().add(flags...)
}

func (fs FlagSet) add(flags ...string) FlagSet {
	for _, flag := range flags {
		flagLower := strings.ToLower(flag)

		if _, ok := fs[flagLower]; ok {
			continue
		}

		fs[flagLower] = flag
	}

	return fs
}

// Set ensures the flagset either contains or does not contain the given flag.
func (fs FlagSet) Set(flag string, on bool) FlagSet {
	if on {
		return fs.Add(flag)
	}

	return fs.Remove(flag)
}

// Remove removes a list of flags from the set.
func (fs FlagSet) Remove(flags ...string) FlagSet {
	return fs.Clone().remove(flags...)
}

func (fs FlagSet) remove(flags ...string) FlagSet {
	for _, flag := range flags {
		delete(fs, strings.ToLower(flag))
	}

	return fs
}

// Clone creates a hard copy of the flag set.
func (fs FlagSet) Clone() FlagSet {
	return NewFlagSet(fs.ToSlice()...)
}

func (fs FlagSet) String() string {
	return "(" + strings.Join(fs.ToSlice(), " ") + ")"
}
