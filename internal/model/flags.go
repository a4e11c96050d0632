package model

import (
	"sort"
	"strings"
)

// Flag is a single message flag. The well-known IMAP system flags have
// constants below; any other value is treated as a free-form keyword.
type Flag string

const (
	FlagSeen     Flag = "\\Seen"
	FlagAnswered Flag = "\\Answered"
	FlagFlagged  Flag = "\\Flagged"
	FlagDeleted  Flag = "\\Deleted"
	FlagDraft    Flag = "\\Draft"
)

// FlagSet is an unordered set of message flags.
type FlagSet map[Flag]struct{}

// NewFlagSet builds a FlagSet from the given flags.
func NewFlagSet(flags ...Flag) FlagSet {
	fs := make(FlagSet, len(flags))
	for _, f := range flags {
		fs[f] = struct{}{}
	}
	return fs
}

// ParseFlagSet parses the canonical space-separated encoding produced
// by String. An empty string yields an empty set.
func ParseFlagSet(s string) FlagSet {
	fs := make(FlagSet)
	for _, part := range strings.Fields(s) {
		fs[Flag(part)] = struct{}{}
	}
	return fs
}

// Has reports whether f is in the set.
func (fs FlagSet) Has(f Flag) bool {
	_, ok := fs[f]
	return ok
}

// Add inserts f into the set.
func (fs FlagSet) Add(f Flag) {
	fs[f] = struct{}{}
}

// Remove deletes f from the set.
func (fs FlagSet) Remove(f Flag) {
	delete(fs, f)
}

// Clone returns an independent copy of the set.
func (fs FlagSet) Clone() FlagSet {
	out := make(FlagSet, len(fs))
	for f := range fs {
		out[f] = struct{}{}
	}
	return out
}

// Union returns a new set containing every flag present in either set.
func (fs FlagSet) Union(other FlagSet) FlagSet {
	out := fs.Clone()
	for f := range other {
		out[f] = struct{}{}
	}
	return out
}

// Diff returns the flags present in fs but absent from other.
func (fs FlagSet) Diff(other FlagSet) FlagSet {
	out := make(FlagSet)
	for f := range fs {
		if !other.Has(f) {
			out[f] = struct{}{}
		}
	}
	return out
}

// Equal reports whether both sets contain exactly the same flags.
func (fs FlagSet) Equal(other FlagSet) bool {
	if len(fs) != len(other) {
		return false
	}
	for f := range fs {
		if !other.Has(f) {
			return false
		}
	}
	return true
}

// Slice returns the flags in sorted order.
func (fs FlagSet) Slice() []Flag {
	out := make([]Flag, 0, len(fs))
	for f := range fs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String returns the canonical space-separated encoding, with flags
// sorted so equal sets encode identically.
func (fs FlagSet) String() string {
	flags := fs.Slice()
	parts := make([]string, len(flags))
	for i, f := range flags {
		parts[i] = string(f)
	}
	return strings.Join(parts, " ")
}
