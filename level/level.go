// Package level defines the fixed enumeration of lock levels, their
// compact bit encoding and their restriction ordering.
//
// Each non-none level carries a distinct power-of-two bit so a future
// schema revision could store composite restrictions, though current
// semantics hold at most one level per resource.
package level

import (
	"fmt"

	"github.com/GoCodeAlone/pagelock/resource"
)

// Level is the access restriction applied to a resource.
type Level string

const (
	None     Level = "none"
	ReadFull Level = "read-full"
	ReadSemi Level = "read-semi"
	Read     Level = "read"
	EditFull Level = "edit-full"
	EditSemi Level = "edit-semi"
	Edit     Level = "edit"
	Create   Level = "create"
)

// Bit values. Ordered by increasing restriction so that a larger bit
// always means a stricter level.
const (
	bitReadFull uint64 = 1 << iota
	bitReadSemi
	bitRead
	bitEditFull
	bitEditSemi
	bitEdit
	bitCreate
)

var levelBits = map[Level]uint64{
	None:     0,
	ReadFull: bitReadFull,
	ReadSemi: bitReadSemi,
	Read:     bitRead,
	EditFull: bitEditFull,
	EditSemi: bitEditSemi,
	Edit:     bitEdit,
	Create:   bitCreate,
}

var bitLevels = map[uint64]Level{
	bitReadFull: ReadFull,
	bitReadSemi: ReadSemi,
	bitRead:     Read,
	bitEditFull: EditFull,
	bitEditSemi: EditSemi,
	bitEdit:     Edit,
	bitCreate:   Create,
}

// rank orders levels by restriction: create > edit > edit-semi >
// edit-full > read > read-semi > read-full > none. The source system
// carried two inconsistent orderings; this one is canonical here.
var rank = map[Level]int{
	None:     0,
	ReadFull: 1,
	ReadSemi: 2,
	Read:     3,
	EditFull: 4,
	EditSemi: 5,
	Edit:     6,
	Create:   7,
}

// All lists every level from least to most restrictive.
func All() []Level {
	return []Level{None, ReadFull, ReadSemi, Read, EditFull, EditSemi, Edit, Create}
}

// FromBits decodes a stored bit pattern into a level. Unrecognized
// patterns decode to None rather than to an arbitrary level.
func FromBits(bits uint64) Level {
	if l, ok := bitLevels[bits]; ok {
		return l
	}
	return None
}

// Bits returns the compact encoding of the level. Unknown levels
// encode as 0 (None); use Parse to validate names first.
func (l Level) Bits() uint64 {
	return levelBits[l]
}

// Valid reports whether l names a declared level.
func (l Level) Valid() bool {
	_, ok := levelBits[l]
	return ok
}

// Parse converts a level name to a Level, rejecting unknown names.
func Parse(s string) (Level, error) {
	l := Level(s)
	if !l.Valid() {
		return None, fmt.Errorf("level: unknown level %q", s)
	}
	return l, nil
}

// FullBitmask returns the OR of every level bit. Store initialization
// code uses it as the "record absent / fully restricted" sentinel.
func FullBitmask() uint64 {
	return bitReadFull | bitReadSemi | bitRead | bitEditFull | bitEditSemi | bitEdit | bitCreate
}

// Compare orders two levels by restriction. It returns a negative
// value when a is less restrictive than b, zero when equal, and a
// positive value when a is more restrictive.
func Compare(a, b Level) int {
	return rank[a] - rank[b]
}

// AllowedFor reports whether l may be assigned to a resource in the
// given phase. Create locks only apply to pending resources; every
// other non-none level only applies to existing ones. None clears a
// lock and is valid for both.
func AllowedFor(l Level, phase resource.Phase) bool {
	if !l.Valid() {
		return false
	}
	switch l {
	case None:
		return phase == resource.PhaseExisting || phase == resource.PhasePending
	case Create:
		return phase == resource.PhasePending
	default:
		return phase == resource.PhaseExisting
	}
}

// AllowedLevels returns the levels assignable to a resource in the
// given phase, ordered from least to most restrictive. UI level menus
// are built from this.
func AllowedLevels(phase resource.Phase) []Level {
	var out []Level
	for _, l := range All() {
		if AllowedFor(l, phase) {
			out = append(out, l)
		}
	}
	return out
}
