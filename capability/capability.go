// Package capability encodes the business policy of the lock engine:
// which capability, if any, exempts a principal from a lock level for a
// given operation. The whole policy lives in one reviewable table.
package capability

import (
	"github.com/GoCodeAlone/pagelock/level"
	"github.com/GoCodeAlone/pagelock/resource"
)

// Token names a capability a principal may hold. Capabilities are a
// host-platform concept; this engine consumes them, it does not grant
// them.
type Token string

const (
	// Lockdown is the umbrella management capability. Holders manage
	// locks and bypass every check in the evaluator.
	Lockdown Token = "lockdown"

	// ViewHiddenRevisions exempts a principal from revision locks.
	ViewHiddenRevisions Token = "view-hidden-revisions"

	BypassReadLock     Token = "bypass-read-lock"
	BypassReadSemiLock Token = "bypass-read-semi-lock"
	BypassReadFullLock Token = "bypass-read-full-lock"
	BypassEditLock     Token = "bypass-edit-lock"
	BypassEditSemiLock Token = "bypass-edit-semi-lock"
	BypassEditFullLock Token = "bypass-edit-full-lock"
)

// Kind classifies a Requirement.
type Kind int

const (
	// Unconditional means the level does not restrict the operation.
	Unconditional Kind = iota
	// Needs means the principal must hold Requirement.Token.
	Needs
	// Unsatisfiable means no capability short of the umbrella
	// Lockdown capability exempts the operation at this level.
	Unsatisfiable
)

// Requirement is the outcome of a policy lookup.
type Requirement struct {
	Kind  Kind
	Token Token
}

func unconditional() Requirement { return Requirement{Kind: Unconditional} }
func needs(t Token) Requirement  { return Requirement{Kind: Needs, Token: t} }
func unsatisfiable() Requirement { return Requirement{Kind: Unsatisfiable} }

// policy is the single place the level x operation mapping is encoded.
//
// Read locks restrict both reading and editing (editing implies
// reading); edit locks leave reading unrestricted. A create lock can
// only be overridden by the umbrella capability, so its create row is
// Unsatisfiable. Missing rows mean Unconditional.
var policy = map[level.Level]map[resource.Operation]Requirement{
	level.Read: {
		resource.OpRead: needs(BypassReadLock),
		resource.OpEdit: needs(BypassReadLock),
	},
	level.ReadSemi: {
		resource.OpRead: needs(BypassReadSemiLock),
		resource.OpEdit: needs(BypassReadSemiLock),
	},
	level.ReadFull: {
		resource.OpRead: needs(BypassReadFullLock),
		resource.OpEdit: needs(BypassReadFullLock),
	},
	level.Edit: {
		resource.OpEdit: needs(BypassEditLock),
	},
	level.EditSemi: {
		resource.OpEdit: needs(BypassEditSemiLock),
	},
	level.EditFull: {
		resource.OpEdit: needs(BypassEditFullLock),
	},
	level.Create: {
		resource.OpCreate: unsatisfiable(),
	},
}

// RequiredCapability returns the requirement a principal must meet to
// perform op on a resource locked at lvl. It is total over the
// declared enumerations: unknown pairs fall through to Unconditional,
// matching the absence of a restriction.
func RequiredCapability(lvl level.Level, op resource.Operation) Requirement {
	if ops, ok := policy[lvl]; ok {
		if req, ok := ops[op]; ok {
			return req
		}
	}
	return unconditional()
}
