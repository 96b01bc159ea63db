package access

import "github.com/GoCodeAlone/pagelock/level"

// Reason explains a denial: the lock level name, or "revision-locked"
// when a hidden historical revision was requested.
type Reason string

// ReasonRevisionLocked denies access to one hidden historical
// revision, orthogonal to the resource-level lock.
const ReasonRevisionLocked Reason = "revision-locked"

// LevelReason converts a lock level into a denial reason.
func LevelReason(l level.Level) Reason { return Reason(l) }

// Result is the outcome of an evaluation. Deny is a value, never an
// error; only infrastructure failures travel the error path.
type Result struct {
	// Allowed reports whether the operation may proceed.
	Allowed bool `json:"allowed"`
	// Reason is set on denial.
	Reason Reason `json:"reason,omitempty"`
	// BypassGroups names the groups holding the capability that would
	// have allowed the operation, for the caller's denial message.
	// Empty on an unsatisfiable denial: no one short of an
	// administrator can perform the operation.
	BypassGroups []string `json:"bypass_groups,omitempty"`
}

// Allow is the permissive result.
func Allow() Result { return Result{Allowed: true} }

// Deny builds a denial with the given reason and bypass groups.
func Deny(reason Reason, bypassGroups []string) Result {
	return Result{Allowed: false, Reason: reason, BypassGroups: bypassGroups}
}
