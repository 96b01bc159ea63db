package store

import (
	"time"

	"github.com/GoCodeAlone/pagelock/level"
)

// AuditAction classifies a lock mutation in the audit trail.
type AuditAction string

const (
	ActionLock   AuditAction = "lock"
	ActionModify AuditAction = "modify"
	ActionUnlock AuditAction = "unlock"
	ActionHide   AuditAction = "hide"
	ActionUnhide AuditAction = "unhide"
)

// ValidAuditActions is the set of valid audit action values.
var ValidAuditActions = map[AuditAction]bool{
	ActionLock:   true,
	ActionModify: true,
	ActionUnlock: true,
	ActionHide:   true,
	ActionUnhide: true,
}

// LockRecord is the persisted lock for an existing resource.
type LockRecord struct {
	ResourceID int64
	Level      level.Level
	AuditLogID int64
}

// CreateLock is the persisted lock for a pending resource.
type CreateLock struct {
	Namespace int
	Name      string
}

// RevisionLock marks one historical revision of an existing resource
// as hidden from non-privileged readers.
type RevisionLock struct {
	ResourceID int64
	RevisionID int64
}

// AuditEntry is one append-only record of a successful lock mutation.
// Entries are never updated or deleted by this engine.
type AuditEntry struct {
	ID          int64
	Action      AuditAction
	Resource    string
	Actor       string
	Reason      string
	OldLevel    level.Level
	NewLevel    level.Level
	RevisionIDs []int64
	CreatedAt   time.Time
}

// ChangeResult reports the outcome of a mutation.
type ChangeResult struct {
	// Changed is false when the requested state equals the current
	// state and nothing was written (no audit row either).
	Changed bool
	// OldLevel and NewLevel are set for level mutations.
	OldLevel level.Level
	NewLevel level.Level
	// AuditLogID identifies the audit row written for the change, or 0
	// when Changed is false.
	AuditLogID int64
}
