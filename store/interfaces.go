package store

import (
	"context"
	"time"

	"github.com/GoCodeAlone/pagelock/level"
	"github.com/GoCodeAlone/pagelock/resource"
)

// LockStore defines persistence operations for resource locks and
// revision locks. Absence of a record reads as level.None. Storage
// failures are returned wrapped; callers evaluating access must treat
// them as deny, never as unlocked.
type LockStore interface {
	// GetLevel returns the current lock level for a resource. An
	// existing resource with no record, or a pending resource with no
	// create lock, reads as level.None.
	GetLevel(ctx context.Context, res resource.Resource) (level.Level, error)

	// SetLevel applies newLevel to the resource, writing an audit row
	// in the same transaction. Setting the current level again is a
	// no-op reported via ChangeResult.Changed=false with no audit row.
	SetLevel(ctx context.Context, res resource.Resource, newLevel level.Level, reason, actor string) (ChangeResult, error)

	// IsRevisionHidden reports whether the revision is hidden.
	IsRevisionHidden(ctx context.Context, revisionID int64) (bool, error)

	// HiddenRevisions returns every hidden revision of a resource.
	HiddenRevisions(ctx context.Context, resourceID int64) ([]int64, error)

	// SetRevisionHidden hides or unhides one revision. The upsert is
	// atomic per (resource, revision); Changed=false reports a no-op
	// (hiding an already hidden revision, unhiding a visible one).
	SetRevisionHidden(ctx context.Context, resourceID, revisionID int64, hidden bool, reason, actor string) (ChangeResult, error)

	// DeleteResource removes the lock record and all revision locks
	// for a deleted resource, returning the revision ids that were
	// hidden so the caller can invalidate their cache entries.
	DeleteResource(ctx context.Context, resourceID int64) ([]int64, error)

	// SetReadOnly toggles global read-only mode. While set, every
	// mutation fails fast with ErrReadOnly.
	SetReadOnly(readOnly bool)
}

// AuditFilter specifies criteria for querying the audit trail.
type AuditFilter struct {
	Action   AuditAction
	Resource string
	Actor    string
	Since    *time.Time
	Limit    int
}

// AuditStore defines read access to the persisted audit trail. Rows
// are written by LockStore mutations; nothing updates or deletes them.
type AuditStore interface {
	Query(ctx context.Context, f AuditFilter) ([]*AuditEntry, error)
}
