package access

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GoCodeAlone/pagelock/audit"
	"github.com/GoCodeAlone/pagelock/cache"
	"github.com/GoCodeAlone/pagelock/level"
	"github.com/GoCodeAlone/pagelock/resource"
	"github.com/GoCodeAlone/pagelock/store"
)

// Manager is the mutation path: it persists lock changes, invalidates
// the affected cache keys before reporting success (read-your-writes),
// and mirrors each change to the operational audit stream.
type Manager struct {
	store store.LockStore
	cache *cache.LockCache
	audit *audit.Logger
	log   *slog.Logger
}

// NewManager wires a Manager from its collaborators. A nil audit
// logger disables the operational stream; a nil logger selects
// slog.Default().
func NewManager(st store.LockStore, c *cache.LockCache, auditLog *audit.Logger, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: st, cache: c, audit: auditLog, log: log}
}

// SetLevel applies a lock level to a resource. The store validates the
// level against the resource's phase and performs the change in one
// transaction; the corresponding cache key is invalidated before this
// call returns success.
func (m *Manager) SetLevel(ctx context.Context, res resource.Resource, newLevel level.Level, reason, actor string) (store.ChangeResult, error) {
	cr, err := m.store.SetLevel(ctx, res, newLevel, reason, actor)
	if err != nil {
		return store.ChangeResult{}, err
	}
	if !cr.Changed {
		return cr, nil
	}

	if err := m.cache.Invalidate(ctx, cache.KeyFor(res)); err != nil {
		// The write committed but readers may still see the old level;
		// the caller must not treat this as success.
		return store.ChangeResult{}, fmt.Errorf("invalidate %s after level change: %w", res, err)
	}

	if m.audit != nil {
		m.audit.LogLevelChange(ctx, levelAction(cr), res.String(), actor, reason, cr.OldLevel, cr.NewLevel, cr.AuditLogID)
	}
	m.log.Info("lock level changed",
		"resource", res.String(), "old", cr.OldLevel, "new", cr.NewLevel, "actor", actor)
	return cr, nil
}

// SetRevisionHidden hides or unhides one historical revision. The
// revision's cache key is invalidated before success is reported.
func (m *Manager) SetRevisionHidden(ctx context.Context, resourceID, revisionID int64, hidden bool, reason, actor string) (store.ChangeResult, error) {
	cr, err := m.store.SetRevisionHidden(ctx, resourceID, revisionID, hidden, reason, actor)
	if err != nil {
		return store.ChangeResult{}, err
	}
	if !cr.Changed {
		return cr, nil
	}

	if err := m.cache.Invalidate(ctx, cache.RevisionKey(revisionID)); err != nil {
		return store.ChangeResult{}, fmt.Errorf("invalidate revision %d: %w", revisionID, err)
	}

	action := store.ActionHide
	if !hidden {
		action = store.ActionUnhide
	}
	if m.audit != nil {
		m.audit.LogRevisionChange(ctx, action, resource.Existing(resourceID).String(), actor, reason, []int64{revisionID}, cr.AuditLogID)
	}
	m.log.Info("revision visibility changed",
		"resource_id", resourceID, "revision_id", revisionID, "hidden", hidden, "actor", actor)
	return cr, nil
}

// DeleteResource removes all lock state for a deleted resource and
// invalidates its cache keys, including one per hidden revision.
func (m *Manager) DeleteResource(ctx context.Context, resourceID int64) error {
	revisionIDs, err := m.store.DeleteResource(ctx, resourceID)
	if err != nil {
		return err
	}

	if err := m.cache.Invalidate(ctx, cache.ResourceKey(resourceID)); err != nil {
		return fmt.Errorf("invalidate resource %d: %w", resourceID, err)
	}
	for _, revID := range revisionIDs {
		if err := m.cache.Invalidate(ctx, cache.RevisionKey(revID)); err != nil {
			return fmt.Errorf("invalidate revision %d: %w", revID, err)
		}
	}

	m.log.Info("lock state removed for deleted resource",
		"resource_id", resourceID, "hidden_revisions", len(revisionIDs))
	return nil
}

func levelAction(cr store.ChangeResult) store.AuditAction {
	switch {
	case cr.OldLevel == level.None:
		return store.ActionLock
	case cr.NewLevel == level.None:
		return store.ActionUnlock
	default:
		return store.ActionModify
	}
}
