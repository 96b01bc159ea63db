// Package access orchestrates lock evaluation and mutation. The
// Evaluator turns (resource, principal, operation) into an allow/deny
// decision; the Manager applies lock changes, keeping cache and audit
// trail in step with the store.
package access

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GoCodeAlone/pagelock/cache"
	"github.com/GoCodeAlone/pagelock/capability"
	"github.com/GoCodeAlone/pagelock/level"
	"github.com/GoCodeAlone/pagelock/resource"
	"github.com/GoCodeAlone/pagelock/store"
)

// Request carries the three evaluation inputs plus optional revision
// context for read/edit of a specific historical revision.
type Request struct {
	Resource  resource.Resource
	Principal capability.Principal
	Operation resource.Operation

	// RevisionID is the historical revision being accessed, or 0 when
	// the request targets the resource's current content.
	RevisionID int64
	// CurrentRevisionID is the resource's latest revision id. The
	// current revision is unconditionally exempt from revision locks.
	CurrentRevisionID int64
	// HostSuppressed marks the revision as already suppressed by the
	// host platform's own visibility system, which then governs; the
	// engine's revision lock check is skipped.
	HostSuppressed bool
}

// Evaluator is the stateless decision engine. All dependencies are
// injected; it holds no mutable state of its own.
type Evaluator struct {
	store  store.LockStore
	cache  *cache.LockCache
	groups *capability.Groups
	log    *slog.Logger
}

// NewEvaluator wires an Evaluator from its collaborators. A nil logger
// selects slog.Default().
func NewEvaluator(st store.LockStore, c *cache.LockCache, groups *capability.Groups, log *slog.Logger) *Evaluator {
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{store: st, cache: c, groups: groups, log: log}
}

// Evaluate decides whether the principal may perform the operation on
// the resource. Storage and cache failures fail closed: the returned
// Result denies, and the error propagates for the caller to report.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Result, error) {
	if !resource.ValidOperations[req.Operation] {
		return Result{}, fmt.Errorf("access: unknown operation %q", req.Operation)
	}

	// Holders of the umbrella management capability bypass everything.
	if req.Principal.IsManager() {
		return Allow(), nil
	}

	// Host utility pages have no persistent identity and no lock state.
	if req.Resource.Phase() == resource.PhaseVirtual {
		return Allow(), nil
	}

	// Reading or editing an item that does not exist is governed by the
	// host's own missing-page handling; only creation is evaluated.
	if req.Resource.Phase() == resource.PhasePending && req.Operation != resource.OpCreate {
		return Allow(), nil
	}

	lvl, err := e.resolveLevel(ctx, req.Resource)
	if err != nil {
		return Deny(LevelReason(level.None), nil), fmt.Errorf("access: resolve level for %s: %w", req.Resource, err)
	}

	if lvl != level.None {
		requirement := capability.RequiredCapability(lvl, req.Operation)
		switch requirement.Kind {
		case capability.Unconditional:
			// The level does not restrict this operation.
		case capability.Unsatisfiable:
			return Deny(LevelReason(lvl), nil), nil
		case capability.Needs:
			if !req.Principal.Has(requirement.Token) {
				return Deny(LevelReason(lvl), e.groups.Holders(requirement.Token)), nil
			}
		}
	}

	if denied, err := e.revisionDenied(ctx, req); err != nil {
		return Deny(ReasonRevisionLocked, nil), fmt.Errorf("access: revision check for %s: %w", req.Resource, err)
	} else if denied {
		return Deny(ReasonRevisionLocked, e.groups.Holders(capability.ViewHiddenRevisions)), nil
	}

	return Allow(), nil
}

// GetLevel returns the resource's lock level through the cache.
func (e *Evaluator) GetLevel(ctx context.Context, res resource.Resource) (level.Level, error) {
	return e.resolveLevel(ctx, res)
}

func (e *Evaluator) resolveLevel(ctx context.Context, res resource.Resource) (level.Level, error) {
	key := cache.KeyFor(res)
	if key == "" {
		return level.None, nil
	}
	bits, err := e.cache.GetOrLoad(ctx, key, func(ctx context.Context) (uint64, error) {
		lvl, err := e.store.GetLevel(ctx, res)
		if err != nil {
			return 0, err
		}
		return lvl.Bits(), nil
	})
	if err != nil {
		return level.None, err
	}
	return level.FromBits(bits), nil
}

// revisionDenied applies the revision lock check for read/edit of one
// specific historical revision. The current revision is exempt before
// any hidden-state lookup; a revision the host already suppresses is
// the host's to govern.
func (e *Evaluator) revisionDenied(ctx context.Context, req Request) (bool, error) {
	if req.Resource.Phase() != resource.PhaseExisting {
		return false, nil
	}
	if req.Operation != resource.OpRead && req.Operation != resource.OpEdit {
		return false, nil
	}
	if req.RevisionID == 0 || req.RevisionID == req.CurrentRevisionID {
		return false, nil
	}
	if req.HostSuppressed {
		return false, nil
	}
	if req.Principal.Has(capability.ViewHiddenRevisions) {
		return false, nil
	}

	bits, err := e.cache.GetOrLoad(ctx, cache.RevisionKey(req.RevisionID), func(ctx context.Context) (uint64, error) {
		hidden, err := e.store.IsRevisionHidden(ctx, req.RevisionID)
		if err != nil {
			return 0, err
		}
		if hidden {
			return 1, nil
		}
		return 0, nil
	})
	if err != nil {
		return false, err
	}
	return bits == 1, nil
}
