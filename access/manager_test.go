package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GoCodeAlone/pagelock/cache"
	"github.com/GoCodeAlone/pagelock/capability"
	"github.com/GoCodeAlone/pagelock/level"
	"github.com/GoCodeAlone/pagelock/resource"
	"github.com/GoCodeAlone/pagelock/store"
)

// After SetLevel, the next evaluation observes the new level, never a
// stale cached value (read-your-writes).
func TestManagerCacheCoherence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := resource.Existing(30)

	// Populate the cache with the unlocked state.
	result := mustEvaluate(t, f, Request{Resource: res, Principal: capability.Anonymous(), Operation: resource.OpEdit})
	if !result.Allowed {
		t.Fatalf("expected Allow before locking, got %+v", result)
	}

	if _, err := f.manager.SetLevel(ctx, res, level.Edit, "spam", "admin"); err != nil {
		t.Fatal(err)
	}

	result = mustEvaluate(t, f, Request{Resource: res, Principal: capability.Anonymous(), Operation: resource.OpEdit})
	if result.Allowed {
		t.Errorf("stale cache after SetLevel: %+v, want Deny", result)
	}

	lvl, err := f.evaluator.GetLevel(ctx, res)
	if err != nil {
		t.Fatal(err)
	}
	if lvl != level.Edit {
		t.Errorf("GetLevel after SetLevel = %q, want edit", lvl)
	}
}

func TestManagerRevisionCacheCoherence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{
		Resource:          resource.Existing(31),
		Principal:         capability.Anonymous(),
		Operation:         resource.OpRead,
		RevisionID:        310,
		CurrentRevisionID: 320,
	}

	// Prime the revision cache with the visible state.
	if result := mustEvaluate(t, f, req); !result.Allowed {
		t.Fatal("expected Allow before hiding")
	}

	if _, err := f.manager.SetRevisionHidden(ctx, 31, 310, true, "", "admin"); err != nil {
		t.Fatal(err)
	}
	if result := mustEvaluate(t, f, req); result.Allowed {
		t.Errorf("stale revision cache after hide: %+v, want Deny", result)
	}

	if _, err := f.manager.SetRevisionHidden(ctx, 31, 310, false, "", "admin"); err != nil {
		t.Fatal(err)
	}
	if result := mustEvaluate(t, f, req); !result.Allowed {
		t.Errorf("stale revision cache after unhide: %+v, want Allow", result)
	}
}

func TestManagerDeleteResource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := resource.Existing(32)

	if _, err := f.manager.SetLevel(ctx, res, level.Read, "", "admin"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.manager.SetRevisionHidden(ctx, 32, 321, true, "", "admin"); err != nil {
		t.Fatal(err)
	}

	// Prime caches with the locked state.
	mustEvaluate(t, f, Request{Resource: res, Principal: capability.Anonymous(), Operation: resource.OpRead})

	if err := f.manager.DeleteResource(ctx, 32); err != nil {
		t.Fatalf("DeleteResource: %v", err)
	}

	result := mustEvaluate(t, f, Request{Resource: res, Principal: capability.Anonymous(), Operation: resource.OpRead})
	if !result.Allowed {
		t.Errorf("after deletion: %+v, want Allow", result)
	}
	result = mustEvaluate(t, f, Request{
		Resource: res, Principal: capability.Anonymous(), Operation: resource.OpRead,
		RevisionID: 321, CurrentRevisionID: 322,
	})
	if !result.Allowed {
		t.Errorf("revision after deletion: %+v, want Allow", result)
	}
}

func TestManagerNoChangeSkipsInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := resource.Existing(33)

	if _, err := f.manager.SetLevel(ctx, res, level.Edit, "", "admin"); err != nil {
		t.Fatal(err)
	}
	cr, err := f.manager.SetLevel(ctx, res, level.Edit, "", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if cr.Changed {
		t.Error("expected NoChange")
	}
}

func TestManagerInvalidLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.SetLevel(ctx, resource.Existing(34), level.Create, "", "admin")
	if !errors.Is(err, store.ErrInvalidLevel) {
		t.Errorf("err = %v, want ErrInvalidLevel", err)
	}
}

// failingStore simulates an unavailable backend: every read errors.
type failingStore struct{}

var errStorageDown = errors.New("storage down")

func (failingStore) GetLevel(context.Context, resource.Resource) (level.Level, error) {
	return level.None, errStorageDown
}

func (failingStore) SetLevel(context.Context, resource.Resource, level.Level, string, string) (store.ChangeResult, error) {
	return store.ChangeResult{}, errStorageDown
}

func (failingStore) IsRevisionHidden(context.Context, int64) (bool, error) {
	return false, errStorageDown
}

func (failingStore) HiddenRevisions(context.Context, int64) ([]int64, error) {
	return nil, errStorageDown
}

func (failingStore) SetRevisionHidden(context.Context, int64, int64, bool, string, string) (store.ChangeResult, error) {
	return store.ChangeResult{}, errStorageDown
}

func (failingStore) DeleteResource(context.Context, int64) ([]int64, error) {
	return nil, errStorageDown
}

func (failingStore) SetReadOnly(bool) {}

// A storage failure during evaluation fails closed: the result denies
// and the error propagates.
func TestEvaluateFailsClosedOnStorageError(t *testing.T) {
	c := cache.New(cache.NewMemoryBackend(10), time.Minute)
	ev := NewEvaluator(failingStore{}, c, capability.NewGroups(), nil)

	for _, op := range []resource.Operation{resource.OpRead, resource.OpEdit} {
		result, err := ev.Evaluate(context.Background(), Request{
			Resource:  resource.Existing(40),
			Principal: capability.Anonymous(),
			Operation: op,
		})
		if !errors.Is(err, errStorageDown) {
			t.Errorf("%s: err = %v, want storage error", op, err)
		}
		if result.Allowed {
			t.Errorf("%s: allowed on storage failure, must fail closed", op)
		}
	}
}
