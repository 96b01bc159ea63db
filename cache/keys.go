package cache

import (
	"fmt"
	"strconv"

	"github.com/GoCodeAlone/pagelock/resource"
)

// Cache keys are namespaced by kind so the three cached concepts
// (resource locks, create locks, revision locks) never collide.

// ResourceKey is the cache key for an existing resource's lock level.
func ResourceKey(resourceID int64) string {
	return "lock:" + strconv.FormatInt(resourceID, 10)
}

// CreateKey is the cache key for a pending resource's create lock.
func CreateKey(namespace int, name string) string {
	return fmt.Sprintf("lock:create:%d:%s", namespace, name)
}

// RevisionKey is the cache key for one revision's hidden state.
func RevisionKey(revisionID int64) string {
	return "lock:revision:" + strconv.FormatInt(revisionID, 10)
}

// KeyFor returns the lock-level cache key for a resource, or "" for
// virtual resources, which are never cached.
func KeyFor(res resource.Resource) string {
	switch res.Phase() {
	case resource.PhaseExisting:
		return ResourceKey(res.ID())
	case resource.PhasePending:
		return CreateKey(res.Namespace(), res.Name())
	default:
		return ""
	}
}
