// Package resource identifies the content items the lock engine
// operates on. A resource is either Existing (it has a stable integer
// id assigned by the host at creation), Pending (identified by a
// namespace+name pair before the item exists) or Virtual (host utility
// pages with no persistent identity at all).
package resource

import (
	"fmt"
	"strconv"
)

// Phase is the lifecycle phase of a resource.
type Phase string

const (
	PhaseExisting Phase = "existing"
	PhasePending  Phase = "pending"
	PhaseVirtual  Phase = "virtual"
)

// Operation is an access operation a principal may attempt.
type Operation string

const (
	OpRead   Operation = "read"
	OpEdit   Operation = "edit"
	OpCreate Operation = "create"
)

// ValidOperations is the set of recognized operations.
var ValidOperations = map[Operation]bool{
	OpRead:   true,
	OpEdit:   true,
	OpCreate: true,
}

// Resource identifies a content item. The zero value is not a valid
// resource; use Existing, Pending or Virtual.
type Resource struct {
	phase     Phase
	id        int64
	namespace int
	name      string
}

// Existing returns a resource for an item that already has an id.
func Existing(id int64) Resource {
	return Resource{phase: PhaseExisting, id: id}
}

// Pending returns a resource for an item that does not exist yet,
// identified by its namespace and name.
func Pending(namespace int, name string) Resource {
	return Resource{phase: PhasePending, namespace: namespace, name: name}
}

// Virtual returns a resource for a host utility page with no
// persistent identity. Virtual resources are never locked.
func Virtual(name string) Resource {
	return Resource{phase: PhaseVirtual, name: name}
}

// Phase returns the lifecycle phase.
func (r Resource) Phase() Phase { return r.phase }

// ID returns the integer identity of an Existing resource, or 0.
func (r Resource) ID() int64 { return r.id }

// Namespace returns the namespace of a Pending resource.
func (r Resource) Namespace() int { return r.namespace }

// Name returns the name of a Pending or Virtual resource.
func (r Resource) Name() string { return r.name }

// String returns a human-readable identity for logs and audit records.
func (r Resource) String() string {
	switch r.phase {
	case PhaseExisting:
		return "#" + strconv.FormatInt(r.id, 10)
	case PhasePending:
		return fmt.Sprintf("%d:%s", r.namespace, r.name)
	default:
		return "virtual:" + r.name
	}
}
