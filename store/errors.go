package store

import "errors"

// Sentinel errors for store operations.
var (
	// ErrInvalidLevel rejects a level not assignable to the resource's
	// lifecycle phase. Raised before any write.
	ErrInvalidLevel = errors.New("level not valid for resource phase")

	// ErrReadOnly rejects mutations while the storage layer is in
	// global read-only mode. Raised before any transaction is opened.
	ErrReadOnly = errors.New("storage is read-only")

	// ErrNotFound reports a missing record where one was required.
	ErrNotFound = errors.New("not found")
)
