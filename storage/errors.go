package storage

import "errors"

// ErrUniqueViolation is returned by Store when a node's sharedHash collides
// with an existing row under the IS_UNIQUE rule (§4.3).
var ErrUniqueViolation = errors.New("storage: unique constraint violation")

// ErrBusy surfaces a SQLITE_BUSY-class contention error once retries are
// exhausted (§5, C8).
var ErrBusy = errors.New("storage: database busy")

// ErrLockTimeout surfaces a lock-wait timeout distinct from ErrBusy (driver
// gave up waiting rather than immediately refusing).
var ErrLockTimeout = errors.New("storage: lock wait timeout")

// ErrTimeout is a context-deadline timeout surfaced from a driver call.
var ErrTimeout = errors.New("storage: operation timed out")

// ErrPermissionDenied is returned when a write violates a parent node's
// child-write policy (§4.4, permission.go).
var ErrPermissionDenied = errors.New("storage: permission denied")

// ErrNotFound is returned by single-node fetches when no row matches.
var ErrNotFound = errors.New("storage: node not found")

// Root-eligibility rejection reasons (§4.4.2), surfaced verbatim by
// GetRootNode's callers.
const (
	ReasonRootNotFound               = "The root node is not found but expected to exist."
	ReasonRootAccessDenied           = "Access to requested root node is not allowed."
	ReasonRootLicensed               = "Licensed node cannot be used as root node."
	ReasonRootRestrictiveWriter      = "Begin restrictive writer mode node cannot be used as root node."
	ReasonRootHasRightsByAssociation = "Root node cannot use hasRightsByAssociation."
)
