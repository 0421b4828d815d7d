package knowledge

import "errors"

// Sentinel errors shared by all triple store implementations. Callers match
// them with [errors.Is]; implementations wrap them with operation context.
var (
	// ErrInvalidArgument is returned for null or empty required inputs,
	// malformed queries, and out-of-order version ranges.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned for unknown triple IDs, snapshot names, and
	// graph URIs. Lookups that land on another tenant's record also return
	// ErrNotFound so that existence does not leak across tenants.
	ErrNotFound = errors.New("not found")

	// ErrInternal is returned on invariant violations that survive retries,
	// such as an embedding count that does not match the chunk count.
	ErrInternal = errors.New("internal error")
)
