package vamana

import "errors"

// ErrInvariantViolation signals a broken locking or structural invariant:
// acquiring an already-held vertex, releasing a vertex that isn't held,
// or using an Index out of order (adding to or rebuilding a built index,
// searching an unbuilt one). Fatal — there is no recovery path inside
// the package.
var ErrInvariantViolation = errors.New("vamana: invariant violation")

// ErrConfigError is returned when an Index is constructed with parameters
// that cannot form a valid graph or PQ layout.
var ErrConfigError = errors.New("vamana: invalid configuration")

// ErrInterrupted signals that a blocking wait (currently none inside the
// graph package itself, but reserved for the disk reader's search loop)
// was interrupted.
var ErrInterrupted = errors.New("vamana: interrupted")
