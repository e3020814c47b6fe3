package pq

import "errors"

// ErrConfig is returned when a Quantizer is constructed with parameters
// that cannot form a valid codebook layout (spec.md §7 ConfigError).
var ErrConfig = errors.New("pq: invalid configuration")
