// Package errs collects the programmer-contract sentinel errors shared
// across the memory engine.
package errs

import "errors"

// ErrNotInitialized is returned by every public Engine method when called
// before Open has produced a handle (spec.md §9's fail-fast singleton
// manager contract, grounded on Hippocampus.py's HippocampusManager).
var ErrNotInitialized = errors.New("hippograph: engine not initialized")

// ErrAlreadyInitialized is returned by a second Open before Close.
var ErrAlreadyInitialized = errors.New("hippograph: engine already initialized")
