package index

import "errors"

// ErrDuplicateEntry indicates an add for a name that is already live.
var ErrDuplicateEntry = errors.New("duplicate index entry")

// ErrNotFound indicates a lookup for a name the index does not know.
var ErrNotFound = errors.New("index entry not found")

// ErrLockTimeout indicates the exclusive index lock could not be acquired
// within the configured wait.
var ErrLockTimeout = errors.New("timed out waiting for index lock")

// ErrCorrupt indicates the on-disk metadata and vector store disagree.
var ErrCorrupt = errors.New("index corrupt")

// ErrDimensionMismatch indicates a vector whose dimension differs from the
// dimension the store was created with.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// ErrVectorLengthMismatch indicates two vectors have different dimensions.
var ErrVectorLengthMismatch = errors.New("vector length mismatch")
