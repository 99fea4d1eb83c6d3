// Package strata implements the storage core of a collaborative tile-map
// editor for a legacy game client: a chunked block store over a packed
// binary on-disk format, a structure (multi-object) library decoded from an
// index+data file pair, and a transactional ghost overlay that stages edits
// without touching canonical storage until commit.
package strata

import (
	"errors"
	"fmt"
)

// Coordinate and identifier errors
var (
	// ErrOutOfRange indicates a coordinate or identifier outside valid bounds.
	ErrOutOfRange = errors.New("coordinate or identifier out of range")

	// ErrDirtyBlock indicates an attempt to evict a block with unflushed changes.
	ErrDirtyBlock = errors.New("block has unflushed changes")
)

// Lifecycle errors
var (
	// ErrClosed indicates that the map or library has been closed.
	ErrClosed = errors.New("storage is closed")
)

// Configuration errors
var (
	// ErrNoDataSource indicates that no data source was provided in Options.
	ErrNoDataSource = errors.New("no data source provided")

	// ErrMultipleDataSources indicates that more than one data source was provided.
	ErrMultipleDataSources = errors.New("multiple data sources provided")

	// ErrInvalidDimensions indicates map dimensions that are not positive
	// multiples of the block size.
	ErrInvalidDimensions = errors.New("map dimensions must be positive multiples of the block size")
)

// MalformedRecordError reports a binary span that is too short for, or not an
// exact multiple of, a fixed-width record. It is always scoped to the single
// record or identifier being decoded.
type MalformedRecordError struct {
	What string // record kind, e.g. "cell" or "structure component"
	Want int    // bytes required
	Got  int    // bytes available
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record: need %d bytes, have %d", e.What, e.Want, e.Got)
}

// IOError wraps a failed read, write or seek on the underlying byte source.
// It is scoped to one operation and is always recoverable by retrying or
// discarding the operation that triggered it.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// CommitFailure records one staged cell that could not be written to
// canonical storage during Overlay.CommitAll.
type CommitFailure struct {
	X, Y int
	Err  error
}

// CommitError reports a partial commit: the listed cells failed and their
// ghosts remain staged; every cell not listed was committed.
type CommitError struct {
	Failures []CommitFailure
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed for %d staged cell(s)", len(e.Failures))
}

// FlushFailure records one dirty block that could not be written back.
type FlushFailure struct {
	BX, BY int
	Err    error
}

// FlushError reports the blocks that failed to flush. Blocks not listed were
// written in full and are no longer dirty.
type FlushError struct {
	Failures []FlushFailure
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush failed for %d block(s)", len(e.Failures))
}
