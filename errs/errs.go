// Package errs defines the error kinds surfaced by histfs. Every kind is a sentinel which may be matched with
// errors.Is, typed errors carry the details and unwrap to their cause.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrIO is returned when the underlying block read or write failed.
	ErrIO = errors.New("block i/o failed")

	// ErrOutOfSpace is returned when the allocator is exhausted or the write would exceed the maximum file size.
	ErrOutOfSpace = errors.New("no space left on device")

	// ErrFileTooLarge is returned when logical block index is beyond the addressable range.
	ErrFileTooLarge = errors.New("file too large")

	// ErrReadOnlyVersion is returned when file is written while pinned to a historical version.
	ErrReadOnlyVersion = errors.New("read-only version")

	// ErrInvalidVersion is returned when version-control command targets a version out of range.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrPartialPrune is returned when pruning exhausted the chain before reaching the requested version.
	// It is advisory, the operation has completed.
	ErrPartialPrune = errors.New("prune stopped at the oldest version")

	// ErrCorruptChain is returned when version chain is not a simple list terminated by the root trailer.
	ErrCorruptChain = errors.New("corrupted version chain")

	// ErrNoInode is returned when inode does not exist or all inodes are taken.
	ErrNoInode = errors.New("no such inode")
)

// IOError describes failed block operation.
type IOError struct {
	Op      string
	Address uint32
	Err     error
}

// IO wraps err into IOError. Nil is returned if err is nil.
func IO(op string, address uint32, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&IOError{Op: op, Address: address, Err: err})
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s block %d: %v", e.Op, e.Address, e.Err)
}

// Unwrap returns the cause.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Is reports IOError as ErrIO.
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

// VersionError describes version outside of [0, Max].
type VersionError struct {
	Requested int64
	Max       uint32
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("invalid version %d, valid range is [0, %d]", e.Requested, e.Max)
}

// Is reports VersionError as ErrInvalidVersion.
func (e *VersionError) Is(target error) bool {
	return target == ErrInvalidVersion
}

// PartialPruneError is returned when the chain was shorter than expected during prune.
type PartialPruneError struct {
	Requested uint32
	Reached   uint32
}

func (e *PartialPruneError) Error() string {
	return fmt.Sprintf("version %d requested, chain ended at version %d which is now the newest one",
		e.Requested, e.Reached)
}

// Is reports PartialPruneError as ErrPartialPrune.
func (e *PartialPruneError) Is(target error) bool {
	return target == ErrPartialPrune
}
