package common

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the core. The original throws exceptions
// (out_of_blocks and friends); this reimplementation replaces each with an
// explicit sentinel so callers propagate it through ordinary Go error
// returns instead of unwinding a call stack.
var (
	// ErrOutOfBlocks means the in-memory free-block view is exhausted.
	// Recoverable in writei (short write); a program invariant violation
	// anywhere else (see Fatal below).
	ErrOutOfBlocks = errors.New("corefs: out of blocks")

	// ErrOutOfInodes means ialloc scanned the full inum space without
	// finding a free slot. Never fatal.
	ErrOutOfInodes = errors.New("corefs: out of inodes")

	// ErrRetry means a lookup raced with victimization. The caller must
	// restart the enclosing operation.
	ErrRetry = errors.New("corefs: retry")

	// ErrNotADirectory means path traversal hit a non-directory
	// component where a directory was required.
	ErrNotADirectory = errors.New("corefs: not a directory")

	// ErrBadPath means a path component exceeded DIRSIZ bytes.
	ErrBadPath = errors.New("corefs: bad path component")

	// ErrNotFound means a path component or directory entry is missing.
	ErrNotFound = errors.New("corefs: not found")

	// ErrInvalidArgument means a negative/overflowing offset or a read
	// against a device inode.
	ErrInvalidArgument = errors.New("corefs: invalid argument")

	// ErrExists means a dirlink insert found the name already occupied
	// by a live (non-tombstone) entry.
	ErrExists = errors.New("corefs: name exists")

	// ErrBadSuperblock means block 1 did not decode as a valid
	// superblock record (bad magic), or the disk opened for Mount has a
	// different block count than the superblock records as the
	// filesystem's size -- either way, the image cannot be trusted to
	// describe the layout this device was formatted with.
	ErrBadSuperblock = errors.New("corefs: bad superblock")
)

// Fatal reports an invariant violation: double-free or double-allocate in
// the bitmap, unlocking an unlocked inode, truncation leaving residue,
// ialloc finding a non-zero freshly-typed slot. These indicate a bug in
// the core itself, not a recoverable runtime condition, so the process
// halts rather than returning an error value.
func Fatal(format string, args ...interface{}) {
	panic(fatalError{msg: fmt.Sprintf(format, args...)})
}

type fatalError struct {
	msg string
}

func (f fatalError) Error() string {
	return f.msg
}
