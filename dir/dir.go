// Package dir is the directory abstraction of §4.4: a thin, named layer
// over the inode package's directory overlay and on-disk entry stream,
// kept separate so callers reason about "directory operations" rather
// than reaching into inode internals.
package dir

import (
	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/inode"
	"github.com/sv6fs/corefs/txn"
)

// Init ensures dp's in-memory name overlay is populated from its
// on-disk entry stream. Idempotent.
func Init(fsys inode.Fs, t *txn.Txn, dp *inode.Inode) {
	inode.DirInit(fsys, t, dp)
}

// Lookup resolves name within dp to an inode handle, or ErrNotFound.
func Lookup(fsys inode.Fs, t *txn.Txn, dp *inode.Inode, name string) (*inode.Inode, error) {
	return inode.DirLookup(fsys, t, dp, name)
}

// Link inserts name -> inum into dp. See inode.DirLink for the link-
// accounting rule applied to "." and "..".
func Link(fsys inode.Fs, t *txn.Txn, dp *inode.Inode, name string, inum common.Inum, incParentLink bool) error {
	return inode.DirLink(fsys, t, dp, name, inum, incParentLink)
}

// Unlink removes name from dp, tombstoning its on-disk entry.
func Unlink(fsys inode.Fs, t *txn.Txn, dp *inode.Inode, name string, inum common.Inum, decParentLink bool) error {
	return inode.DirUnlink(fsys, t, dp, name, inum, decParentLink)
}

// IsEmpty reports whether dp has no live entries beyond "." and "..".
func IsEmpty(fsys inode.Fs, t *txn.Txn, dp *inode.Inode) bool {
	inode.DirInit(fsys, t, dp)
	for _, name := range dp.DirNames() {
		if name != "." && name != ".." {
			return false
		}
	}
	return true
}

// MkRoot populates a freshly allocated root directory with "." and ".."
// both pointing at itself.
func MkRoot(fsys inode.Fs, t *txn.Txn, dp *inode.Inode) error {
	if err := Link(fsys, t, dp, ".", dp.Inum, true); err != nil {
		return err
	}
	return Link(fsys, t, dp, "..", dp.Inum, false)
}
