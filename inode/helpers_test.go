package inode_test

import (
	"github.com/tchajed/goose/machine/disk"

	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/fs"
)

// mkTestFs formats a small in-memory filesystem sized generously enough
// for bmap/itrunc/directory tests to span multiple index tiers without
// running out of data blocks.
func mkTestFs(nDataBlocks uint64, ninodes uint64) *fs.Fs {
	if nDataBlocks+1 >= common.NBITBLOCK {
		panic("mkTestFs: nDataBlocks too large for this helper's one-bitmap-block assumption")
	}
	nInodeBlk := common.RoundUp(ninodes, common.INODEBLK) / common.INODEBLK
	// super.MkFsSuper sizes the bitmap off sz-headroom, i.e. before
	// subtracting the bitmap's own footprint, so the final data region is
	// (sz-headroom)-nblockbitmap blocks. Pad sz-headroom by exactly the
	// one bitmap block this will cost, so NDataBlocks() comes out to
	// exactly nDataBlocks. headroom itself is boot block + superblock
	// block + the inode table + the journal.
	sz := common.LOGSIZE + 2 + nInodeBlk + nDataBlocks + 1
	d := disk.NewMemDisk(sz)
	return fs.MkFs(d, sz, ninodes)
}
