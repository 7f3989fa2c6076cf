// Package super lays out the on-disk regions of the filesystem: the
// superblock record, the inode table, the block-allocator's bitmap, the
// journal's footprint, and the data region, and provides the address
// arithmetic (Inum2Addr/Block2addr/DataStart) every other layer builds
// on. It also owns the superblock's own on-disk encoding: MkFs writes
// one at block 1 and Mount reads it back, rather than trusting a
// caller-supplied size/ninodes pair to describe an existing image.
//
// Unlike the teacher, there is no separate inode bitmap here: Ialloc
// (§4.2) finds a free inode by CAS-ing a dinode's on-disk type field
// from free to the requested type, so the inode table needs no bitmap
// of its own.
package super

import (
	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/sv6fs/corefs/bcache"
	"github.com/sv6fs/corefs/common"
)

type FsSuper struct {
	Disk *bcache.Bcache
	Size uint64 // total blocks on the device

	nLog         uint64 // journal footprint, header block included
	nBlockBitmap uint64 // bitmap blocks covering the data region
	nInodeBlk    uint64 // inode-table blocks
}

// MkFsSuper lays out a filesystem of sz blocks over d: ninodes dinode
// slots are reserved, rounded up to a whole number of inode-table
// blocks, and the remainder of the device past the bitmap and journal
// is the data region the bitmap covers. This only builds the in-memory
// layout; it does not persist the superblock record itself -- callers
// formatting a fresh image call WriteSuperblock separately.
func MkFsSuper(d disk.Disk, sz uint64, ninodes uint64) *FsSuper {
	nInodeBlk := common.RoundUp(ninodes, common.INODEBLK) / common.INODEBLK
	headroom := common.LOGSIZE + nInodeBlk + 2 // +1 boot block, +1 superblock
	dataBlocks := sz - headroom
	nblockbitmap := common.RoundUp(dataBlocks, common.NBITBLOCK) / common.NBITBLOCK

	return &FsSuper{
		Disk:         bcache.MkBcache(d),
		Size:         sz,
		nLog:         common.LOGSIZE,
		nBlockBitmap: nblockbitmap,
		nInodeBlk:    nInodeBlk,
	}
}

// SuperStart is the fixed block holding the on-disk superblock record
// (spec.md §6: "loaded once from block 1"). Block 0 is the boot block.
func (fs *FsSuper) SuperStart() common.Bnum {
	return common.Bnum(1)
}

// InodeStart is fixed at block 2 (spec.md §6: "Block 2 through block
// 2 + ceil(ninodes/IPB) - 1"). The journal's footprint is placed after
// the bitmap rather than between the superblock and the inode table,
// since spec.md pins the inode table to block 2 exactly and treats the
// journal's own disk layout as an external collaborator's concern --
// see DESIGN.md for the deviation this implies from spec.md §3's literal
// five-region list, which does not mention the journal at all.
func (fs *FsSuper) InodeStart() common.Bnum {
	return common.Bnum(2)
}

func (fs *FsSuper) BitmapStart() common.Bnum {
	return fs.InodeStart() + common.Bnum(fs.nInodeBlk)
}

func (fs *FsSuper) LogStart() common.Bnum {
	return fs.BitmapStart() + common.Bnum(fs.nBlockBitmap)
}

func (fs *FsSuper) DataStart() common.Bnum {
	return fs.LogStart() + common.Bnum(fs.nLog)
}

// superblockMagic tags a valid on-disk superblock record so Mount can
// tell a genuine image from an uninitialized or foreign one.
const superblockMagic uint64 = 0x7366367336667336

// superblockFields is the byte size of the persisted record: magic,
// size, ninodes, each an 8-byte little-endian integer.
const superblockFields = 3 * 8

// WriteSuperblock encodes sz/ninodes into the fixed-format on-disk
// superblock record and writes it directly to SuperStart, bypassing the
// transaction/journal -- no journal exists yet at format time.
func WriteSuperblock(d disk.Disk, sz uint64, ninodes uint64) {
	enc := marshal.NewEnc(superblockFields)
	enc.PutInt(superblockMagic)
	enc.PutInt(sz)
	enc.PutInt(ninodes)
	blk := make(disk.Block, common.BSIZE)
	copy(blk, enc.Finish())
	d.Write(1, blk)
}

// ReadSuperblock reads and decodes the on-disk superblock record,
// returning the persisted size and ninodes that MkFsSuper needs to
// reconstruct the same layout the image was formatted with. Returns
// ErrBadSuperblock if block 1 doesn't carry the expected magic.
func ReadSuperblock(d disk.Disk) (sz uint64, ninodes uint64, err error) {
	blk := d.Read(1)
	dec := marshal.NewDec(blk[:superblockFields])
	magic := dec.GetInt()
	if magic != superblockMagic {
		return 0, 0, common.ErrBadSuperblock
	}
	sz = dec.GetInt()
	ninodes = dec.GetInt()
	return sz, ninodes, nil
}

// NDataBlocks is the number of data blocks the in-memory free view and
// on-disk bitmap track. Block numbers handed out by the allocator are
// absolute device block numbers, starting at DataStart.
func (fs *FsSuper) NDataBlocks() uint64 {
	return fs.Size - uint64(fs.DataStart())
}

func (fs *FsSuper) NInode() common.Inum {
	return common.Inum(fs.nInodeBlk * common.INODEBLK)
}

// Inum2Addr returns the inode-table block and byte offset within it
// holding inum's dinode record.
func (fs *FsSuper) Inum2Addr(inum common.Inum) (common.Bnum, uint64) {
	blk := fs.InodeStart() + common.Bnum(uint64(inum)/common.INODEBLK)
	off := (uint64(inum) % common.INODEBLK) * common.INODESZ
	return blk, off
}

// Block2addr maps a data-region-relative block offset to its absolute
// device block number.
func (fs *FsSuper) Block2addr(bn common.Bnum) common.Bnum {
	return fs.DataStart() + bn
}

// Addr2block is Block2addr's inverse.
func (fs *FsSuper) Addr2block(bn common.Bnum) common.Bnum {
	return bn - fs.DataStart()
}
