// Package common holds the layout constants, identifier types and error
// taxonomy shared by every layer of the filesystem core: the block and
// inode allocators, the inode cache and data engine, the directory layer,
// path resolution, and the transaction/journal surface.
package common

import (
	"github.com/tchajed/goose/machine/disk"
)

// Bnum is a physical block number. 0 (NULLBNUM) never denotes a real block.
type Bnum uint64

// Inum is an inode number within the inode table. 0 (NULLINUM) is reserved
// and never allocated; 1 (ROOTINUM) is the root directory.
type Inum uint64

const (
	NULLBNUM Bnum = 0
	NULLINUM Inum = 0
	ROOTINUM Inum = 1
)

const (
	// BSIZE is the on-disk block size in bytes.
	BSIZE = disk.BlockSize

	// LOGSIZE is the number of blocks reserved for the journal, including
	// its commit/header block. The journal's internal format is owned by
	// the txn package; the core only needs the footprint reserved here.
	LOGSIZE uint64 = 512

	// NBITBLOCK (BPB in the glossary) is the number of bits -- one per
	// data block -- packed into a single free-block bitmap block.
	NBITBLOCK uint64 = BSIZE * 8

	// INODESZ is the size in bytes of one on-disk dinode record: type,
	// major, minor, nlink (4 bytes each), gen, size (8 bytes each), and
	// an NADDRS-entry address table (8 bytes each).
	INODESZ uint64 = 4*4 + 2*8 + NADDRS*8

	// INODEBLK (IPB in the glossary) is the number of dinode records
	// packed into one inode-table block.
	INODEBLK uint64 = BSIZE / INODESZ

	// NDIRECT is the number of direct block-pointer slots in a dinode's
	// address table.
	NDIRECT uint64 = 10

	// INDIRECT and DINDIRECT are the address-table slot indices holding
	// the single-indirect and doubly-indirect block pointers.
	INDIRECT  uint64 = NDIRECT
	DINDIRECT uint64 = NDIRECT + 1

	// NADDRS is the total size of a dinode's address table.
	NADDRS uint64 = NDIRECT + 2

	// NINDIRECT is the number of block-number entries packed into one
	// index block (8 bytes per entry).
	NINDIRECT uint64 = BSIZE / 8

	// MAXFILE is the maximum number of data blocks addressable by a
	// single inode.
	MAXFILE uint64 = NDIRECT + NINDIRECT + NINDIRECT*NINDIRECT

	// DIRSIZ is the maximum length, in bytes, of one path component and
	// of the NUL-padded name field of a directory entry.
	DIRSIZ uint64 = 120

	// DIRENTSZ is the fixed size in bytes of one on-disk directory entry
	// record: an 8-byte inum followed by a DIRSIZ-byte name.
	DIRENTSZ uint64 = 8 + DIRSIZ
)

// Inode types stored in a dinode's Type field. Zero means the slot is free.
const (
	TypeFree = uint32(0)
	TypeFile = uint32(1)
	TypeDir  = uint32(2)
	TypeDev  = uint32(3)
)

// RoundUp rounds n up to the next multiple of sz.
func RoundUp(n uint64, sz uint64) uint64 {
	mod := n % sz
	if mod == 0 {
		return n
	}
	return n - mod + sz
}

func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func Max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
