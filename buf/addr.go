package buf

import "github.com/sv6fs/corefs/common"

// Addr names a bit range inside a block: a bitmap allocator touches a
// single bit, the inode table touches a dinode-sized slot, and the data
// engine touches a whole block. It is not used as a cache key -- the
// buffer cache is block-granular -- but it lets callers describe the
// sub-range they intend to read or write without the buffer cache having
// to know about bitmaps or dinodes.
type Addr struct {
	Blkno common.Bnum
	Off   uint64 // bit offset within the block
	Sz    uint64 // size in bits
}

func MkAddr(blkno common.Bnum, off uint64, sz uint64) Addr {
	return Addr{Blkno: blkno, Off: off, Sz: sz}
}

func (a Addr) Eq(b Addr) bool {
	return a.Blkno == b.Blkno && a.Off == b.Off && a.Sz == b.Sz
}
