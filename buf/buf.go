package buf

import (
	"fmt"
	"sync"

	"github.com/tchajed/goose/machine"
	"github.com/tchajed/goose/machine/disk"

	"github.com/sv6fs/corefs/common"
)

// Kind records what a buffer's block contains, purely for diagnostics --
// nothing in the core branches on it.
type Kind uint64

const (
	KindBlock Kind = 1
	KindInode Kind = 2
	KindBitmap Kind = 3
)

// Buf is a handle on one disk block, held by the buffer cache. It owns the
// block's read/write lock: callers take RLock for a shared read-only view
// and Lock for an exclusive, possibly-mutating view, matching the buffer
// cache's read()/write() distinction. A Buf is never resized -- it always
// holds exactly one disk.BlockSize buffer, even when the logical access is
// narrower (a single bitmap bit, one dinode slot).
type Buf struct {
	mu    sync.RWMutex
	Blkno common.Bnum
	Kind  Kind
	blk   disk.Block
	dirty bool
}

// MkBuf wraps an already-read block in a Buf.
func MkBuf(blkno common.Bnum, kind Kind, blk disk.Block) *Buf {
	return &Buf{Blkno: blkno, Kind: kind, blk: blk}
}

// MkBufData allocates a fresh, zeroed block for blkno without reading it
// from disk -- used when the caller already knows the block's prior
// contents are irrelevant (a freshly allocated block).
func MkBufData(blkno common.Bnum, kind Kind) *Buf {
	return MkBuf(blkno, kind, make(disk.Block, common.BSIZE))
}

func (b *Buf) String() string {
	return fmt.Sprintf("buf(%d, kind=%d, dirty=%v)", b.Blkno, b.Kind, b.dirty)
}

func (b *Buf) Lock()    { b.mu.Lock() }
func (b *Buf) Unlock()  { b.mu.Unlock() }
func (b *Buf) RLock()   { b.mu.RLock() }
func (b *Buf) RUnlock() { b.mu.RUnlock() }

// Data returns the raw block bytes. Caller must hold Lock or RLock.
func (b *Buf) Data() disk.Block {
	return b.blk
}

func (b *Buf) SetDirty() {
	b.dirty = true
}

func (b *Buf) IsDirty() bool {
	return b.dirty
}

// Zero clears the whole block and marks it dirty -- used for newly
// allocated index blocks, which must never be attached to a transaction
// with stale pointer garbage in them.
func (b *Buf) Zero() {
	for i := range b.blk {
		b.blk[i] = 0
	}
	b.dirty = true
}

// GetBit reads bit n of the block (bitmap allocator).
func (b *Buf) GetBit(n uint64) bool {
	byteOff := n / 8
	bit := n % 8
	return b.blk[byteOff]&(1<<bit) != 0
}

// SetBit sets or clears bit n of the block and marks it dirty.
func (b *Buf) SetBit(n uint64, v bool) {
	byteOff := n / 8
	bit := n % 8
	if v {
		b.blk[byteOff] = b.blk[byteOff] | (1 << bit)
	} else {
		b.blk[byteOff] = b.blk[byteOff] &^ (1 << bit)
	}
	b.dirty = true
}

// GetBnum reads an 8-byte little-endian block number at byte offset off,
// the encoding used by indirect and doubly-indirect index blocks.
func (b *Buf) GetBnum(off uint64) common.Bnum {
	return common.Bnum(machine.UInt64Get(b.blk[off : off+8]))
}

// PutBnum writes an 8-byte little-endian block number at byte offset off
// and marks the block dirty.
func (b *Buf) PutBnum(off uint64, bn common.Bnum) {
	machine.UInt64Put(b.blk[off:off+8], uint64(bn))
	b.dirty = true
}

// GetSlice reads n bytes starting at byte offset off, for dinode records
// and directory entries.
func (b *Buf) GetSlice(off uint64, n uint64) []byte {
	return b.blk[off : off+n]
}

// PutSlice writes data starting at byte offset off and marks the block
// dirty, for dinode records and directory entries.
func (b *Buf) PutSlice(off uint64, data []byte) {
	copy(b.blk[off:off+uint64(len(data))], data)
	b.dirty = true
}

// WriteDirect writes the block straight to disk, bypassing the
// transaction/journal. Used only by the async writeback path for
// buffers the caller has explicitly excused from journaling.
func (b *Buf) WriteDirect(d disk.Disk) {
	d.Write(uint64(b.Blkno), b.blk)
	b.dirty = false
}
