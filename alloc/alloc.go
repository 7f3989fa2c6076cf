// Package alloc is the block allocator of §2: an in-memory free-block
// view serving alloc_block/free_block atomically, with an on-disk bitmap
// that is only ever touched in batch, at transaction-prepare time.
package alloc

import (
	"sort"
	"sync"

	"github.com/sv6fs/corefs/bcache"
	"github.com/sv6fs/corefs/buf"
	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/txn"
)

// Balloc is process-wide: one instance, shared by every inode's data
// engine through the fs context, matching the in-memory free-block view
// named in §7's process-wide state.
type Balloc struct {
	bitmapStart common.Bnum // first on-disk bitmap block
	dataStart   common.Bnum // first absolute block number the bitmap covers
	nblocks     uint64      // number of data blocks the bitmap covers

	mu   sync.Mutex
	free []bool // in-memory free view; free[i] is data block dataStart+i
	hint uint64 // next-fit scan start
}

// MkBalloc creates an allocator for the nblocks data blocks starting at
// the absolute block number dataStart, whose bitmap begins at
// bitmapStart. Every block number this allocator hands out or accepts is
// an absolute device block number.
func MkBalloc(bitmapStart common.Bnum, dataStart common.Bnum, nblocks uint64) *Balloc {
	ba := &Balloc{
		bitmapStart: bitmapStart,
		dataStart:   dataStart,
		nblocks:     nblocks,
		free:        make([]bool, nblocks),
	}
	for i := range ba.free {
		ba.free[i] = true
	}
	return ba
}

// LoadFromBitmap rebuilds the in-memory free view from the on-disk
// bitmap, for mounting an existing filesystem -- the in-memory view
// itself is never persisted. Reads the bitmap directly through bc,
// outside any transaction, since no mutation is involved.
func (ba *Balloc) LoadFromBitmap(bc *bcache.Bcache) {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	nbitblocks := common.RoundUp(ba.nblocks, common.NBITBLOCK) / common.NBITBLOCK
	for i := uint64(0); i < nbitblocks; i++ {
		blkno := ba.bitmapStart + common.Bnum(i)
		b := bc.Get(blkno, buf.KindBitmap, false)
		b.RLock()
		for bit := uint64(0); bit < common.NBITBLOCK; bit++ {
			idx := i*common.NBITBLOCK + bit
			if idx >= ba.nblocks {
				break
			}
			ba.free[idx] = !b.GetBit(bit)
		}
		b.RUnlock()
		bc.Put(blkno)
	}
}

// AllocBlock reserves a block number against the in-memory free view and
// records the reservation on t; it does not touch the on-disk bitmap
// (that happens in CommitBitmap, at transaction-prepare time). If
// zeroOnAlloc is set, the block is zeroed through the buffer cache
// before return, since its previous tenant's bytes must never leak into
// a newly allocated block.
func (ba *Balloc) AllocBlock(t *txn.Txn, zeroOnAlloc bool) (common.Bnum, error) {
	bn, err := ba.reserve()
	if err != nil {
		return common.NULLBNUM, err
	}
	t.AddAllocatedBlock(bn)
	if zeroOnAlloc {
		b := t.ReadBlock(bn, buf.KindBlock, true)
		b.Zero()
		t.Attach(b)
	}
	return bn, nil
}

func (ba *Balloc) reserve() (common.Bnum, error) {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	for i := uint64(0); i < ba.nblocks; i++ {
		idx := (ba.hint + i) % ba.nblocks
		if ba.free[idx] {
			ba.free[idx] = false
			ba.hint = (idx + 1) % ba.nblocks
			return ba.dataStart + common.Bnum(idx), nil
		}
	}
	return common.NULLBNUM, common.ErrOutOfBlocks
}

// FreeBlock releases bno from the in-memory free view and records the
// free on t, unless delayed is set: a delayed free is recorded on t's
// free-list only, and the in-memory view is not updated until
// ReleaseDelayed runs after this transaction commits. This guarantees a
// block freed inside a transaction cannot be reallocated before that
// transaction is durable.
func (ba *Balloc) FreeBlock(t *txn.Txn, bno common.Bnum, delayed bool) {
	t.AddFreeBlock(bno, delayed)
	if !delayed {
		ba.release(bno)
	}
}

func (ba *Balloc) release(bno common.Bnum) {
	idx := uint64(bno - ba.dataStart)
	ba.mu.Lock()
	defer ba.mu.Unlock()
	if ba.free[idx] {
		common.Fatal("alloc: double free of block %d", bno)
	}
	ba.free[idx] = true
}

// ReleaseDelayed returns t's delayed-freed blocks to the in-memory free
// view. Callers invoke this only after t has committed.
func (ba *Balloc) ReleaseDelayed(t *txn.Txn) {
	for _, bno := range t.FreedDelayed() {
		ba.release(bno)
	}
}

// CommitBitmap stages t's allocated and freed block numbers into the
// on-disk bitmap: sorted ascending, coalesced per bitmap block, one
// buffer fetched and attached per touched block (§2). Delayed frees are
// committed to the bitmap here too -- by the time a transaction commits,
// the bitmap should already reflect blocks it is about to release.
func (ba *Balloc) CommitBitmap(t *txn.Txn) {
	type update struct {
		bno   common.Bnum
		value bool // true = mark used, false = mark free
	}
	var updates []update
	for _, bno := range t.Allocated() {
		updates = append(updates, update{bno, true})
	}
	for _, bno := range t.FreedImmediate() {
		updates = append(updates, update{bno, false})
	}
	for _, bno := range t.FreedDelayed() {
		updates = append(updates, update{bno, false})
	}
	if len(updates) == 0 {
		return
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].bno < updates[j].bno })

	var cur *buf.Buf
	var curBlk uint64
	for _, u := range updates {
		rel := uint64(u.bno - ba.dataStart)
		blkIdx := rel / common.NBITBLOCK
		localBit := rel % common.NBITBLOCK
		if cur == nil || blkIdx != curBlk {
			if cur != nil {
				t.Attach(cur)
			}
			blkno := ba.bitmapStart + common.Bnum(blkIdx)
			cur = t.ReadBlock(blkno, buf.KindBitmap, false)
			curBlk = blkIdx
		}
		if cur.GetBit(localBit) == u.value {
			common.Fatal("alloc: double %s of block %d", freeOrAlloc(u.value), u.bno)
		}
		cur.SetBit(localBit, u.value)
	}
	if cur != nil {
		t.Attach(cur)
	}
}

func freeOrAlloc(value bool) string {
	if value {
		return "allocate"
	}
	return "free"
}
