package alloc

import (
	"testing"

	"github.com/tchajed/goose/machine/disk"

	"github.com/stretchr/testify/assert"

	"github.com/sv6fs/corefs/bcache"
	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/txn"
)

func mkTestFs(t *testing.T, nblocks uint64) (*bcache.Bcache, *txn.Log, *Balloc) {
	d := disk.NewMemDisk(1 + common.LOGSIZE + 1 + nblocks)
	bc := bcache.MkBcache(d)
	bitmapStart := common.Bnum(1 + common.LOGSIZE)
	dataStart := bitmapStart + 1
	log := txn.MkLog(d, common.Bnum(1), common.LOGSIZE)
	ba := MkBalloc(bitmapStart, dataStart, nblocks)
	return bc, log, ba
}

func TestAllocAndFreeRoundTrip(t *testing.T) {
	bc, log, ba := mkTestFs(t, 16)

	tx := txn.Begin(bc, log)
	bn, err := ba.AllocBlock(tx, true)
	assert.NoError(t, err)
	ba.CommitBitmap(tx)
	assert.NoError(t, tx.Commit())

	tx2 := txn.Begin(bc, log)
	ba.FreeBlock(tx2, bn, false)
	ba.CommitBitmap(tx2)
	assert.NoError(t, tx2.Commit())

	// the freed block must be reusable immediately, since the free was
	// not delayed.
	tx3 := txn.Begin(bc, log)
	bn2, err := ba.AllocBlock(tx3, false)
	assert.NoError(t, err)
	assert.Equal(t, bn, bn2)
	tx3.Abort()
}

func TestAllocBlocksAreAbsoluteDeviceBlockNumbers(t *testing.T) {
	bc, log, ba := mkTestFs(t, 4)
	tx := txn.Begin(bc, log)
	bn, err := ba.AllocBlock(tx, false)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, uint64(bn), uint64(ba.dataStart))
	tx.Abort()
}

func TestOutOfBlocks(t *testing.T) {
	bc, log, ba := mkTestFs(t, 1)
	tx := txn.Begin(bc, log)
	_, err := ba.AllocBlock(tx, false)
	assert.NoError(t, err)
	_, err = ba.AllocBlock(tx, false)
	assert.ErrorIs(t, err, common.ErrOutOfBlocks)
}

func TestDelayedFreeNotReusableBeforeCommit(t *testing.T) {
	bc, log, ba := mkTestFs(t, 1)
	tx := txn.Begin(bc, log)
	bn, err := ba.AllocBlock(tx, false)
	assert.NoError(t, err)
	ba.CommitBitmap(tx)
	assert.NoError(t, tx.Commit())

	tx2 := txn.Begin(bc, log)
	ba.FreeBlock(tx2, bn, true)
	// delayed: the in-memory view must not show the block free yet.
	_, err = ba.AllocBlock(tx2, false)
	assert.ErrorIs(t, err, common.ErrOutOfBlocks)
	ba.CommitBitmap(tx2)
	assert.NoError(t, tx2.Commit())
	ba.ReleaseDelayed(tx2)

	tx3 := txn.Begin(bc, log)
	bn2, err := ba.AllocBlock(tx3, false)
	assert.NoError(t, err)
	assert.Equal(t, bn, bn2)
	tx3.Abort()
}

func TestDoubleFreeFatals(t *testing.T) {
	bc, log, ba := mkTestFs(t, 1)
	tx := txn.Begin(bc, log)
	bn, err := ba.AllocBlock(tx, false)
	assert.NoError(t, err)
	ba.CommitBitmap(tx)
	assert.NoError(t, tx.Commit())

	tx2 := txn.Begin(bc, log)
	ba.FreeBlock(tx2, bn, false)
	assert.Panics(t, func() {
		ba.FreeBlock(tx2, bn, false)
	})
}

func TestLoadFromBitmapRebuildsFreeView(t *testing.T) {
	bc, log, ba := mkTestFs(t, 8)
	tx := txn.Begin(bc, log)
	bn, err := ba.AllocBlock(tx, false)
	assert.NoError(t, err)
	ba.CommitBitmap(tx)
	assert.NoError(t, tx.Commit())

	ba2 := MkBalloc(ba.bitmapStart, ba.dataStart, 8)
	ba2.LoadFromBitmap(bc)

	tx2 := txn.Begin(bc, log)
	_, err = ba2.AllocBlock(tx2, false)
	assert.NoError(t, err)
	// the previously allocated block must not be handed out again.
	seen := map[common.Bnum]bool{bn: true}
	for i := 0; i < 10; i++ {
		b, err := ba2.AllocBlock(tx2, false)
		if err != nil {
			break
		}
		assert.False(t, seen[b], "bitmap-loaded allocator must not reuse a block still marked used on disk")
		seen[b] = true
	}
	tx2.Abort()
}
