package bcache

import (
	"testing"

	"github.com/tchajed/goose/machine/disk"

	"github.com/stretchr/testify/assert"

	"github.com/sv6fs/corefs/buf"
	"github.com/sv6fs/corefs/common"
)

func TestGetCachesAndSharesBuffer(t *testing.T) {
	bc := MkBcache(disk.NewMemDisk(64))

	b1 := bc.Get(5, buf.KindBlock, false)
	b2 := bc.Get(5, buf.KindBlock, false)
	assert.Same(t, b1, b2, "a second Get for the same block returns the same cached buffer")

	bc.Put(5)
	bc.Put(5)
}

func TestSkipReadDoesNotTouchDisk(t *testing.T) {
	d := disk.NewMemDisk(64)
	d.Write(9, func() disk.Block { blk := make(disk.Block, common.BSIZE); blk[0] = 0x42; return blk }())
	bc := MkBcache(d)

	b := bc.Get(9, buf.KindBlock, true)
	assert.Equal(t, byte(0), b.Data()[0], "skipRead must not read the disk's prior contents")
	bc.Put(9)
}

func TestDropRemovesEntryRegardlessOfRefcount(t *testing.T) {
	bc := MkBcache(disk.NewMemDisk(64))
	bc.Get(3, buf.KindBlock, true)
	assert.True(t, bc.InBcache(3))

	bc.Drop(3)
	assert.False(t, bc.InBcache(3))
}

func TestPutOnUncachedBlockPanics(t *testing.T) {
	bc := MkBcache(disk.NewMemDisk(64))
	assert.Panics(t, func() {
		bc.Put(3)
	})
}
