// Package bcache implements the buffer cache the rest of the filesystem
// core treats as an opaque, content-addressed, lockable block cache: Get
// returns a refcounted *buf.Buf for a block number, reading it from disk
// on first touch unless the caller already knows the contents don't
// matter; Put drops a reference; WritebackAsync schedules an out-of-band
// flush for buffers the caller has excused from the journal.
package bcache

import (
	"sync"

	"github.com/tchajed/goose/machine/disk"

	"github.com/sv6fs/corefs/buf"
	"github.com/sv6fs/corefs/common"
)

type entry struct {
	ref uint32
	buf *buf.Buf
}

// Bcache is process-wide: every inode's data engine, the block allocator,
// and the inode cache all share one instance through the fs context.
type Bcache struct {
	d  disk.Disk
	mu sync.Mutex
	m  map[common.Bnum]*entry
}

func MkBcache(d disk.Disk) *Bcache {
	return &Bcache{
		d: d,
		m: make(map[common.Bnum]*entry),
	}
}

// Get returns a refcounted buffer for bn, reading it from disk on first
// touch unless skipRead is set (the caller is about to overwrite the
// whole block and doesn't care what was there before). The caller must
// Put the buffer when done with it.
func (bc *Bcache) Get(bn common.Bnum, kind buf.Kind, skipRead bool) *buf.Buf {
	bc.mu.Lock()
	e, ok := bc.m[bn]
	if ok {
		e.ref++
		bc.mu.Unlock()
		return e.buf
	}
	var b *buf.Buf
	if skipRead {
		b = buf.MkBufData(bn, kind)
	} else {
		blk := bc.d.Read(uint64(bn))
		b = buf.MkBuf(bn, kind, blk)
	}
	bc.m[bn] = &entry{ref: 1, buf: b}
	bc.mu.Unlock()
	return b
}

// InBcache is a non-blocking probe: true if bn currently has a cached
// buffer, regardless of refcount. drop_bufcache uses this to avoid
// causing a disk read for the sole purpose of invalidating an entry.
func (bc *Bcache) InBcache(bn common.Bnum) bool {
	bc.mu.Lock()
	_, ok := bc.m[bn]
	bc.mu.Unlock()
	return ok
}

// Put releases a reference taken by Get. It does not evict: the buffer
// cache is unbounded, and an entry leaves it only through Drop.
func (bc *Bcache) Put(bn common.Bnum) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	e, ok := bc.m[bn]
	if !ok {
		panic("bcache: Put on a block with no cached entry")
	}
	if e.ref == 0 {
		panic("bcache: Put on a buffer with zero refs")
	}
	e.ref--
}

// Drop removes bn's cached entry outright, regardless of refcount. Used
// by drop_bufcache once the inode's writer lock guarantees no concurrent
// reader can be mid-Get on this block.
func (bc *Bcache) Drop(bn common.Bnum) {
	bc.mu.Lock()
	delete(bc.m, bn)
	bc.mu.Unlock()
}

// WritebackAsync schedules b to be written to its home location outside
// the journal, for buffers the caller has explicitly excused from
// transactional commit (writei's writeback=true path).
func (bc *Bcache) WritebackAsync(b *buf.Buf) {
	go func() {
		b.Lock()
		b.WriteDirect(bc.d)
		b.Unlock()
	}()
}

func (bc *Bcache) Size() uint64 {
	return bc.d.Size()
}

func (bc *Bcache) Barrier() {
	bc.d.Barrier()
}
