package inode

import (
	"time"

	"github.com/sv6fs/corefs/bcache"
	"github.com/sv6fs/corefs/buf"
	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/stats"
	"github.com/sv6fs/corefs/txn"
)

// Readi implements §4.3.3. It may be called without a write lock, on
// the assumption that concurrent writers only ever touch dirty blocks
// and concurrent readers of dirty blocks bypass Readi entirely. n is
// clamped to size-off; returns -1 on overflow or a device inode.
func Readi(fsys Fs, t *txn.Txn, ip *Inode, dst []byte, off uint64, n uint64) int64 {
	defer fsys.Record(stats.OpReadi, time.Now())
	if ip.IsDevice() {
		return -1
	}
	if off > ip.Size {
		return -1
	}
	if off+n > ip.Size {
		n = ip.Size - off
	}
	if n == 0 {
		return 0
	}

	var done uint64
	for done < n {
		lbn := (off + done) / common.BSIZE
		boff := (off + done) % common.BSIZE
		m := common.Min(n-done, common.BSIZE-boff)

		bn, err := Bmap(fsys, t, ip, lbn, false)
		if err != nil || bn == common.NULLBNUM {
			return -1
		}
		b := t.ReadBlock(bn, buf.KindBlock, false)
		copy(dst[done:done+m], b.GetSlice(boff, m))
		done += m
	}
	return int64(done)
}

// Writei implements §4.3.3. Requires ip's write lock. Returns the
// number of bytes written, or -1 if none were written before hitting
// common.ErrOutOfBlocks. Callers must still update ip.Size (update_size)
// and call Iupdate once all data is staged.
func Writei(fsys Fs, t *txn.Txn, ip *Inode, src []byte, off uint64, n uint64, writeback bool) int64 {
	defer fsys.Record(stats.OpWritei, time.Now())
	var done uint64
	for done < n {
		lbn := (off + done) / common.BSIZE
		boff := (off + done) % common.BSIZE
		m := common.Min(n-done, common.BSIZE-boff)

		wholeBlock := boff == 0 && m == common.BSIZE
		bn, err := Bmap(fsys, t, ip, lbn, false)
		if err != nil {
			if done == 0 {
				return -1
			}
			return int64(done)
		}

		// t.ReadBlock already holds b's write lock for the life of the
		// transaction; write proceeds under that same lock.
		b := t.ReadBlock(bn, buf.KindBlock, wholeBlock)
		b.PutSlice(boff, src[done:done+m])

		if writeback {
			fsys.Bcache().WritebackAsync(b)
		} else {
			t.Attach(b)
		}
		done += m
	}
	return int64(done)
}

// DropBufcache implements §4.3.4's drop_bufcache: invalidates the
// buffer-cache entries backing ip. Direct blocks are always dropped;
// indirect and doubly-indirect index blocks are walked only if already
// resident in the buffer cache, never read from disk just to be
// invalidated.
func DropBufcache(fsys Fs, ip *Inode) {
	bc := fsys.Bcache()
	for _, bn := range ip.Addrs[:common.NDIRECT] {
		if bn != common.NULLBNUM {
			bc.Drop(bn)
		}
	}
	dropIndexIfCached(bc, ip.Addrs[common.INDIRECT], 1)
	dropIndexIfCached(bc, ip.Addrs[common.DINDIRECT], 2)
}

func dropIndexIfCached(bc *bcache.Bcache, root common.Bnum, level int) {
	if root == common.NULLBNUM || !bc.InBcache(root) {
		return
	}
	b := bc.Get(root, buf.KindBlock, false)
	b.RLock()
	children := make([]common.Bnum, 0, common.NINDIRECT)
	for i := uint64(0); i < common.NINDIRECT; i++ {
		c := b.GetBnum(i * 8)
		if c == common.NULLBNUM {
			break
		}
		children = append(children, c)
	}
	b.RUnlock()
	bc.Put(root)

	if level == 2 {
		for _, c := range children {
			dropIndexIfCached(bc, c, 1)
		}
	}
	bc.Drop(root)
}
