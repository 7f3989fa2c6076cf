package inode

import (
	"time"

	"github.com/sv6fs/corefs/buf"
	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/stats"
	"github.com/sv6fs/corefs/txn"
)

// Itrunc implements §4.3.2: remove every block at or beyond offset
// rounded up to the next block boundary, delayed-freeing data blocks,
// and entering only the first stage (direct, indirect, doubly-indirect)
// whose range contains the starting block -- stages before it are
// already wholly retained and untouched. Caller must hold ip's write
// lock.
func Itrunc(fsys Fs, t *txn.Txn, ip *Inode, offset uint64) {
	defer fsys.Record(stats.OpItrunc, time.Now())
	startBn := common.RoundUp(offset, common.BSIZE) / common.BSIZE

	for bn := startBn; bn < common.NDIRECT; bn++ {
		if ip.Addrs[bn] == common.NULLBNUM {
			break // dense address table: nothing can follow a null slot
		}
		freeDataBlock(fsys, t, ip.Addrs[bn])
		ip.Addrs[bn] = common.NULLBNUM
	}

	if startBn < common.NDIRECT+common.NINDIRECT {
		start := uint64(0)
		if startBn > common.NDIRECT {
			start = startBn - common.NDIRECT
		}
		itruncIndex(fsys, t, &ip.Addrs[common.INDIRECT], start, 1)
	}

	if startBn < common.MAXFILE {
		start := uint64(0)
		if startBn > common.NDIRECT+common.NINDIRECT {
			start = startBn - common.NDIRECT - common.NINDIRECT
		}
		itruncIndex(fsys, t, &ip.Addrs[common.DINDIRECT], start, 2)
	}

	if offset == 0 {
		for _, a := range ip.Addrs {
			if a != common.NULLBNUM {
				common.Fatal("itrunc: residue on inode %d after truncating to 0", ip.Inum)
			}
		}
	}
	ip.Size = offset
}

func freeDataBlock(fsys Fs, t *txn.Txn, bn common.Bnum) {
	fsys.Balloc().FreeBlock(t, bn, true)
}

// itruncIndex frees the subtree rooted at *root starting from logical
// index start within that subtree's own numbering, at the given level
// (1 = leaf index block of data pointers, 2 = index block of
// single-indirect pointers). The index block is freed outright only if
// start is 0 -- no pointer within it was retained -- otherwise it is
// attached to the transaction with its now partly zeroed contents and
// its slot in the parent is left untouched.
func itruncIndex(fsys Fs, t *txn.Txn, root *common.Bnum, start uint64, level int) {
	if *root == common.NULLBNUM {
		return
	}
	b := t.ReadBlock(*root, buf.KindBlock, false)
	changed := false

	if level == 1 {
		for i := start; i < common.NINDIRECT; i++ {
			child := b.GetBnum(i * 8)
			if child == common.NULLBNUM {
				break
			}
			freeDataBlock(fsys, t, child)
			b.PutBnum(i*8, common.NULLBNUM)
			changed = true
		}
	} else {
		outerStart := start / common.NINDIRECT
		innerStart := start % common.NINDIRECT
		for i := outerStart; i < common.NINDIRECT; i++ {
			child := b.GetBnum(i * 8)
			if child == common.NULLBNUM {
				break
			}
			sub := uint64(0)
			if i == outerStart {
				sub = innerStart
			}
			itruncIndex(fsys, t, &child, sub, 1)
			if child == common.NULLBNUM {
				b.PutBnum(i*8, common.NULLBNUM)
			}
			changed = true
		}
	}

	if start == 0 {
		freeDataBlock(fsys, t, *root)
		*root = common.NULLBNUM
		return
	}
	if changed {
		t.Attach(b)
	}
}
