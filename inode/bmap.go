package inode

import (
	"time"

	"github.com/sv6fs/corefs/buf"
	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/stats"
	"github.com/sv6fs/corefs/txn"
)

// Bmap implements §4.3.1: translate a file-relative logical block number
// into a physical block number, lazily allocating direct, single- and
// doubly-indirect slots as needed. Caller must hold ip's write lock.
func Bmap(fsys Fs, t *txn.Txn, ip *Inode, lbn uint64, zeroOnAlloc bool) (common.Bnum, error) {
	defer fsys.Record(stats.OpBmap, time.Now())
	switch {
	case lbn < common.NDIRECT:
		return bmapDirect(fsys, t, ip, lbn, zeroOnAlloc)
	case lbn < common.NDIRECT+common.NINDIRECT:
		return bmapIndirect(fsys, t, &ip.Addrs[common.INDIRECT], lbn-common.NDIRECT, zeroOnAlloc)
	case lbn < common.MAXFILE:
		return bmapDoubly(fsys, t, ip, lbn-common.NDIRECT-common.NINDIRECT, zeroOnAlloc)
	default:
		return common.NULLBNUM, common.ErrInvalidArgument
	}
}

func bmapDirect(fsys Fs, t *txn.Txn, ip *Inode, lbn uint64, zeroOnAlloc bool) (common.Bnum, error) {
	if ip.Addrs[lbn] != common.NULLBNUM {
		return ip.Addrs[lbn], nil
	}
	bn, err := fsys.Balloc().AllocBlock(t, zeroOnAlloc)
	if err != nil {
		return common.NULLBNUM, err
	}
	ip.Addrs[lbn] = bn
	return bn, nil
}

// bmapIndirect resolves off within the single-indirect index block
// rooted at *root, lazily allocating the index block itself (always
// zeroed, since its contents are pointers, not data) and the data slot
// it points to. *root is updated in place if the index block was just
// allocated.
func bmapIndirect(fsys Fs, t *txn.Txn, root *common.Bnum, off uint64, zeroOnAlloc bool) (common.Bnum, error) {
	if *root == common.NULLBNUM {
		ibn, err := fsys.Balloc().AllocBlock(t, true)
		if err != nil {
			return common.NULLBNUM, err
		}
		*root = ibn
	}

	ib := t.ReadBlock(*root, buf.KindBlock, false)
	entry := ib.GetBnum(off * 8)
	if entry != common.NULLBNUM {
		return entry, nil
	}

	bn, err := fsys.Balloc().AllocBlock(t, zeroOnAlloc)
	if err != nil {
		return common.NULLBNUM, err
	}
	ib.PutBnum(off*8, bn)
	// Ordering guarantee: the index block is attached after allocating
	// the pointee it now references, so replay sees pointer and pointee
	// together.
	t.Attach(ib)
	return bn, nil
}

func bmapDoubly(fsys Fs, t *txn.Txn, ip *Inode, off uint64, zeroOnAlloc bool) (common.Bnum, error) {
	outer := off / common.NINDIRECT
	inner := off % common.NINDIRECT
	root := &ip.Addrs[common.DINDIRECT]

	if *root == common.NULLBNUM {
		dbn, err := fsys.Balloc().AllocBlock(t, true)
		if err != nil {
			return common.NULLBNUM, err
		}
		*root = dbn
	}

	db := t.ReadBlock(*root, buf.KindBlock, false)
	child := db.GetBnum(outer * 8)
	if child == common.NULLBNUM {
		ibn, err := fsys.Balloc().AllocBlock(t, true)
		if err != nil {
			return common.NULLBNUM, err
		}
		db.PutBnum(outer*8, ibn)
		t.Attach(db)
		child = ibn
	}

	return bmapIndirect(fsys, t, &child, inner, zeroOnAlloc)
}
