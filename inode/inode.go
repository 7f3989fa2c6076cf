// Package inode is the inode cache, allocator and data engine: the
// in-memory Inode struct, its lock pair and directory overlay, iget/ialloc
// (layered on icache's generic slot cache), and the data engine operations
// bmap, itrunc, readi, writei, iupdate and drop_bufcache.
package inode

import (
	"sync"
	"time"

	"github.com/tchajed/marshal"

	"github.com/sv6fs/corefs/alloc"
	"github.com/sv6fs/corefs/bcache"
	"github.com/sv6fs/corefs/buf"
	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/icache"
	"github.com/sv6fs/corefs/stats"
	"github.com/sv6fs/corefs/txn"
	"github.com/sv6fs/corefs/util"
)

// dirSlot is one entry of a directory's in-memory name overlay: the
// (inum, byte-offset) pair a name currently resolves to.
type dirSlot struct {
	inum common.Inum
	off  uint64
}

// Inode is the in-memory handle returned by Iget/Ialloc. Its identity
// (Inum) never changes for the handle's lifetime. Every field below
// busy/readbusy is protected by the inode's own write lock
// (ilock), not by icache's slot mutex -- icache only serializes the
// cache-population race described in iget's protocol.
type Inode struct {
	Inum common.Inum

	mu       sync.Mutex
	cv       *sync.Cond
	busy     bool
	readbusy int

	// dinode mirror.
	Type  uint32
	Major uint32
	Minor uint32
	Nlink uint32
	Gen   uint64
	Size  uint64
	Addrs [common.NADDRS]common.Bnum

	// directory overlay (§3 "dir_entries"); populated lazily, only ever
	// touched on a directory inode under its write lock.
	dirInited bool
	dirMap    map[string]dirSlot
	dirOffset uint64
}

func newInode(inum common.Inum) *Inode {
	ip := &Inode{Inum: inum}
	ip.cv = sync.NewCond(&ip.mu)
	return ip
}

// Lock acquires the inode's write lock: waits until both busy and
// readbusy are clear, then sets busy and bumps readbusy, so a writer
// also counts as the lone reader for accounting purposes.
func (ip *Inode) Lock() {
	ip.mu.Lock()
	for ip.busy || ip.readbusy > 0 {
		ip.cv.Wait()
	}
	ip.busy = true
	ip.readbusy++
	ip.mu.Unlock()
}

// RLock acquires a shared read lock: waits until busy is clear, then
// bumps readbusy. Readers never block each other.
func (ip *Inode) RLock() {
	ip.mu.Lock()
	for ip.busy {
		ip.cv.Wait()
	}
	ip.readbusy++
	ip.mu.Unlock()
}

// Unlock releases a lock taken by Lock or RLock: decrements readbusy,
// clears busy if it was set, and wakes every waiter together so shared
// and exclusive waiters both get a chance to recheck their condition.
func (ip *Inode) Unlock() {
	ip.mu.Lock()
	if ip.readbusy == 0 {
		common.Fatal("inode: unlock of an unlocked inode %d", ip.Inum)
	}
	ip.readbusy--
	ip.busy = false
	ip.cv.Broadcast()
	ip.mu.Unlock()
}

// RUnlock is an alias for Unlock: both lock modes release through the
// same readbusy/busy pair, matching the single spinlock+CV scheme
// described for ilock/iunlock.
func (ip *Inode) RUnlock() { ip.Unlock() }

func (ip *Inode) IsDir() bool    { return ip.Type == common.TypeDir }
func (ip *Inode) IsDevice() bool { return ip.Type == common.TypeDev }

// Encode serializes the dinode fields (not the in-memory lock/overlay
// state) into an INODESZ-byte record.
func (ip *Inode) Encode() []byte {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt32(ip.Type)
	enc.PutInt32(ip.Major)
	enc.PutInt32(ip.Minor)
	enc.PutInt32(ip.Nlink)
	enc.PutInt(ip.Gen)
	enc.PutInt(ip.Size)
	addrs := make([]uint64, common.NADDRS)
	for i, a := range ip.Addrs {
		addrs[i] = uint64(a)
	}
	enc.PutInts(addrs)
	return enc.Finish()
}

// decode populates ip's dinode fields from a raw INODESZ-byte record.
func (ip *Inode) decode(data []byte) {
	dec := marshal.NewDec(data)
	ip.Type = dec.GetInt32()
	ip.Major = dec.GetInt32()
	ip.Minor = dec.GetInt32()
	ip.Nlink = dec.GetInt32()
	ip.Gen = dec.GetInt()
	ip.Size = dec.GetInt()
	addrs := dec.GetInts(common.NADDRS)
	for i, a := range addrs {
		ip.Addrs[i] = common.Bnum(a)
	}
}

// Fs is the subset of the filesystem context the inode layer needs: the
// superblock's addressing math, the shared buffer cache, the inode
// handle cache, and the block allocator, gathered behind a small
// interface so this package does not import fs (which imports inode).
type Fs interface {
	Bcache() *bcache.Bcache
	Icache() *icache.Cache
	Balloc() *alloc.Balloc
	Inum2Addr(inum common.Inum) (blkno common.Bnum, byteOff uint64)
	NInode() common.Inum
	InumHint() common.Inum
	SetInumHint(common.Inum)
	Begin() *txn.Txn
	Commit(*txn.Txn) error
	Record(op int, start time.Time)
}

func readDinode(fsys Fs, t *txn.Txn, inum common.Inum) (*Inode, *buf.Buf, uint64) {
	blkno, byteOff := fsys.Inum2Addr(inum)
	b := t.ReadBlock(blkno, buf.KindInode, false)
	ip := newInode(inum)
	ip.decode(b.GetSlice(byteOff, common.INODESZ))
	return ip, b, byteOff
}

// Iget implements the iget protocol of §4.2: look up (dev, inum) -- here
// just inum, since the core is single-device -- bumping a shared
// reference, or populate a fresh handle from disk on a miss. Returns
// common.ErrRetry if the lookup raced with eviction; the caller must
// restart its enclosing operation.
func Iget(fsys Fs, t *txn.Txn, inum common.Inum) (*Inode, error) {
	defer fsys.Record(stats.OpIget, time.Now())
	ic := fsys.Icache()
	for {
		obj, ok, retry := ic.Lookup(inum)
		if retry {
			return nil, common.ErrRetry
		}
		if ok {
			return obj.(*Inode), nil
		}

		ip, _, _ := readDinode(fsys, t, inum)
		if !ic.Insert(inum, ip) {
			continue // lost the insert race; restart from Lookup
		}
		ic.MarkValid(inum)
		return ip, nil
	}
}

// Put drops the reference Iget/Ialloc handed back, matching §4.2's onzero:
// once the refcount hits zero the handle is victimized and, once the
// epoch reclaimer judges it safe, its buffer-cache footprint is dropped.
// If nlink had already reached zero by the time the last reference went
// away, the open-file "liveness" self-reference described in §3 is what
// kept the slot alive until now -- with it gone, the inode is actually
// freed: truncated to zero and its type reset so a later Ialloc can
// reuse the inum.
func Put(fsys Fs, ip *Inode) {
	fsys.Icache().Put(ip.Inum, func(obj interface{}) {
		dropped := obj.(*Inode)
		if dropped.Nlink == 0 && dropped.Type != common.TypeFree {
			freeInode(fsys, dropped)
		}
		DropBufcache(fsys, dropped)
	})
}

// freeInode runs the reclamation deferred from Put: it opens its own
// transaction since the handle is already unreachable through the
// cache (no concurrent lookup can observe it, and the epoch guard that
// retired it has exited), truncates every block the inode still
// addresses, and resets its type to free.
func freeInode(fsys Fs, ip *Inode) {
	t := fsys.Begin()
	Itrunc(fsys, t, ip, 0)
	ip.Type = common.TypeFree
	ip.Major = 0
	ip.Minor = 0
	Iupdate(fsys, t, ip)
	if err := fsys.Commit(t); err != nil {
		common.Fatal("inode: failed to commit free of inode %d: %v", ip.Inum, err)
	}
}

// Ialloc implements §4.2's allocation protocol: scan inum space from the
// allocator's hint, and for each candidate inum iget it and attempt to
// CAS its on-disk type from free to the requested type. Returns
// common.ErrOutOfInodes once the full space has been scanned once.
func Ialloc(fsys Fs, t *txn.Txn, typ uint32) (*Inode, error) {
	defer fsys.Record(stats.OpIalloc, time.Now())
	usable := uint64(fsys.NInode()) - 1 // inum 0 is reserved, never tried
	hint := uint64(fsys.InumHint())
	for tries := uint64(0); tries < usable; tries++ {
		candidate := (hint-1+tries)%usable + 1
		inum := common.Inum(candidate)

		ip, err := Iget(fsys, t, inum)
		if err != nil {
			return nil, err
		}
		ip.Lock()
		if ip.Type != common.TypeFree {
			ip.Unlock()
			Put(fsys, ip)
			continue
		}
		if !allZero(ip.Addrs[:]) || ip.Nlink != 0 {
			common.Fatal("ialloc: freshly typed inode %d has residue", inum)
		}
		ip.Type = typ
		ip.Gen++
		ip.Nlink = 0
		ip.Size = 0
		t.LogNewFile(inum)
		Iupdate(fsys, t, ip)
		fsys.SetInumHint(common.Inum((candidate)%usable + 1))
		util.DPrintf(1, "ialloc: %d gen %d\n", inum, ip.Gen)
		return ip, nil
	}
	return nil, common.ErrOutOfInodes
}

func allZero(addrs []common.Bnum) bool {
	for _, a := range addrs {
		if a != common.NULLBNUM {
			return false
		}
	}
	return true
}

// Iupdate serializes ip's dinode fields back into its slot in the inode
// table and attaches that block to t. Callers batch multiple field
// changes before calling -- it is always correct, just wasteful, to call
// it more than once.
func Iupdate(fsys Fs, t *txn.Txn, ip *Inode) {
	blkno, byteOff := fsys.Inum2Addr(ip.Inum)
	b := t.ReadBlock(blkno, buf.KindInode, false)
	b.PutSlice(byteOff, ip.Encode())
	t.Attach(b)
}
