package inode

import (
	"time"

	"github.com/tchajed/goose/machine"

	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/stats"
	"github.com/sv6fs/corefs/txn"
)

// DirNames returns every name currently live in dp's directory overlay.
// DirInit must have already been called.
func (ip *Inode) DirNames() []string {
	names := make([]string, 0, len(ip.dirMap))
	for name := range ip.dirMap {
		names = append(names, name)
	}
	return names
}

// DirInit implements §4.4.1. Idempotent: the first call for a directory
// inode walks its entire on-disk entry stream in BSIZE chunks, inserting
// every non-tombstone (name -> (inum, byte_offset)) pair into the
// in-memory overlay, and records the scanned length as dirOffset, the
// append cursor. Called with dp's write lock held.
func DirInit(fsys Fs, t *txn.Txn, dp *Inode) {
	if dp.dirInited {
		return
	}
	if !dp.IsDir() {
		common.Fatal("dir_init: inode %d is not a directory", dp.Inum)
	}

	dp.dirMap = make(map[string]dirSlot)
	chunk := make([]byte, common.BSIZE)
	var off uint64
	for off < dp.Size {
		want := common.Min(common.BSIZE, dp.Size-off)
		n := Readi(fsys, t, dp, chunk[:want], off, want)
		if n < 0 {
			common.Fatal("dir_init: readi failed on directory inode %d", dp.Inum)
		}
		for p := uint64(0); p+common.DIRENTSZ <= uint64(n); p += common.DIRENTSZ {
			inum := common.Inum(machine.UInt64Get(chunk[p : p+8]))
			if inum != common.NULLINUM {
				name := cstring(chunk[p+8 : p+common.DIRENTSZ])
				dp.dirMap[name] = dirSlot{inum: inum, off: off + p}
			}
		}
		off += uint64(n)
	}
	dp.dirOffset = dp.Size
	dp.dirInited = true
}

func cstring(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

func encodeDirent(inum common.Inum, name string) []byte {
	rec := make([]byte, common.DIRENTSZ)
	machine.UInt64Put(rec[:8], uint64(inum))
	copy(rec[8:], []byte(name))
	return rec
}

// DirLookup implements §4.4.2: ensures the overlay is loaded, and if
// name maps to a live (non-tombstone) inum, igets it.
func DirLookup(fsys Fs, t *txn.Txn, dp *Inode, name string) (*Inode, error) {
	defer fsys.Record(stats.OpDirLookup, time.Now())
	DirInit(fsys, t, dp)
	slot, ok := dp.dirMap[name]
	if !ok || slot.inum == common.NULLINUM {
		return nil, common.ErrNotFound
	}
	return Iget(fsys, t, slot.inum)
}

// DirLink implements §4.4.3: inserts name at the current append cursor,
// writes the single new entry to disk, and updates link counts. name ==
// ".." never touches link counts -- it is a bookkeeping entry pointing
// at an inode whose link is owned by the real link to it elsewhere.
// Returns an error only when the insert itself failed (disk full),
// never merely because it succeeded.
func DirLink(fsys Fs, t *txn.Txn, dp *Inode, name string, inum common.Inum, incParentLink bool) error {
	defer fsys.Record(stats.OpDirLink, time.Now())
	DirInit(fsys, t, dp)
	if len(name) > int(common.DIRSIZ) {
		return common.ErrInvalidArgument
	}
	if slot, exists := dp.dirMap[name]; exists && slot.inum != common.NULLINUM {
		return common.ErrExists
	}

	off := dp.dirOffset
	nw := Writei(fsys, t, dp, encodeDirent(inum, name), off, common.DIRENTSZ, false)
	if nw != int64(common.DIRENTSZ) {
		return common.ErrOutOfBlocks
	}
	dp.dirOffset += common.DIRENTSZ
	if off+common.DIRENTSZ > dp.Size {
		dp.Size = off + common.DIRENTSZ
	}
	dp.dirMap[name] = dirSlot{inum: inum, off: off}
	Iupdate(fsys, t, dp)

	if name != ".." {
		target, err := Iget(fsys, t, inum)
		if err != nil {
			return err
		}
		self := target.Inum == dp.Inum // "." links dp to itself; dp is already locked by the caller
		if !self {
			target.Lock()
		}
		bumpNlink(fsys, target)
		Iupdate(fsys, t, target)
		if !self {
			target.Unlock()
		}
		Put(fsys, target)
	}
	if incParentLink {
		bumpNlink(fsys, dp)
		Iupdate(fsys, t, dp)
	}
	return nil
}

// bumpNlink increments ip.Nlink and, on the 0->1 transition, takes the
// self-reference described in §3: "if nlink > 0 the inode holds one
// self-reference". Caller must hold ip's write lock.
func bumpNlink(fsys Fs, ip *Inode) {
	ip.Nlink++
	if ip.Nlink == 1 {
		fsys.Icache().IncRef(ip.Inum)
	}
}

// dropNlink decrements ip.Nlink and, on the 1->0 transition, releases
// the self-reference bumpNlink took. If that release turns out to be
// ip's last reference, nothing else can have it open -- the "liveness"
// self-reference of §3 is exactly what would otherwise have kept an
// open file descriptor's handle alive -- so it is freed immediately,
// using t rather than a transaction opened later by the epoch
// reclaimer, since t may already hold the write lock on ip's own
// inode-table block. Caller must hold ip's
// write lock.
func dropNlink(fsys Fs, t *txn.Txn, ip *Inode) {
	if ip.Nlink == 0 {
		common.Fatal("dropNlink: inode %d already has nlink 0", ip.Inum)
	}
	ip.Nlink--
	if ip.Nlink > 0 {
		return
	}
	if fsys.Icache().PutLast(ip.Inum) {
		Itrunc(fsys, t, ip, 0)
		ip.Type = common.TypeFree
		ip.Major = 0
		ip.Minor = 0
		Iupdate(fsys, t, ip)
	}
}

// DirUnlink implements §4.4.4: overwrites the entry's on-disk inum with
// 0 (a tombstone; the name slot is left in place to preserve later
// entries' offsets), then removes the name from the in-memory map --
// deliberately after the tombstone write, so disk and memory stay
// consistent even if the map update never happens -- and mirrors
// DirLink's link-accounting rule.
func DirUnlink(fsys Fs, t *txn.Txn, dp *Inode, name string, inum common.Inum, decParentLink bool) error {
	defer fsys.Record(stats.OpDirUnlink, time.Now())
	DirInit(fsys, t, dp)
	slot, ok := dp.dirMap[name]
	if !ok || slot.inum != inum {
		return common.ErrNotFound
	}

	zero := make([]byte, 8)
	nw := Writei(fsys, t, dp, zero, slot.off, 8, false)
	if nw != 8 {
		return common.ErrOutOfBlocks
	}
	delete(dp.dirMap, name)

	if name != ".." {
		target, err := Iget(fsys, t, inum)
		if err == nil {
			self := target.Inum == dp.Inum
			if !self {
				target.Lock()
			}
			if target.Nlink > 0 {
				target.Nlink--
				if target.Nlink == 0 {
					// Dropping the self-reference bumpNlink took, together
					// with the temporary reference this Iget just took,
					// in one step: if that's everything, nothing else can
					// have target open, so free it inline using t rather
					// than leaving it to the epoch reclaimer.
					if fsys.Icache().PutN(target.Inum, 2) {
						Itrunc(fsys, t, target, 0)
						target.Type = common.TypeFree
						target.Major = 0
						target.Minor = 0
					}
					Iupdate(fsys, t, target)
					if !self {
						target.Unlock()
					}
				} else {
					Iupdate(fsys, t, target)
					if !self {
						target.Unlock()
					}
					Put(fsys, target)
				}
			} else {
				if !self {
					target.Unlock()
				}
				Put(fsys, target)
			}
		}
	}
	if decParentLink && dp.Nlink > 0 {
		dropNlink(fsys, t, dp)
		Iupdate(fsys, t, dp)
	}
	return nil
}
