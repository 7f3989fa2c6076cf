package fs_test

import (
	"testing"

	"github.com/tchajed/goose/machine/disk"

	"github.com/stretchr/testify/assert"

	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/dir"
	"github.com/sv6fs/corefs/fs"
	"github.com/sv6fs/corefs/inode"
)

func mkTestDisk(nDataBlocks, ninodes uint64) (disk.Disk, uint64) {
	nInodeBlk := common.RoundUp(ninodes, common.INODEBLK) / common.INODEBLK
	// +2 for the boot block and superblock, +1 to cover the one bitmap
	// block super.MkFsSuper carves out of the data region it just sized.
	sz := common.LOGSIZE + 2 + nInodeBlk + nDataBlocks + 1
	return disk.NewMemDisk(sz), sz
}

func mkRoot(t *testing.T, fsys *fs.Fs) *inode.Inode {
	tx := fsys.Begin()
	root, err := inode.Iget(fsys, tx, common.ROOTINUM)
	assert.NoError(t, err)
	root.Lock()
	root.Type = common.TypeDir
	root.Nlink = 0
	inode.Iupdate(fsys, tx, root)
	assert.NoError(t, dir.MkRoot(fsys, tx, root))
	root.Unlock()
	assert.NoError(t, fsys.Commit(tx))
	return root
}

// End-to-end scenario 1 from the spec: create, write, read, unlink,
// reuse the inum, and observe the bumped generation counter.
func TestCreateWriteReadUnlinkReuseInum(t *testing.T) {
	d, sz := mkTestDisk(32, common.INODEBLK)
	fsys := fs.MkFs(d, sz, common.INODEBLK)
	root := mkRoot(t, fsys)

	tx := fsys.Begin()
	h1, err := inode.Ialloc(fsys, tx, common.TypeFile)
	assert.NoError(t, err)
	firstInum := h1.Inum
	firstGen := h1.Gen

	n := inode.Writei(fsys, tx, h1, []byte("hello"), 0, 5, false)
	assert.Equal(t, int64(5), n)
	h1.Size = 5
	inode.Iupdate(fsys, tx, h1)
	h1.Unlock()

	root.Lock()
	assert.NoError(t, dir.Link(fsys, tx, root, "greeting.txt", firstInum, false))
	root.Unlock()
	assert.NoError(t, fsys.Commit(tx))

	tx2 := fsys.Begin()
	h1.RLock()
	buf := make([]byte, 5)
	got := inode.Readi(fsys, tx2, h1, buf, 0, 5)
	h1.RUnlock()
	assert.Equal(t, int64(5), got)
	assert.Equal(t, "hello", string(buf))
	inode.Put(fsys, h1) // drop the handle Ialloc/Iget gave us; the directory entry's self-reference keeps it alive

	root.Lock()
	assert.NoError(t, dir.Unlink(fsys, tx2, root, "greeting.txt", firstInum, false))
	root.Unlock()
	assert.NoError(t, fsys.Commit(tx2))

	tx3 := fsys.Begin()
	fsys.SetInumHint(firstInum)
	h2, err := inode.Ialloc(fsys, tx3, common.TypeFile)
	assert.NoError(t, err)
	assert.Equal(t, firstInum, h2.Inum, "the scan starts at the freed inum, so ialloc must reuse it")
	assert.Greater(t, h2.Gen, firstGen, "reuse bumps the generation counter")
	h2.Unlock()
	inode.Put(fsys, h2)
	tx3.Abort()

	inode.Put(fsys, root)
}

// A committed transaction's effects must survive a fresh Mount against
// the same underlying disk -- mkfs's root directory and a file linked
// into it read back identically after "reopening" the device.
func TestMountSeesCommittedState(t *testing.T) {
	d, sz := mkTestDisk(32, common.INODEBLK)
	fsys := fs.MkFs(d, sz, common.INODEBLK)
	root := mkRoot(t, fsys)

	tx := fsys.Begin()
	file, err := inode.Ialloc(fsys, tx, common.TypeFile)
	assert.NoError(t, err)
	inode.Writei(fsys, tx, file, []byte("data"), 0, 4, false)
	file.Size = 4
	inode.Iupdate(fsys, tx, file)
	file.Unlock()
	fileInum := file.Inum

	root.Lock()
	assert.NoError(t, dir.Link(fsys, tx, root, "data.txt", fileInum, false))
	root.Unlock()

	inode.Put(fsys, file)
	inode.Put(fsys, root)
	assert.NoError(t, fsys.Commit(tx))

	remounted, err := fs.Mount(d)
	assert.NoError(t, err)
	tx2 := remounted.Begin()
	remountedRoot, err := inode.Iget(remounted, tx2, common.ROOTINUM)
	assert.NoError(t, err)
	remountedRoot.Lock()
	found, err := dir.Lookup(remounted, tx2, remountedRoot, "data.txt")
	remountedRoot.Unlock()
	assert.NoError(t, err)
	assert.Equal(t, fileInum, found.Inum)

	found.RLock()
	buf := make([]byte, 4)
	n := inode.Readi(remounted, tx2, found, buf, 0, 4)
	found.RUnlock()
	assert.Equal(t, int64(4), n)
	assert.Equal(t, "data", string(buf))

	inode.Put(remounted, found)
	inode.Put(remounted, remountedRoot)
	tx2.Abort()
}

// Mount must not silently misinterpret an image whose on-disk
// superblock doesn't describe the device it was handed -- it refuses
// rather than deriving a layout from the wrong size.
func TestMountRejectsSizeMismatch(t *testing.T) {
	d, sz := mkTestDisk(32, common.INODEBLK)
	fs.MkFs(d, sz, common.INODEBLK)

	// A differently-sized device carrying the same superblock record
	// (the mistake a stale -size flag would reproduce): the persisted
	// size no longer matches the disk actually opened.
	wrongSized := disk.NewMemDisk(sz + 1)
	wrongSized.Write(1, d.Read(1))
	_, err := fs.Mount(wrongSized)
	assert.ErrorIs(t, err, common.ErrBadSuperblock)
}

// An uninitialized image (or one whose superblock block was never
// written) has no valid magic, so Mount refuses it outright.
func TestMountRejectsMissingSuperblock(t *testing.T) {
	blank := disk.NewMemDisk(100)
	_, err := fs.Mount(blank)
	assert.ErrorIs(t, err, common.ErrBadSuperblock)
}

func TestBeginCommitReleasesAllocatorReservation(t *testing.T) {
	d, sz := mkTestDisk(2, common.INODEBLK)
	fsys := fs.MkFs(d, sz, common.INODEBLK)

	tx := fsys.Begin()
	file, err := inode.Ialloc(fsys, tx, common.TypeFile)
	assert.NoError(t, err)
	n := inode.Writei(fsys, tx, file, []byte{1, 2, 3}, 0, 3, false)
	assert.Equal(t, int64(3), n)
	file.Size = 3
	inode.Iupdate(fsys, tx, file)
	file.Unlock()
	inode.Put(fsys, file)
	assert.NoError(t, fsys.Commit(tx))
}
