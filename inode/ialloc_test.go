package inode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/inode"
)

func TestIallocReturnsDistinctFreshInodes(t *testing.T) {
	fsys := mkTestFs(32, common.INODEBLK*2)
	t1 := fsys.Begin()

	a, err := inode.Ialloc(fsys, t1, common.TypeFile)
	assert.NoError(t, err)
	a.Unlock()
	b, err := inode.Ialloc(fsys, t1, common.TypeFile)
	assert.NoError(t, err)
	b.Unlock()

	assert.NotEqual(t, a.Inum, b.Inum)
	assert.Equal(t, common.TypeFile, a.Type)
	assert.Equal(t, uint64(0), a.Size)

	inode.Put(fsys, a)
	inode.Put(fsys, b)
	t1.Abort()
}

func TestIupdatePersistsAcrossReload(t *testing.T) {
	fsys := mkTestFs(32, common.INODEBLK*2)
	t1 := fsys.Begin()

	ip, err := inode.Ialloc(fsys, t1, common.TypeFile)
	assert.NoError(t, err)
	inum := ip.Inum
	ip.Major = 7
	ip.Minor = 3
	inode.Iupdate(fsys, t1, ip)
	ip.Unlock()
	inode.Put(fsys, ip)
	assert.NoError(t, fsys.Commit(t1))

	t2 := fsys.Begin()
	reloaded, err := inode.Iget(fsys, t2, inum)
	assert.NoError(t, err)
	assert.Equal(t, uint32(7), reloaded.Major)
	assert.Equal(t, uint32(3), reloaded.Minor)
	inode.Put(fsys, reloaded)
	t2.Abort()
}

func TestIgetSharesTheSameHandleWhileReferenced(t *testing.T) {
	fsys := mkTestFs(32, common.INODEBLK*2)
	t1 := fsys.Begin()

	ip, err := inode.Ialloc(fsys, t1, common.TypeFile)
	assert.NoError(t, err)
	ip.Unlock()
	inum := ip.Inum

	again, err := inode.Iget(fsys, t1, inum)
	assert.NoError(t, err)
	assert.Same(t, ip, again, "a second Iget while the first reference is outstanding returns the same handle")

	inode.Put(fsys, ip)
	inode.Put(fsys, again)
	t1.Abort()
}

func TestIallocExhaustionReturnsOutOfInodes(t *testing.T) {
	fsys := mkTestFs(32, common.INODEBLK) // smallest inode table: INODEBLK slots
	t1 := fsys.Begin()

	n := int(fsys.NInode()) - 1 // inum 0 is never allocated
	for i := 0; i < n; i++ {
		ip, err := inode.Ialloc(fsys, t1, common.TypeFile)
		assert.NoError(t, err)
		ip.Unlock()
		inode.Put(fsys, ip)
	}

	_, err := inode.Ialloc(fsys, t1, common.TypeFile)
	assert.ErrorIs(t, err, common.ErrOutOfInodes)
	t1.Abort()
}
