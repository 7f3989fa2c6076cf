// Command mkfs formats a fresh filesystem image: lays out the journal,
// bitmap and inode table via the fs package, then creates the root
// directory.
package main

import (
	"flag"
	"log"

	"github.com/tchajed/goose/machine/disk"

	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/dir"
	"github.com/sv6fs/corefs/fs"
	"github.com/sv6fs/corefs/inode"
)

func main() {
	path := flag.String("disk", "", "disk image path to create")
	size := flag.Uint64("size", 100*1000, "disk image size in blocks")
	ninodes := flag.Uint64("ninodes", fs.DefaultNInodes, "number of inodes")
	flag.Parse()

	if *path == "" {
		log.Fatal("mkfs: -disk is required")
	}

	d, err := disk.NewFileDisk(*path, *size)
	if err != nil {
		log.Fatalf("mkfs: couldn't create disk image: %v", err)
	}

	fsys := fs.MkFs(d, *size, *ninodes)

	t := fsys.Begin()
	root, err := inode.Iget(fsys, t, common.ROOTINUM)
	if err != nil {
		log.Fatalf("mkfs: iget root: %v", err)
	}
	root.Lock()
	root.Type = common.TypeDir
	root.Nlink = 0
	inode.Iupdate(fsys, t, root)
	if err := dir.MkRoot(fsys, t, root); err != nil {
		log.Fatalf("mkfs: populate root directory: %v", err)
	}
	root.Unlock()
	inode.Put(fsys, root)

	if err := fsys.Commit(t); err != nil {
		log.Fatalf("mkfs: commit: %v", err)
	}

	fsys.Bcache().Barrier()
	log.Printf("mkfs: formatted %d blocks, %d inodes at %s\n", *size, *ninodes, *path)
}
