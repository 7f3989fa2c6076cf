// Command fsdump is a read-only diagnostic: it mounts a filesystem
// image and walks its namespace from the root, printing each inode's
// type, link count, size and directory entries.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/tchajed/goose/machine/disk"

	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/dir"
	"github.com/sv6fs/corefs/fs"
	"github.com/sv6fs/corefs/inode"
	"github.com/sv6fs/corefs/txn"
)

func main() {
	path := flag.String("disk", "", "disk image path to inspect")
	size := flag.Uint64("size", 100*1000, "disk image size in blocks, must match the image's actual size")
	showStats := flag.Bool("stats", false, "print per-operation latency counters after walking")
	flag.Parse()

	if *path == "" {
		log.Fatal("fsdump: -disk is required")
	}

	d, err := disk.NewFileDisk(*path, *size)
	if err != nil {
		log.Fatalf("fsdump: couldn't open disk image: %v", err)
	}

	// ninodes and the rest of the layout come from the image's own
	// on-disk superblock, not from a flag -- a stale or wrong -size
	// still gets caught below rather than silently misreading the image.
	fsys, err := fs.Mount(d)
	if err != nil {
		log.Fatalf("fsdump: mount: %v", err)
	}
	t := fsys.Begin()

	root, err := inode.Iget(fsys, t, common.ROOTINUM)
	if err != nil {
		log.Fatalf("fsdump: iget root: %v", err)
	}
	walk(fsys, t, root, "/")
	inode.Put(fsys, root)

	t.Abort()

	if *showStats {
		fmt.Print(fsys.FormatStats())
	}
}

func walk(fsys inode.Fs, t *txn.Txn, ip *inode.Inode, path string) {
	ip.RLock()
	fmt.Printf("%s\tinum=%d type=%d nlink=%d size=%d\n", path, ip.Inum, ip.Type, ip.Nlink, ip.Size)
	isDir := ip.IsDir()
	ip.RUnlock()

	if !isDir {
		return
	}

	ip.Lock()
	dir.Init(fsys, t, ip)
	names := ip.DirNames()
	ip.Unlock()

	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		ip.Lock()
		child, err := dir.Lookup(fsys, t, ip, name)
		ip.Unlock()
		if err != nil {
			continue
		}
		walk(fsys, t, child, path+name+"/")
		inode.Put(fsys, child)
	}
}
