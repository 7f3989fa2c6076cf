// Package namei implements path resolution (§4.4.5): skipelem peels one
// component off a path at a time; namei and nameiparent walk a path
// through the directory layer, starting from the root inode for an
// absolute path or from a caller-supplied starting directory otherwise.
package namei

import (
	"time"

	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/dir"
	"github.com/sv6fs/corefs/inode"
	"github.com/sv6fs/corefs/stats"
	"github.com/sv6fs/corefs/txn"
)

// skipelem peels the next component off path: leading slashes are
// skipped, then everything up to the next slash is the component,
// then trailing slashes are skipped from what remains. ok is false once
// path has no more components.
func skipelem(path string) (rest string, elem string, ok bool) {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if len(path) == 0 {
		return "", "", false
	}
	i := 0
	for i < len(path) && path[i] != '/' {
		i++
	}
	elem = path[:i]
	rest = path[i:]
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	return rest, elem, true
}

// Namei resolves path to its inode, starting at the root inode if path
// is absolute, at cwd otherwise. Returns common.ErrNotFound on any
// missing component and common.ErrNotADirectory on traversal through a
// non-directory intermediate component.
func Namei(fsys inode.Fs, t *txn.Txn, cwd *inode.Inode, path string) (*inode.Inode, error) {
	ip, _, err := namex(fsys, t, cwd, path, false)
	return ip, err
}

// NameiParent resolves all but the last component of path, returning
// the parent directory and writing the final component into elem.
func NameiParent(fsys inode.Fs, t *txn.Txn, cwd *inode.Inode, path string) (dp *inode.Inode, elem string, err error) {
	return namex(fsys, t, cwd, path, true)
}

func namex(fsys inode.Fs, t *txn.Txn, cwd *inode.Inode, path string, wantParent bool) (*inode.Inode, string, error) {
	defer fsys.Record(stats.OpNamei, time.Now())
	start := cwd.Inum
	if len(path) > 0 && path[0] == '/' {
		start = common.ROOTINUM
	}
	ip, err := inode.Iget(fsys, t, start)
	if err != nil {
		return nil, "", err
	}

	rest := path
	for {
		next, elem, ok := skipelem(rest)
		if !ok {
			break
		}
		if uint64(len(elem)) > common.DIRSIZ {
			inode.Put(fsys, ip)
			return nil, "", common.ErrBadPath
		}

		ip.Lock()
		if !ip.IsDir() {
			ip.Unlock()
			inode.Put(fsys, ip)
			return nil, "", common.ErrNotADirectory
		}
		if wantParent && next == "" {
			ip.Unlock()
			return ip, elem, nil
		}
		child, lerr := dir.Lookup(fsys, t, ip, elem)
		ip.Unlock()
		if lerr != nil {
			inode.Put(fsys, ip)
			return nil, "", common.ErrNotFound
		}
		inode.Put(fsys, ip)
		ip = child
		rest = next
	}

	if wantParent {
		inode.Put(fsys, ip)
		return nil, "", common.ErrBadPath
	}
	return ip, "", nil
}
