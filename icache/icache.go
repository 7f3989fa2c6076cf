// Package icache is the generic, reference-counted, victim-aware slot
// cache that the inode package's iget/ialloc protocol is built on. It
// knows nothing about dinodes -- it maps a common.Inum to an opaque
// handle -- mirroring the split in the pack between a generic slot cache
// and the inode-aware logic layered on top of it.
package icache

import (
	"sync"

	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/epoch"
)

type slot struct {
	mu     sync.Mutex
	cv     *sync.Cond
	ref    int32
	valid  bool // metadata loaded; false while a miss is being populated
	victim bool // refcount hit zero; removed from the map, pending reclaim
	obj    interface{}
}

// Cache is process-wide -- one instance, shared by every goroutine doing
// filesystem operations, the same way the inode hash table is process-wide
// in the original.
type Cache struct {
	mu    sync.Mutex
	m     map[common.Inum]*slot
	epoch *epoch.Epoch
}

func MkCache(e *epoch.Epoch) *Cache {
	return &Cache{
		m:     make(map[common.Inum]*slot),
		epoch: e,
	}
}

// Lookup implements step 1 of the iget protocol: find key, bump its
// refcount, and wait for population to finish if it's still loading.
// ok=false means a genuine cache miss (proceed to Insert); retry=true
// means the entry found was mid-eviction and the caller's whole operation
// must restart.
func (c *Cache) Lookup(key common.Inum) (obj interface{}, ok bool, retry bool) {
	c.mu.Lock()
	s, found := c.m[key]
	if !found {
		c.mu.Unlock()
		return nil, false, false
	}
	s.mu.Lock()
	c.mu.Unlock()

	if s.victim {
		s.mu.Unlock()
		return nil, false, true
	}
	s.ref++
	for !s.valid {
		s.cv.Wait()
		if s.victim {
			s.ref--
			s.mu.Unlock()
			return nil, false, true
		}
	}
	obj = s.obj
	s.mu.Unlock()
	return obj, true, false
}

// Insert implements step 2: create a not-yet-valid slot for key and make
// it visible. inserted=false means another goroutine beat us to it; the
// caller must go back to Lookup.
func (c *Cache) Insert(key common.Inum, obj interface{}) (inserted bool) {
	c.mu.Lock()
	if _, found := c.m[key]; found {
		c.mu.Unlock()
		return false
	}
	s := &slot{ref: 1, obj: obj}
	s.cv = sync.NewCond(&s.mu)
	c.m[key] = s
	c.mu.Unlock()
	return true
}

// MarkValid implements step 3: population finished, wake every lookup
// waiting on this slot's condition variable.
func (c *Cache) MarkValid(key common.Inum) {
	c.mu.Lock()
	s, found := c.m[key]
	c.mu.Unlock()
	if !found {
		common.Fatal("icache: MarkValid on absent key %d", key)
	}
	s.mu.Lock()
	s.valid = true
	s.cv.Broadcast()
	s.mu.Unlock()
}

// IncRef bumps an already-held handle's refcount (a second reference to
// an object the caller already holds, e.g. nlink-driven self-reference).
func (c *Cache) IncRef(key common.Inum) {
	c.mu.Lock()
	s, found := c.m[key]
	c.mu.Unlock()
	if !found {
		common.Fatal("icache: IncRef on absent key %d", key)
	}
	s.mu.Lock()
	s.ref++
	s.mu.Unlock()
}

// Put drops a reference taken by Lookup/Insert/IncRef. When the refcount
// reaches zero, the slot is marked victim and removed from the map under
// the cache lock -- so any Lookup racing with this Put either completes
// before removal (and observes victim, returning Retry) or runs after
// removal (and observes a clean miss) -- and onzero is scheduled via the
// epoch reclaimer so in-flight guards from before this Put still see a
// live object if they already have a pointer to it.
func (c *Cache) Put(key common.Inum, onzero func(obj interface{})) {
	obj, zero := c.put(key, 1)
	if zero && onzero != nil {
		c.epoch.Delayed(func() { onzero(obj) })
	}
}

// PutLast drops a reference and reports whether it was the last one,
// synchronously -- it does not itself schedule any teardown. Used by
// callers that, on discovering they dropped the last reference, must
// free the underlying resource inline using a transaction they already
// hold, rather than one the epoch reclaimer would open on their behalf
// at some later, unspecified point.
func (c *Cache) PutLast(key common.Inum) bool {
	_, zero := c.put(key, 1)
	return zero
}

// PutN drops n references at once, synchronously, reporting whether
// they exhausted the refcount. Used when a caller must release two
// references it holds for unrelated reasons (e.g. its own temporary
// lookup plus a self-reference it is simultaneously dropping) and
// needs to know, in one atomic step, whether either one turned out to
// be the last.
func (c *Cache) PutN(key common.Inum, n int32) bool {
	_, zero := c.put(key, n)
	return zero
}

func (c *Cache) put(key common.Inum, n int32) (obj interface{}, zero bool) {
	c.mu.Lock()
	s, found := c.m[key]
	if !found {
		c.mu.Unlock()
		common.Fatal("icache: Put on absent key %d", key)
	}
	s.mu.Lock()
	s.ref -= n
	if s.ref < 0 {
		common.Fatal("icache: refcount underflow for key %d", key)
	}
	zero = s.ref == 0
	if zero {
		s.victim = true
		delete(c.m, key)
	}
	obj = s.obj
	s.mu.Unlock()
	c.mu.Unlock()
	return obj, zero
}
