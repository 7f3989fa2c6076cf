package txn

import (
	"sort"
	"sync"

	"github.com/sv6fs/corefs/bcache"
	"github.com/sv6fs/corefs/buf"
	"github.com/sv6fs/corefs/common"
)

// Txn is a transaction handle: an ordered set of modified blocks plus a
// list of blocks to free on commit and a list of newly allocated inums
// (§4.5). Callers reach it only through add_allocated_block,
// add_free_block, add_block (via Attach) and log_new_file -- the block
// allocator and inode layer never see the journal directly.
type Txn struct {
	bc  *bcache.Bcache
	log *Log

	mu      sync.Mutex
	held    map[common.Bnum]*buf.Buf // buffers fetched via ReadBlock, to Put at Commit/Abort
	dirty   map[common.Bnum]*buf.Buf // buffers Attach'd, to journal at Commit

	allocated      []common.Bnum
	freedImmediate []common.Bnum
	freedDelayed   []common.Bnum
	newInums       []common.Inum
}

// Begin opens a new transaction against bc, journaled through log.
func Begin(bc *bcache.Bcache, log *Log) *Txn {
	return &Txn{
		bc:    bc,
		log:   log,
		held:  make(map[common.Bnum]*buf.Buf),
		dirty: make(map[common.Bnum]*buf.Buf),
	}
}

// ReadBlock returns bn's buffer, locked for the duration of the
// transaction. Repeated calls for the same block within one transaction
// return the same held buffer rather than re-fetching it.
func (t *Txn) ReadBlock(bn common.Bnum, kind buf.Kind, skipRead bool) *buf.Buf {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.held[bn]; ok {
		return b
	}
	b := t.bc.Get(bn, kind, skipRead)
	b.Lock()
	t.held[bn] = b
	return b
}

// Attach staples b's current contents into the transaction atomically
// with the holding of its write lock (buf::add_to_transaction). b must
// have been obtained from this transaction's ReadBlock.
func (t *Txn) Attach(b *buf.Buf) {
	b.SetDirty()
	t.mu.Lock()
	t.dirty[b.Blkno] = b
	t.mu.Unlock()
}

// AddAllocatedBlock records that bno was reserved by this transaction,
// for the allocator's transaction-prepare-time bitmap commit.
func (t *Txn) AddAllocatedBlock(bno common.Bnum) {
	t.mu.Lock()
	t.allocated = append(t.allocated, bno)
	t.mu.Unlock()
}

// AddFreeBlock records that bno is being freed by this transaction.
// delayed blocks cannot be reallocated until this transaction commits.
func (t *Txn) AddFreeBlock(bno common.Bnum, delayed bool) {
	t.mu.Lock()
	if delayed {
		t.freedDelayed = append(t.freedDelayed, bno)
	} else {
		t.freedImmediate = append(t.freedImmediate, bno)
	}
	t.mu.Unlock()
}

// LogNewFile records that inum was newly allocated in this transaction.
func (t *Txn) LogNewFile(inum common.Inum) {
	t.mu.Lock()
	t.newInums = append(t.newInums, inum)
	t.mu.Unlock()
}

func (t *Txn) Allocated() []common.Bnum      { return t.allocated }
func (t *Txn) FreedImmediate() []common.Bnum { return t.freedImmediate }
func (t *Txn) FreedDelayed() []common.Bnum   { return t.freedDelayed }
func (t *Txn) NewInums() []common.Inum       { return t.newInums }

// Commit journals every attached buffer, in ascending block-number
// order, then flushes them to their home locations (the journal's
// CommitTxn does both atomically from the core's point of view), and
// releases every buffer this transaction held.
func (t *Txn) Commit() error {
	t.mu.Lock()
	blknos := make([]common.Bnum, 0, len(t.dirty))
	for bn := range t.dirty {
		blknos = append(blknos, bn)
	}
	sort.Slice(blknos, func(i, j int) bool { return blknos[i] < blknos[j] })

	recs := make([]Record, len(blknos))
	for i, bn := range blknos {
		b := t.dirty[bn]
		data := make([]byte, common.BSIZE)
		copy(data, b.Data())
		recs[i] = Record{Blkno: bn, Data: data}
	}
	t.mu.Unlock()

	if err := t.log.CommitTxn(recs); err != nil {
		return err
	}
	t.release()
	return nil
}

// Abort releases every buffer this transaction held without journaling
// its attached contents. Buffers already mutated in place in the
// buffer cache remain mutated -- this is a best-effort abort suited to
// the core's invariant-violation-aborts error model, not a guarantee of
// in-memory rollback.
func (t *Txn) Abort() {
	t.release()
}

func (t *Txn) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for bn, b := range t.held {
		b.Unlock()
		t.bc.Put(bn)
	}
	t.held = make(map[common.Bnum]*buf.Buf)
	t.dirty = make(map[common.Bnum]*buf.Buf)
}
