// Package txn is the transaction/journal surface the rest of the
// filesystem core treats as an opaque collaborator (§4.5): Txn
// accumulates a transaction's held buffers plus its allocated/freed/new-
// inum bookkeeping; Log is the on-disk journal those transactions commit
// through. The core only ever calls add_allocated_block, add_free_block,
// add_block (via Attach) and log_new_file -- it never inspects the log's
// disk format.
package txn

import (
	"sync"

	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/sv6fs/corefs/common"
	"github.com/sv6fs/corefs/util"
)

// Log is a fixed-size on-disk journal: one header block followed by
// LOGSIZE-1 data blocks. The header is the durability/commit point -- a
// transaction's blocks are only replayed on crash recovery if the header
// names them, and the header is cleared only after every named block has
// been installed at its home location.
type Log struct {
	d     disk.Disk
	start common.Bnum // first block of the journal's footprint
	size  uint64       // total blocks reserved, header included

	mu   sync.Mutex
	seq  uint64 // monotonic transaction sequence, the record "timestamp"
}

// logHdr is the on-disk encoding of the header block: how many of the
// reserved data slots are live, the sequence number of the transaction
// they belong to, and the home block number each slot installs to.
type logHdr struct {
	count uint64
	seq   uint64
	addrs []uint64
}

func decodeHdr(blk disk.Block) logHdr {
	dec := marshal.NewDec(blk)
	count := dec.GetInt()
	seq := dec.GetInt()
	addrs := dec.GetInts(count)
	return logHdr{count: count, seq: seq, addrs: addrs}
}

func encodeHdr(h logHdr) disk.Block {
	enc := marshal.NewEnc(common.BSIZE)
	enc.PutInt(h.count)
	enc.PutInt(h.seq)
	enc.PutInts(h.addrs)
	return enc.Finish()
}

// MkLog carves out a fresh journal footprint of size blocks starting at
// start, and writes a cleared header. Used by mkfs.
func MkLog(d disk.Disk, start common.Bnum, size uint64) *Log {
	l := &Log{d: d, start: start, size: size}
	l.writeHdr(logHdr{})
	return l
}

// OpenLog attaches to an existing on-disk journal footprint without
// resetting it -- used at mount, immediately before Replay.
func OpenLog(d disk.Disk, start common.Bnum, size uint64) *Log {
	return &Log{d: d, start: start, size: size}
}

func (l *Log) hdrBlkno() uint64   { return uint64(l.start) }
func (l *Log) dataBlkno(i uint64) uint64 { return uint64(l.start) + 1 + i }

func (l *Log) readHdr() logHdr {
	return decodeHdr(l.d.Read(l.hdrBlkno()))
}

func (l *Log) writeHdr(h logHdr) {
	l.d.Write(l.hdrBlkno(), encodeHdr(h))
}

// record is one (blocknum, contents) pair a transaction is committing.
type Record struct {
	Blkno common.Bnum
	Data  disk.Block
}

// CommitTxn appends recs to the journal as a single atomic group: the
// data blocks are written first, then the header naming them becomes the
// commit point, then each block is installed to its home location and
// the header is cleared. If the core crashes after the header write but
// before the header clear, Replay finishes the install on the next
// mount.
func (l *Log) CommitTxn(recs []Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if uint64(len(recs)) > l.size-1 {
		return common.ErrOutOfBlocks
	}
	if len(recs) == 0 {
		return nil
	}

	addrs := make([]uint64, len(recs))
	for i, r := range recs {
		l.d.Write(l.dataBlkno(uint64(i)), r.Data)
		addrs[i] = uint64(r.Blkno)
	}
	l.seq++
	l.writeHdr(logHdr{count: uint64(len(recs)), seq: l.seq, addrs: addrs})
	l.d.Barrier()

	l.install(addrs)
	l.writeHdr(logHdr{})
	l.d.Barrier()
	return nil
}

func (l *Log) install(addrs []uint64) {
	for i, blkno := range addrs {
		blk := l.d.Read(l.dataBlkno(uint64(i)))
		l.d.Write(blkno, blk)
	}
}

// Replay finishes an install left incomplete by a crash between the
// header write and its clear. Called once at mount, before any
// transaction runs.
func (l *Log) Replay() {
	l.mu.Lock()
	defer l.mu.Unlock()

	h := l.readHdr()
	if h.count == 0 {
		return
	}
	util.DPrintf(1, "journal: replaying %d blocks from txn %d\n", h.count, h.seq)
	l.install(h.addrs)
	l.writeHdr(logHdr{})
	l.d.Barrier()
}
