// Package stats tracks per-operation latency counters for the filesystem
// core and renders them as a table, the way a storage engine's own
// internal profiling surface would.
package stats

import (
	"bytes"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rodaine/table"
)

// Op accumulates a call count and total latency for one operation kind.
// Safe for concurrent use: every field is updated with atomic ops so many
// goroutines can record against the same Op without a lock.
type Op struct {
	count uint32
	nanos uint64
}

func (op *Op) Record(start time.Time) {
	atomic.AddUint32(&op.count, 1)
	atomic.AddUint64(&op.nanos, uint64(time.Since(start).Nanoseconds()))
}

func (op Op) MicrosPerOp() float64 {
	if op.count == 0 {
		return 0
	}
	return float64(op.nanos) / float64(op.count) / 1e3
}

// Names enumerates the filesystem-core operations whose latency the fs
// package's per-operation counters array tracks, in table order.
var Names = []string{
	"iget", "ialloc", "bmap", "itrunc", "readi", "writei",
	"dirlookup", "dirlink", "dirunlink", "namei", "commit",
}

// Op* index Names and the parallel Op array fs.Fs embeds.
const (
	OpIget = iota
	OpIalloc
	OpBmap
	OpItrunc
	OpReadi
	OpWritei
	OpDirLookup
	OpDirLink
	OpDirUnlink
	OpNamei
	OpCommit
	NumOps
)

func WriteTable(names []string, ops []Op, w io.Writer) {
	if len(names) != len(ops) {
		panic("mismatched names and ops lists")
	}
	tbl := table.New("op", "count", "us/op")
	var total Op
	for i := range ops {
		op := Op{
			count: atomic.LoadUint32(&ops[i].count),
			nanos: atomic.LoadUint64(&ops[i].nanos),
		}
		total.count += op.count
		total.nanos += op.nanos
		tbl.AddRow(names[i], op.count, fmt.Sprintf("%0.1f", op.MicrosPerOp()))
	}
	tbl.AddRow("total", total.count, fmt.Sprintf("%0.1f", total.MicrosPerOp()))
	tbl.WithWriter(w).Print()
}

func FormatTable(names []string, ops []Op) string {
	buf := new(bytes.Buffer)
	WriteTable(names, ops, buf)
	return buf.String()
}
