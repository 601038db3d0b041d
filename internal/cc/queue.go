package cc

import (
	"fmt"

	"github.com/sanity-io/litter"

	"github.com/kevinxiao27/wavesync/internal/compact"
	"github.com/kevinxiao27/wavesync/internal/types"
)

// estimateHeadEntries is how many leading entries EstimateSize counts in full.
const estimateHeadEntries = 4

var dump = litter.Options{Compact: true, StripPackageNames: true, HidePrivateFields: false}

type entryState int

const (
	entryFresh entryState = iota
	entryOptimised
	// entrySent entries may already be on the server and are never merged.
	entrySent
)

func (s entryState) String() string {
	switch s {
	case entryOptimised:
		return "optimised"
	case entrySent:
		return "sent"
	}
	return "fresh"
}

type entry[O Edit] struct {
	ops   []O
	state entryState
}

func (e entry[O]) author() types.Author {
	return e.ops[0].Author()
}

// Queue buffers local edits as runs of same-author entries. Entries are
// never empty.
type Queue[O Edit] struct {
	alg     QueueAlgebra[O]
	entries []entry[O]
}

func NewQueue[O Edit](alg QueueAlgebra[O]) *Queue[O] {
	return &Queue[O]{alg: alg}
}

func (q *Queue[O]) IsEmpty() bool {
	return len(q.entries) == 0
}

// Len is the number of entries.
func (q *Queue[O]) Len() int {
	return len(q.entries)
}

func (q *Queue[O]) tail() *entry[O] {
	if len(q.entries) == 0 {
		return nil
	}
	return &q.entries[len(q.entries)-1]
}

// Add appends op to the trailing entry if it is fresh and has the same
// author, otherwise opens a new entry.
func (q *Queue[O]) Add(op O) {
	if t := q.tail(); t != nil && t.state == entryFresh && t.author() == op.Author() {
		t.ops = append(t.ops, op)
		return
	}
	q.entries = append(q.entries, entry[O]{ops: []O{op}, state: entryFresh})
}

// InsertHead puts a delta whose delivery is uncertain back at the front.
func (q *Queue[O]) InsertHead(ops []O) {
	if len(ops) == 0 {
		return
	}
	head := entry[O]{ops: append([]O(nil), ops...), state: entrySent}
	q.entries = append([]entry[O]{head}, q.entries...)
}

// EstimateSize approximates the number of queued edits without walking the
// whole queue. It never over-estimates.
func (q *Queue[O]) EstimateSize() int {
	estimate := 0
	n := len(q.entries)
	for i := 0; i < n && i < estimateHeadEntries; i++ {
		estimate += len(q.entries[i].ops)
	}
	if n > estimateHeadEntries {
		// The tail is where new edits land.
		estimate += len(q.entries[n-1].ops)
		if n > estimateHeadEntries+1 {
			estimate += n - estimateHeadEntries - 1
		}
	}
	return estimate
}

// Take removes the next batch to send: a sent entry alone, or the leading
// run of unsent entries by one author merged and compacted.
func (q *Queue[O]) Take() ([]O, error) {
	if q.IsEmpty() {
		return nil, ErrQueueEmpty
	}
	saved := q.entries
	e, err := q.takeMerged()
	if err != nil {
		q.entries = saved
		return nil, err
	}
	return e.ops, nil
}

func (q *Queue[O]) takeMerged() (entry[O], error) {
	head := q.entries[0]
	q.entries = q.entries[1:]
	if head.state == entrySent {
		return head, nil
	}

	author := head.author()
	ops := append([]O(nil), head.ops...)
	optimise := head.state != entryOptimised
	for len(q.entries) > 0 {
		next := q.entries[0]
		if next.state == entrySent || next.author() != author {
			break
		}
		ops = append(ops, next.ops...)
		q.entries = q.entries[1:]
		optimise = true
	}
	if optimise {
		var err error
		if ops, err = compact.Optimise(ops, q.alg); err != nil {
			return entry[O]{}, err
		}
	}
	return entry[O]{ops: ops, state: entryOptimised}, nil
}

// Transform rebases every entry, front to back, over server and returns
// server transformed over the whole queue. Entries transformed to nothing
// are dropped. On error the queue is left as it was.
func (q *Queue[O]) Transform(server []O) ([]O, error) {
	saved := q.entries
	var kept []entry[O]
	for len(q.entries) > 0 {
		e, err := q.takeMerged()
		if err != nil {
			q.entries = saved
			return nil, err
		}
		client, rebased, err := q.alg.TransformDeltas(e.ops, server)
		if err != nil {
			q.entries = saved
			return nil, err
		}
		server = rebased
		if len(client) > 0 {
			kept = append(kept, entry[O]{ops: client, state: e.state})
		}
	}
	q.entries = kept
	return server, nil
}

type dumpedEntry[O any] struct {
	State string
	Ops   []O
}

func (q *Queue[O]) String() string {
	entries := make([]dumpedEntry[O], len(q.entries))
	for i, e := range q.entries {
		entries[i] = dumpedEntry[O]{e.state.String(), e.ops}
	}
	return fmt.Sprintf("queue[%d] %s", len(q.entries), dump.Sdump(entries))
}
