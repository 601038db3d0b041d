package sequencer

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kevinxiao27/wavesync/internal/types"
	"github.com/kevinxiao27/wavesync/internal/wire"
	"github.com/kevinxiao27/wavesync/util"
	"github.com/kevinxiao27/wavesync/wavelet"
)

// Record is one applied delta as kept in history and in stores.
type Record struct {
	// Target and Submitted are the delta as the client sent it.
	Target    types.HashedVersion `json:"target"`
	Submitted []wavelet.Op        `json:"submitted"`
	Delta     wire.ServerDelta    `json:"delta"`
}

// opLog is the ordered history of applied deltas. Records are contiguous:
// each one is applied at the version the previous one resulted in.
type opLog struct {
	initial types.HashedVersion
	records []Record
	// known holds every version a client may resume from.
	known mapset.Set[types.HashedVersion]
}

func newOpLog(initial types.HashedVersion) *opLog {
	return &opLog{
		initial: initial,
		known:   mapset.NewThreadUnsafeSet(initial),
	}
}

func (l *opLog) head() types.HashedVersion {
	if len(l.records) == 0 {
		return l.initial
	}
	return l.records[len(l.records)-1].Delta.Resulting
}

func (l *opLog) append(r Record) {
	l.records = append(l.records, r)
	l.known.Add(r.Delta.Resulting)
}

func (l *opLog) knows(v types.HashedVersion) bool {
	return l.known.Contains(v)
}

// since returns the records applied at or after version.
func (l *opLog) since(version int64) []Record {
	i := sort.Search(len(l.records), func(i int) bool {
		return l.records[i].Delta.AppliedAt >= version
	})
	return l.records[i:]
}

// newest picks the latest of the offered versions that history contains.
func (l *opLog) newest(offered []types.HashedVersion) (types.HashedVersion, bool) {
	var best types.HashedVersion
	found := false
	for _, v := range offered {
		if l.knows(v) && (!found || best.Before(v)) {
			best, found = v, true
		}
	}
	return best, found
}

func deltasOf(records []Record) []wire.ServerDelta {
	return util.Map(records, func(r Record) wire.ServerDelta { return r.Delta })
}
