// Package cc is the client side of the sync protocol. Control keeps at most
// one delta in flight, rebases local edits over the server's and recovers
// after reconnection. Queue buffers local edits until they can be sent.
package cc

import (
	"github.com/kevinxiao27/wavesync/internal/compact"
	"github.com/kevinxiao27/wavesync/internal/types"
)

// Edit is an atomic edit that knows who made it.
type Edit interface {
	Author() types.Author
}

// Delta is an ordered batch of edits by one author, targeted at a version.
type Delta[O any] struct {
	Author types.Author        `json:"author"`
	Target types.HashedVersion `json:"target"`
	Ops    []O                 `json:"ops"`
}

// ResultingVersion is the version the server reaches after applying d.
func (d Delta[O]) ResultingVersion() int64 {
	return d.Target.Version + int64(len(d.Ops))
}

// ServerDelta is a delta as applied by the server, already transformed
// against everything before it.
type ServerDelta[O any] struct {
	Author    types.Author        `json:"author"`
	AppliedAt int64               `json:"appliedAt"`
	Resulting types.HashedVersion `json:"resulting"`
	Ops       []O                 `json:"ops"`
}

// Ack confirms that the server applied a delta.
type Ack struct {
	Ops     int                 `json:"ops"`
	Version types.HashedVersion `json:"version"`
}

type ackedDelta[O any] struct {
	Delta Delta[O]
	Ack   Ack
}

// Transformer rebases two op sequences over each other. The results have
// the same lengths as the inputs unless ops are transformed away.
type Transformer[O any] interface {
	TransformDeltas(client, server []O) ([]O, []O, error)
}

// QueueAlgebra is what Queue needs from the edit algebra.
type QueueAlgebra[O any] interface {
	compact.Rules[O]
	Transformer[O]
}

// Algebra is what Control needs from the edit algebra.
type Algebra[O any] interface {
	QueueAlgebra[O]
	// VersionUpdate returns an edit that changes nothing but the version,
	// standing in for op once the server acknowledged it.
	VersionUpdate(op O, signed *types.HashedVersion) O
	// Same reports whether two sequences carry identical edits.
	Same(a, b []O) bool
}

// Connection is the outbound half of the transport.
type Connection[O any] interface {
	Send(d Delta[O])
	IsOpen() bool
	DebugProfilingInfo() string
}

// ConnectionListener is told when server edits are ready to Receive.
type ConnectionListener interface {
	OnOperationReceived()
}

// UnsavedDataListener observes how much local work is not yet durable.
type UnsavedDataListener interface {
	OnUpdate(u UnsavedData)
	OnClose(everythingCommitted bool)
}

// UnsavedData is a snapshot of unsaved-work estimates.
type UnsavedData struct {
	// InFlight is the size of the delta awaiting acknowledgement.
	InFlight int
	// EstimateUnacknowledged adds the queued edits to InFlight.
	EstimateUnacknowledged int
	// EstimateUncommitted adds acknowledged but uncommitted edits.
	EstimateUncommitted int
	LastAckVersion      int64
	LastCommitVersion   int64

	info func() string
}

// Info is a diagnostic dump of the connection and the control state. It is
// computed on demand.
func (u UnsavedData) Info() string {
	if u.info == nil {
		return ""
	}
	return u.info()
}
