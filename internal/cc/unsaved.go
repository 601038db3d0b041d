package cc

import (
	"fmt"

	"github.com/kevinxiao27/wavesync/util"
)

// UnsavedData computes the current unsaved-work estimates.
func (c *Control[O]) UnsavedData() UnsavedData {
	inFlight := 0
	if c.unacked != nil {
		inFlight = len(c.unacked.Ops)
	}
	unacknowledged := c.queue.EstimateSize() + inFlight
	uncommitted := util.Reduce(c.acks, func(a Ack, n int) int { return n + a.Ops }, unacknowledged)
	lastAck := c.lastCommit
	if n := len(c.acks); n > 0 {
		lastAck = c.acks[n-1].Version.Version
	}
	return UnsavedData{
		InFlight:               inFlight,
		EstimateUnacknowledged: unacknowledged,
		EstimateUncommitted:    uncommitted,
		LastAckVersion:         lastAck,
		LastCommitVersion:      c.lastCommit,
		info:                   c.debugInfo,
	}
}

func (c *Control[O]) notifyUnsaved() {
	if c.unsaved != nil {
		c.unsaved.OnUpdate(c.UnsavedData())
	}
}

func (c *Control[O]) debugInfo() string {
	info := ""
	if c.conn != nil {
		info = c.conn.DebugProfilingInfo()
	}
	return fmt.Sprintf("%s\n====== CC Info ======\n%s", info, c)
}

type dumpedControl[O any] struct {
	State      string
	Start      string
	Watermark  string
	LastCommit int64
	Path       []ackedDelta[O]
	Acks       []Ack
	Unacked    *Delta[O]
	Incoming   []O
}

// String dumps the control state for diagnostics.
func (c *Control[O]) String() string {
	watermark := "none"
	if c.watermark != nil {
		watermark = c.watermark.String()
	}
	return dump.Sdump(dumpedControl[O]{
		State:      c.State().String(),
		Start:      c.start.String(),
		Watermark:  watermark,
		LastCommit: c.lastCommit,
		Path:       c.path,
		Acks:       c.acks,
		Unacked:    c.unacked,
		Incoming:   c.incoming,
	}) + "\n" + c.queue.String()
}
