// Package transport carries wire messages between a client's concurrency
// control and the sequencer, either in process or over a websocket.
package transport

import (
	"github.com/pkg/errors"

	"github.com/kevinxiao27/wavesync/internal/cc"
	"github.com/kevinxiao27/wavesync/internal/wire"
	"github.com/kevinxiao27/wavesync/wavelet"
)

// ErrRejected wraps an error message sent by the server.
var ErrRejected = errors.New("rejected by server")

// Dispatch feeds a server message to c.
func Dispatch(c *cc.Control[wavelet.Op], m wire.Message) error {
	switch m.Type {
	case wire.TypeOpen:
		if m.Connect == nil || m.Current == nil {
			return errors.New("open message without versions")
		}
		return c.OnOpen(*m.Connect, *m.Current)
	case wire.TypeAck:
		if m.Ack == nil {
			return errors.New("ack message without ack")
		}
		return c.OnSuccess(m.Ack.Ops, m.Ack.Version)
	case wire.TypeDeltas:
		return c.OnServerDeltas(m.Deltas)
	case wire.TypeCommit:
		return c.OnCommit(m.Version)
	case wire.TypeError:
		return errors.Wrap(ErrRejected, m.Error)
	}
	return errors.Errorf("unexpected %q message", m.Type)
}
