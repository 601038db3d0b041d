// Package wire defines the JSON messages exchanged between clients and the
// sequencer.
package wire

import (
	"github.com/kevinxiao27/wavesync/internal/cc"
	"github.com/kevinxiao27/wavesync/internal/types"
	"github.com/kevinxiao27/wavesync/wavelet"
)

type Type string

const (
	// TypeConnect asks the server to resume from one of Versions.
	TypeConnect Type = "connect"
	// TypeOpen answers a connect with the resume point and the server head.
	TypeOpen   Type = "open"
	TypeSubmit Type = "submit"
	TypeAck    Type = "ack"
	TypeDeltas Type = "deltas"
	TypeCommit Type = "commit"
	TypeError  Type = "error"
)

type (
	Delta       = cc.Delta[wavelet.Op]
	ServerDelta = cc.ServerDelta[wavelet.Op]
)

// Message is the envelope for every frame. Only the fields of its Type are
// set.
type Message struct {
	Type     Type                  `json:"type"`
	Versions []types.HashedVersion `json:"versions,omitempty"`
	Connect  *types.HashedVersion  `json:"connect,omitempty"`
	Current  *types.HashedVersion  `json:"current,omitempty"`
	Delta    *Delta                `json:"delta,omitempty"`
	Ack      *cc.Ack               `json:"ack,omitempty"`
	Deltas   []ServerDelta         `json:"deltas,omitempty"`
	Version  int64                 `json:"version,omitempty"`
	Error    string                `json:"error,omitempty"`
}

func Connect(versions []types.HashedVersion) Message {
	return Message{Type: TypeConnect, Versions: versions}
}

func Open(connect, current types.HashedVersion) Message {
	return Message{Type: TypeOpen, Connect: &connect, Current: &current}
}

func Submit(d Delta) Message {
	return Message{Type: TypeSubmit, Delta: &d}
}

func Acked(a cc.Ack) Message {
	return Message{Type: TypeAck, Ack: &a}
}

func Deltas(ds []ServerDelta) Message {
	return Message{Type: TypeDeltas, Deltas: ds}
}

func Commit(version int64) Message {
	return Message{Type: TypeCommit, Version: version}
}

func Error(err error) Message {
	return Message{Type: TypeError, Error: err.Error()}
}
