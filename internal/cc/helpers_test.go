package cc_test

import (
	"github.com/kevinxiao27/wavesync/internal/cc"
	"github.com/kevinxiao27/wavesync/internal/types"
	"github.com/kevinxiao27/wavesync/textop"
	"github.com/kevinxiao27/wavesync/wavelet"
)

const (
	bob = types.Author("bob@example.com")
	jim = types.Author("jim@example.com")
)

// hv builds a hashed version with a hash derived from v.
func hv(v int64) types.HashedVersion {
	return types.HashedVersion{Version: v, Hash: uint64(v)*31 + 7}
}

func ins(pos int, s string) textop.Op { return &textop.Insert{Pos: pos, Value: s} }

func insOp(author types.Author, pos int, s string) wavelet.Op {
	return wavelet.NewDocOp(wavelet.Ctx(author), "main", ins(pos, s))
}

func encode(ops []wavelet.Op) [][]string {
	out := make([][]string, len(ops))
	for i, op := range ops {
		out[i] = op.Patch.Encode()
	}
	return out
}

type fakeConn struct {
	open bool
	sent []cc.Delta[wavelet.Op]
}

func (f *fakeConn) Send(d cc.Delta[wavelet.Op]) { f.sent = append(f.sent, d) }
func (f *fakeConn) IsOpen() bool                { return f.open }
func (f *fakeConn) DebugProfilingInfo() string  { return "fake connection" }

func (f *fakeConn) last() cc.Delta[wavelet.Op] { return f.sent[len(f.sent)-1] }

type fakeListener struct {
	calls     int
	onReceive func()
}

func (l *fakeListener) OnOperationReceived() {
	l.calls++
	if l.onReceive != nil {
		l.onReceive()
	}
}

type unsavedRecorder struct {
	updates []cc.UnsavedData
	closed  []bool
}

func (r *unsavedRecorder) OnUpdate(u cc.UnsavedData) { r.updates = append(r.updates, u) }
func (r *unsavedRecorder) OnClose(committed bool)    { r.closed = append(r.closed, committed) }

func (r *unsavedRecorder) last() cc.UnsavedData { return r.updates[len(r.updates)-1] }
