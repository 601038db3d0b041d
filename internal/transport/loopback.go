package transport

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/kevinxiao27/wavesync/internal/cc"
	"github.com/kevinxiao27/wavesync/internal/sequencer"
	"github.com/kevinxiao27/wavesync/internal/types"
	"github.com/kevinxiao27/wavesync/internal/wire"
	"github.com/kevinxiao27/wavesync/wavelet"
)

// Loopback connects a control to an in-process sequencer. Nothing moves
// until the owner calls Flush (client to server) or Pump (server to
// client), so tests choose the interleaving.
type Loopback struct {
	id string

	mu     sync.Mutex
	server *sequencer.Server
	open   bool
	inbox  []wire.Message
	outbox []wire.Delta
}

func NewLoopback() *Loopback {
	return &Loopback{id: uuid.NewString()}
}

func (l *Loopback) ID() string {
	return l.id
}

// Deliver queues a server message until the next Pump.
func (l *Loopback) Deliver(m wire.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbox = append(l.inbox, m)
}

// Send queues a delta until the next Flush.
func (l *Loopback) Send(d wire.Delta) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.server != nil {
		l.outbox = append(l.outbox, d)
	}
}

// IsOpen is true once the server's open message has been pumped.
func (l *Loopback) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

func (l *Loopback) DebugProfilingInfo() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("loopback %s connected=%t open=%t inbox=%d outbox=%d",
		l.id, l.server != nil, l.open, len(l.inbox), len(l.outbox))
}

// Connect opens a session on server, offering versions to resume from.
func (l *Loopback) Connect(server *sequencer.Server, versions []types.HashedVersion) error {
	l.mu.Lock()
	if l.server != nil {
		l.mu.Unlock()
		return errors.New("loopback already connected")
	}
	l.server = server
	l.mu.Unlock()
	return server.Open(l, versions)
}

// Disconnect closes the session. Messages in transit either way are lost.
func (l *Loopback) Disconnect() {
	l.mu.Lock()
	s := l.server
	l.server, l.open = nil, false
	l.inbox, l.outbox = nil, nil
	l.mu.Unlock()
	if s != nil {
		s.Close(l)
	}
}

// Flush submits every queued delta and returns how many there were.
// Rejections come back as error messages.
func (l *Loopback) Flush() int {
	l.mu.Lock()
	s, out := l.server, l.outbox
	l.outbox = nil
	l.mu.Unlock()
	for _, d := range out {
		_ = s.Submit(l, d)
	}
	return len(out)
}

// Pump dispatches every queued server message to c. On error the
// undispatched messages stay queued.
func (l *Loopback) Pump(c *cc.Control[wavelet.Op]) (int, error) {
	l.mu.Lock()
	in := l.inbox
	l.inbox = nil
	l.mu.Unlock()

	for i, m := range in {
		if m.Type == wire.TypeOpen {
			l.mu.Lock()
			l.open = true
			l.mu.Unlock()
		}
		if err := Dispatch(c, m); err != nil {
			l.mu.Lock()
			l.inbox = append(in[i+1:len(in):len(in)], l.inbox...)
			l.mu.Unlock()
			return i + 1, err
		}
	}
	return len(in), nil
}
