// Package replica is a local copy of a wavelet that an editor changes
// directly. Local edits are applied at once and handed to the concurrency
// control; server edits are applied as the control releases them.
package replica

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/kevinxiao27/wavesync/internal/cc"
	"github.com/kevinxiao27/wavesync/internal/types"
	"github.com/kevinxiao27/wavesync/textop"
	"github.com/kevinxiao27/wavesync/wavelet"
)

// Replica is not safe for concurrent use. It must be driven from the same
// goroutine as its control.
type Replica struct {
	logger  log.Logger
	author  types.Author
	control *cc.Control[wavelet.Op]
	state   *wavelet.Wavelet
	err     error
}

// New returns an empty replica for author. start must be the version of the
// empty wavelet.
func New(logger log.Logger, author types.Author, start types.HashedVersion, opts ...cc.Option) *Replica {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = log.With(logger, "author", author)
	return &Replica{
		logger:  logger,
		author:  author,
		control: cc.New[wavelet.Op](logger, start, wavelet.Algebra{}, opts...),
		state:   wavelet.New(),
	}
}

// Attach initialises the control with conn.
func (r *Replica) Attach(conn cc.Connection[wavelet.Op]) error {
	return r.control.Initialise(conn, r)
}

func (r *Replica) Control() *cc.Control[wavelet.Op] {
	return r.control
}

func (r *Replica) Author() types.Author {
	return r.author
}

// Insert inserts value at byte offset pos of document doc.
func (r *Replica) Insert(doc string, pos int, value string) error {
	return r.Edit(wavelet.NewDocOp(wavelet.Ctx(r.author), doc, &textop.Insert{Pos: pos, Value: value}))
}

// Delete removes n bytes at pos of document doc.
func (r *Replica) Delete(doc string, pos, n int) error {
	text := r.state.Text(doc)
	if pos < 0 || n <= 0 || pos+n > len(text) {
		return errors.Errorf("delete [%d,%d) out of bounds of %s (len %d)", pos, pos+n, doc, len(text))
	}
	return r.Edit(wavelet.NewDocOp(wavelet.Ctx(r.author), doc, &textop.Delete{Pos: pos, Value: text[pos : pos+n]}))
}

func (r *Replica) AddParticipant(p types.Author) error {
	return r.Edit(wavelet.NewAddParticipant(wavelet.Ctx(r.author), p))
}

func (r *Replica) RemoveParticipant(p types.Author) error {
	return r.Edit(wavelet.NewRemoveParticipant(wavelet.Ctx(r.author), p))
}

// Edit applies ops locally and queues them for the server. Nothing is
// applied when any op fails or the control refuses them.
func (r *Replica) Edit(ops ...wavelet.Op) error {
	if r.err != nil {
		return r.err
	}
	next := r.state.Clone()
	for _, op := range ops {
		if op.Author() != r.author {
			return errors.Errorf("edit by %s on replica of %s", op.Author(), r.author)
		}
		if err := wavelet.ApplyLocal(op, next); err != nil {
			return cc.OperationError(err)
		}
	}
	if err := r.control.OnClientOperations(ops); err != nil {
		if !errors.Is(err, cc.ErrNotInitialised) && !errors.Is(err, cc.ErrClosed) {
			r.err = err
		}
		return err
	}
	r.state = next
	return nil
}

// OnOperationReceived applies every server edit the control has released.
func (r *Replica) OnOperationReceived() {
	for {
		op, ok := r.control.Receive()
		if !ok {
			return
		}
		if r.err != nil {
			continue
		}
		if err := wavelet.Apply(op, r.state); err != nil {
			r.err = cc.OperationError(errors.Wrapf(err, "applying %v", op))
			level.Error(r.logger).Log("msg", "server edit does not apply, replica diverged", "op", op, "err", err)
		}
	}
}

// Text returns the content of document doc.
func (r *Replica) Text(doc string) string {
	return r.state.Text(doc)
}

// Snapshot returns a copy of the local wavelet.
func (r *Replica) Snapshot() *wavelet.Wavelet {
	return r.state.Clone()
}

// Err is the first failure that left the replica out of step with its
// control. A replica with an error refuses further edits.
func (r *Replica) Err() error {
	return r.err
}
