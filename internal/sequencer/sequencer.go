// Package sequencer is a reference server for the sync protocol. It orders
// client deltas into one history, transforms each over whatever the client
// had not seen, signs the result with a hash chain and fans it out.
package sequencer

import (
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/kevinxiao27/wavesync/internal/cc"
	"github.com/kevinxiao27/wavesync/internal/metrics"
	"github.com/kevinxiao27/wavesync/internal/types"
	"github.com/kevinxiao27/wavesync/internal/wire"
	"github.com/kevinxiao27/wavesync/wavelet"
)

var (
	ErrNoCommonVersion = errors.New("none of the offered versions is known")
	ErrUnknownVersion  = errors.New("delta targets an unknown version")
)

// Session is a connected client. Deliver must not block and must not call
// back into the server.
type Session interface {
	ID() string
	Deliver(m wire.Message)
}

// Server is safe for concurrent use.
type Server struct {
	mu      sync.Mutex
	logger  log.Logger
	metrics *metrics.Sequencer
	alg     wavelet.Algebra

	history   *opLog
	state     *wavelet.Wavelet
	store     Store
	committed int64
	sessions  map[string]Session
}

// New restores the wavelet called name from store. Only committed deltas
// survive a restart.
func New(logger log.Logger, name string, store Store, m *metrics.Sequencer) (*Server, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if m == nil {
		m = metrics.NewSequencer(false)
	}
	records, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "loading history")
	}
	history, state, err := checkout(types.InitialVersion(name), records)
	if err != nil {
		return nil, err
	}
	s := &Server{
		logger:    log.With(logger, "component", "sequencer", "wavelet", name),
		metrics:   m,
		history:   history,
		state:     state,
		store:     store,
		committed: history.head().Version,
		sessions:  make(map[string]Session),
	}
	m.Version.Set(float64(s.committed))
	level.Info(s.logger).Log("msg", "restored", "head", history.head(), "deltas", len(records))
	return s, nil
}

// Open registers sess and resumes it from the newest of versions the
// history knows. The session receives an open message, every delta from
// that point on and the committed version.
func (s *Server) Open(sess Session, versions []types.HashedVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	connect, ok := s.history.newest(versions)
	if !ok {
		level.Warn(s.logger).Log("msg", "no common version", "session", sess.ID(), "offered", len(versions))
		sess.Deliver(wire.Error(ErrNoCommonVersion))
		return ErrNoCommonVersion
	}
	s.sessions[sess.ID()] = sess
	s.metrics.Opens.Add(1)
	s.metrics.Sessions.Set(float64(len(s.sessions)))

	head := s.history.head()
	level.Debug(s.logger).Log("msg", "open", "session", sess.ID(), "connect", connect, "current", head)
	sess.Deliver(wire.Open(connect, head))
	if later := s.history.since(connect.Version); len(later) > 0 {
		sess.Deliver(wire.Deltas(deltasOf(later)))
	}
	// A commit sent on an earlier connection may have been lost.
	if s.committed > 0 {
		sess.Deliver(wire.Commit(s.committed))
	}
	return nil
}

// Close forgets sess.
func (s *Server) Close(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID()]; !ok {
		return
	}
	delete(s.sessions, sess.ID())
	s.metrics.Sessions.Set(float64(len(s.sessions)))
	level.Debug(s.logger).Log("msg", "close", "session", sess.ID())
}

// Submit applies a client delta. The submitter gets an ack, every other
// open session gets the transformed delta. Rejected deltas are reported to
// the submitter as an error message.
func (s *Server) Submit(sess Session, d wire.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.submit(sess, d); err != nil {
		s.metrics.Rejected.Add(1)
		level.Warn(s.logger).Log("msg", "rejected delta", "session", sess.ID(), "target", d.Target, "err", err)
		sess.Deliver(wire.Error(err))
		return err
	}
	return nil
}

func (s *Server) submit(sess Session, d wire.Delta) error {
	if len(d.Ops) == 0 {
		return errors.New("empty delta")
	}
	for _, op := range d.Ops {
		if op.Author() != d.Author {
			return errors.Errorf("delta by %s carries an op by %s", d.Author, op.Author())
		}
	}
	if !s.history.knows(d.Target) {
		return errors.Wrapf(ErrUnknownVersion, "target %s", d.Target)
	}

	later := s.history.since(d.Target.Version)
	if len(later) > 0 {
		// A resend of a delta we already applied where it was aimed.
		if r := later[0]; r.Target == d.Target && r.Delta.Author == d.Author && s.alg.Same(r.Submitted, d.Ops) {
			level.Debug(s.logger).Log("msg", "duplicate delta", "session", sess.ID(), "resulting", r.Delta.Resulting)
			sess.Deliver(wire.Acked(cc.Ack{Ops: len(r.Delta.Ops), Version: r.Delta.Resulting}))
			return nil
		}
	}

	ops := d.Ops
	for _, r := range later {
		var err error
		if ops, _, err = s.alg.TransformDeltas(ops, r.Delta.Ops); err != nil {
			return errors.Wrapf(err, "transforming over delta at %d", r.Delta.AppliedAt)
		}
	}

	next := s.state.Clone()
	for _, op := range ops {
		if err := wavelet.Apply(op, next); err != nil {
			return cc.OperationError(err)
		}
	}

	head := s.history.head()
	resulting, err := sign(head, ops)
	if err != nil {
		return err
	}
	sd := wire.ServerDelta{Author: d.Author, AppliedAt: head.Version, Resulting: resulting, Ops: ops}
	s.history.append(Record{Target: d.Target, Submitted: d.Ops, Delta: sd})
	s.state = next

	s.metrics.Deltas.Add(1)
	s.metrics.Ops.Add(float64(len(ops)))
	s.metrics.Version.Set(float64(resulting.Version))
	level.Debug(s.logger).Log("msg", "applied", "author", d.Author, "target", d.Target, "resulting", resulting)

	sess.Deliver(wire.Acked(cc.Ack{Ops: len(ops), Version: resulting}))
	broadcast := wire.Deltas([]wire.ServerDelta{sd})
	for id, other := range s.sessions {
		if id != sess.ID() {
			other.Deliver(broadcast)
		}
	}
	return nil
}

// Commit makes every applied delta durable and tells all sessions.
func (s *Server) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.history.since(s.committed)
	if len(pending) == 0 {
		return nil
	}
	if err := s.store.Append(pending); err != nil {
		return errors.Wrap(err, "committing")
	}
	s.committed = s.history.head().Version
	s.metrics.Commits.Add(1)
	level.Debug(s.logger).Log("msg", "committed", "version", s.committed, "deltas", len(pending))

	m := wire.Commit(s.committed)
	for _, sess := range s.sessions {
		sess.Deliver(m)
	}
	return nil
}

// Head is the newest version.
func (s *Server) Head() types.HashedVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.head()
}

// Committed is the newest durable version.
func (s *Server) Committed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// Snapshot returns a copy of the current wavelet.
func (s *Server) Snapshot() *wavelet.Wavelet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}
