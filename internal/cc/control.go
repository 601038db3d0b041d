package cc

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/kevinxiao27/wavesync/internal/types"
	"github.com/kevinxiao27/wavesync/util"
)

// Option configures a Control.
type Option func(*options)

type options struct {
	unsaved UnsavedDataListener
}

// WithUnsavedDataListener reports unsaved-work estimates to l after every
// state change.
func WithUnsavedDataListener(l UnsavedDataListener) Option {
	return func(o *options) { o.unsaved = l }
}

// Control is the client-side protocol state machine. It is not safe for
// concurrent use: the owner calls it from a single event loop.
type Control[O Edit] struct {
	logger log.Logger
	alg    Algebra[O]

	// start is the last version the client and server provably agree on.
	start types.HashedVersion
	// watermark is the server's current version at reconnection. Until a
	// server delta reaches it, deltas may be echoes of our own.
	watermark *types.HashedVersion
	// path holds acknowledged deltas the server has not committed.
	path       []ackedDelta[O]
	acks       []Ack
	lastCommit int64
	unacked    *Delta[O]
	queue      *Queue[O]
	// incoming holds transformed server edits not yet received.
	incoming []O

	conn      Connection[O]
	listener  ConnectionListener
	unsaved   UnsavedDataListener
	pauseSend bool
	closed    bool
}

// New returns a control that agrees with the server at start.
func New[O Edit](logger log.Logger, start types.HashedVersion, alg Algebra[O], opts ...Option) *Control[O] {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Control[O]{
		logger:  log.With(logger, "component", "cc"),
		alg:     alg,
		start:   start,
		queue:   NewQueue[O](alg),
		unsaved: o.unsaved,
	}
}

// Initialise wires the connection and listener. It must be called exactly
// once, before anything else.
func (c *Control[O]) Initialise(conn Connection[O], listener ConnectionListener) error {
	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return errors.New("concurrency control initialised twice")
	}
	if conn == nil || listener == nil {
		return errors.New("initialised with nil connection or listener")
	}
	c.conn, c.listener = conn, listener
	return nil
}

func (c *Control[O]) ready() error {
	if c.closed {
		return ErrClosed
	}
	if c.conn == nil {
		return ErrNotInitialised
	}
	return nil
}

// State reports the protocol state.
func (c *Control[O]) State() State {
	switch {
	case c.closed:
		return StateClosed
	case c.conn == nil:
		return StateNew
	case c.watermark != nil:
		return StateRecovering
	case c.unacked != nil:
		return StateAwaitingAck
	}
	return StateIdle
}

// OnOpen resumes the session after the server accepted a connection at
// connect. current is the server's newest version.
func (c *Control[O]) OnOpen(connect, current types.HashedVersion) error {
	if err := c.ready(); err != nil {
		return err
	}
	if connect.Version < 0 || current.Version < connect.Version {
		return channelError("invalid open versions, connect %s, current %s", connect, current)
	}

	resend := -1
	if c.start == connect {
		resend = 0
	} else {
		for i, d := range c.path {
			if d.Ack.Version == connect {
				resend = i + 1
				break
			}
		}
	}

	switch {
	case resend < 0:
		return channelError("no matching version on reconnection, connect %s, current %s, offered %v",
			connect, current, c.ReconnectionVersions())
	case resend < len(c.path):
		c.requeueFrom(resend)
	case connect == current:
		// The server has nothing past our last acknowledged delta, so it
		// cannot have the unacknowledged one either.
		c.requeueFrom(resend)
	default:
		level.Debug(c.logger).Log("msg", "all versions matched on reconnection", "connect", connect, "current", current)
	}

	c.forgetAcksAfter(c.start.Version)
	if current.Version > connect.Version {
		c.watermark = &current
	} else {
		c.watermark = nil
	}
	c.notifyUnsaved()
	return c.sendDelta()
}

// requeueFrom moves path[from:] and the unacknowledged delta back to the
// head of the queue, in order.
func (c *Control[O]) requeueFrom(from int) {
	var deltas [][]O
	if from < len(c.path) {
		for _, d := range c.path[from:] {
			deltas = append(deltas, d.Delta.Ops)
		}
		c.path = c.path[:from]
	}
	if c.unacked != nil {
		deltas = append(deltas, c.unacked.Ops)
		c.unacked = nil
	}
	for i := len(deltas) - 1; i >= 0; i-- {
		c.queue.InsertHead(deltas[i])
	}
}

func (c *Control[O]) forgetAcksAfter(version int64) {
	c.acks = util.Filter(c.acks, func(a Ack) bool { return a.Version.Version <= version })
}

func (c *Control[O]) readyToSend() bool {
	ready := !c.pauseSend && c.conn.IsOpen()
	if !ready {
		level.Debug(c.logger).Log("msg", "not ready to send", "paused", c.pauseSend, "open", c.conn.IsOpen())
	}
	return ready
}

func (c *Control[O]) lastSignature() types.HashedVersion {
	if len(c.path) == 0 {
		return c.start
	}
	return c.path[len(c.path)-1].Ack.Version
}

func (c *Control[O]) sendDelta() error {
	if !c.readyToSend() {
		return nil
	}
	if c.unacked != nil {
		level.Debug(c.logger).Log("msg", "delta in flight", "target", c.unacked.Target)
		return nil
	}
	if c.queue.IsEmpty() {
		// The queue may have been transformed away.
		c.notifyUnsaved()
		return nil
	}

	c.watermark = nil
	ops, err := c.queue.Take()
	if err != nil {
		return transformError(err, "compacting queued edits")
	}
	d := Delta[O]{Author: ops[0].Author(), Target: c.lastSignature(), Ops: ops}
	c.unacked = &d
	level.Debug(c.logger).Log("msg", "sending delta", "author", d.Author, "target", d.Target, "ops", len(d.Ops))
	c.conn.Send(d)
	c.notifyUnsaved()
	return nil
}

// OnClientOperations queues local edits. They are first rebased over server
// edits the editor has not received yet.
func (c *Control[O]) OnClientOperations(ops []O) error {
	if err := c.ready(); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	client, server, err := c.alg.TransformDeltas(ops, c.incoming)
	if err != nil {
		return transformError(err, "rebasing client edits over undelivered server edits")
	}
	c.incoming = server
	for _, op := range client {
		c.queue.Add(op)
	}
	c.notifyUnsaved()
	return c.sendDelta()
}

// OnSuccess handles the server's acknowledgement of the delta in flight.
func (c *Control[O]) OnSuccess(opsApplied int, signature types.HashedVersion) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.ack(opsApplied, signature)
}

func (c *Control[O]) ack(opsApplied int, signature types.HashedVersion) error {
	if c.unacked == nil {
		return protocolError("ack for %d ops at %s with nothing in flight", opsApplied, signature)
	}
	if c.unacked.ResultingVersion() != signature.Version {
		return protocolError("ack at version %d, expected %d", signature.Version, c.unacked.ResultingVersion())
	}
	if opsApplied != len(c.unacked.Ops) {
		return protocolError("ack for %d ops, sent %d", opsApplied, len(c.unacked.Ops))
	}
	if n := len(c.acks); n > 0 && signature.Version <= c.acks[n-1].Version.Version {
		return protocolError("ack at %s is not after previous ack at %s", signature, c.acks[n-1].Version)
	}
	if c.unacked.Target.Version < c.start.Version {
		level.Error(c.logger).Log("msg", "unexpected ack for delta before start version",
			"target", c.unacked.Target, "start", c.start, "signature", signature)
	}

	a := Ack{Ops: opsApplied, Version: signature}
	if len(c.unacked.Ops) > 0 {
		c.path = append(c.path, ackedDelta[O]{Delta: *c.unacked, Ack: a})
	}
	c.acks = append(c.acks, a)

	// Queued edits and the editor still need to see the version advance.
	updates := make([]O, len(c.unacked.Ops))
	for i, op := range c.unacked.Ops {
		var signed *types.HashedVersion
		if i == len(updates)-1 {
			signed = &signature
		}
		updates[i] = c.alg.VersionUpdate(op, signed)
	}
	updates, err := c.queue.Transform(updates)
	if err != nil {
		return transformError(err, "rebasing queue over acknowledgement")
	}
	c.incoming = append(c.incoming, updates...)
	if len(c.incoming) > 0 {
		c.notifyReceived()
	}

	c.unacked = nil
	c.notifyUnsaved()
	return c.sendDelta()
}

// OnServerDeltas applies deltas from other clients, or echoes of our own
// after a reconnection.
func (c *Control[O]) OnServerDeltas(deltas []ServerDelta[O]) error {
	if err := c.ready(); err != nil {
		return err
	}
	if len(deltas) == 0 {
		level.Error(c.logger).Log("msg", "unexpected empty deltas")
		return nil
	}
	for _, d := range deltas {
		level.Debug(c.logger).Log("msg", "server delta", "author", d.Author, "applied", d.AppliedAt, "resulting", d.Resulting)
		if err := c.onServerDelta(d); err != nil {
			return err
		}
	}
	if len(c.incoming) > 0 {
		c.notifyReceived()
	}
	// Rebasing can compact the queue.
	c.notifyUnsaved()
	return c.sendDelta()
}

func (c *Control[O]) onServerDelta(d ServerDelta[O]) error {
	if latest := c.lastSignature().Version; d.AppliedAt < latest {
		return protocolError("server delta applied at %d is older than %d", d.AppliedAt, latest)
	}
	echo, err := c.detectEcho(d)
	if err != nil {
		return err
	}
	if !echo && c.unacked != nil && d.AppliedAt != c.unacked.Target.Version {
		return protocolError("server delta applied at %d, unacknowledged delta targets %s",
			d.AppliedAt, c.unacked.Target)
	}
	if c.watermark != nil && d.Resulting.Version >= c.watermark.Version {
		c.watermark = nil
	}
	if echo {
		return nil
	}

	// Nothing past a foreign delta can be recovered.
	c.path = nil
	c.start = d.Resulting

	ops := d.Ops
	if c.unacked != nil {
		client, server, err := c.alg.TransformDeltas(c.unacked.Ops, ops)
		if err != nil {
			return transformError(err, "rebasing unacknowledged delta")
		}
		ops = server
		c.unacked = &Delta[O]{Author: c.unacked.Author, Target: d.Resulting, Ops: client}
	}
	ops, err = c.queue.Transform(ops)
	if err != nil {
		return transformError(err, "rebasing queue over server delta")
	}
	c.incoming = append(c.incoming, ops...)
	return nil
}

// detectEcho recognises the server reporting our unacknowledged delta back
// while recovering, and treats it as the acknowledgement.
func (c *Control[O]) detectEcho(d ServerDelta[O]) (bool, error) {
	if c.watermark == nil || c.watermark.Version <= d.AppliedAt {
		return false, nil
	}
	if c.unacked != nil && c.alg.Same(d.Ops, c.unacked.Ops) {
		level.Debug(c.logger).Log("msg", "echo of unacknowledged delta", "resulting", d.Resulting)
		return true, c.ack(len(d.Ops), d.Resulting)
	}
	if *c.watermark == d.Resulting {
		// Caught up without seeing our delta: the server never got it.
		c.requeueFrom(len(c.path))
	}
	return false, nil
}

// OnCommit prunes everything the server has made durable up to version.
func (c *Control[O]) OnCommit(version int64) error {
	if err := c.ready(); err != nil {
		return err
	}
	for len(c.path) > 0 && c.path[0].Delta.ResultingVersion() <= version {
		c.start = c.path[0].Ack.Version
		c.path = c.path[1:]
	}
	for len(c.acks) > 0 && c.acks[0].Version.Version <= version {
		c.acks = c.acks[1:]
	}
	if version > c.lastCommit {
		c.lastCommit = version
	}
	level.Debug(c.logger).Log("msg", "commit", "version", version, "path", len(c.path), "inflight", c.unacked != nil)
	c.notifyUnsaved()
	return nil
}

// Close ends the session. Queued edits that were never sent are lost and
// reported with ErrUnsentEdits.
func (c *Control[O]) Close() error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	if c.unsaved != nil {
		c.unsaved.OnClose(len(c.acks) == 0 && c.unacked == nil)
	}
	if !c.queue.IsEmpty() {
		level.Error(c.logger).Log("msg", "closed with pending operations, data has been lost", "entries", c.queue.Len())
		return ErrUnsentEdits
	}
	return nil
}

// Receive pops the next server edit for the editor.
func (c *Control[O]) Receive() (O, bool) {
	var zero O
	if c.closed || len(c.incoming) == 0 {
		return zero, false
	}
	op := c.incoming[0]
	c.incoming = c.incoming[1:]
	return op, true
}

// Peek returns the next server edit without removing it.
func (c *Control[O]) Peek() (O, bool) {
	var zero O
	if c.closed || len(c.incoming) == 0 {
		return zero, false
	}
	return c.incoming[0], true
}

// ReconnectionVersions lists the versions the server may resume from,
// oldest first.
func (c *Control[O]) ReconnectionVersions() []types.HashedVersion {
	versions := make([]types.HashedVersion, 0, len(c.path)+1)
	versions = append(versions, c.start)
	for _, d := range c.path {
		versions = append(versions, d.Ack.Version)
	}
	return versions
}

// notifyReceived holds back sends while the listener runs, so edits it
// makes in response are batched.
func (c *Control[O]) notifyReceived() {
	paused := c.pauseSend
	c.pauseSend = true
	c.listener.OnOperationReceived()
	c.pauseSend = paused
}
