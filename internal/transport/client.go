package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/kevinxiao27/wavesync/internal/cc"
	"github.com/kevinxiao27/wavesync/internal/config"
	"github.com/kevinxiao27/wavesync/internal/wire"
	"github.com/kevinxiao27/wavesync/wavelet"
)

// ErrStopped is returned by Do once Run has returned.
var ErrStopped = errors.New("client stopped")

type job struct {
	fn   func(c *cc.Control[wavelet.Op]) error
	done chan error
}

type dialed struct {
	conn *websocket.Conn
	err  error
}

// Client keeps a websocket session to the sequencer alive and owns the
// control. Every call into the control happens on the goroutine running
// Run; other goroutines go through Do.
type Client struct {
	logger    log.Logger
	url       string
	reconnect config.ReconnectConfig
	control   *cc.Control[wavelet.Op]

	jobs    chan job
	stopped chan struct{}

	// Owned by the Run goroutine.
	conn    *websocket.Conn
	open    bool
	frames  chan wire.Message
	readErr chan error
	stop    chan struct{}
	dials   int
}

// NewClient returns a client for control. The caller initialises control
// with the client as its connection before calling Run.
func NewClient(logger log.Logger, url string, rc config.ReconnectConfig, control *cc.Control[wavelet.Op]) *Client {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Client{
		logger:    log.With(logger, "component", "client", "url", url),
		url:       url,
		reconnect: rc,
		control:   control,
		jobs:      make(chan job),
		stopped:   make(chan struct{}),
	}
}

// Send writes d to the current connection. A failed write drops the
// connection and the delta is recovered after reconnecting.
func (c *Client) Send(d wire.Delta) {
	if c.conn == nil {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(wire.Submit(d)); err != nil {
		level.Warn(c.logger).Log("msg", "send failed", "err", err)
		c.open = false
		c.conn.Close()
	}
}

func (c *Client) IsOpen() bool {
	return c.open
}

func (c *Client) DebugProfilingInfo() string {
	return fmt.Sprintf("websocket %s connected=%t open=%t dials=%d", c.url, c.conn != nil, c.open, c.dials)
}

// Do runs fn on the Run goroutine and returns its error.
func (c *Client) Do(ctx context.Context, fn func(c *cc.Control[wavelet.Op]) error) error {
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case c.jobs <- j:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run connects and reconnects with exponential backoff until ctx is done,
// the backoff gives up or the control fails. The control is closed on
// return.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.stopped)
	defer func() {
		c.detach()
		if cerr := c.control.Close(); cerr != nil {
			level.Warn(c.logger).Log("msg", "closing control", "err", cerr)
		}
	}()

	dials := make(chan dialed, 1)
	go c.dial(ctx, dials)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-c.jobs:
			j.done <- j.fn(c.control)
		case d := <-dials:
			if d.err != nil {
				return errors.Wrap(d.err, "connecting")
			}
			c.attach(d.conn)
		case m := <-c.frames:
			if m.Type == wire.TypeOpen {
				c.open = true
			}
			if err := Dispatch(c.control, m); err != nil {
				level.Error(c.logger).Log("msg", "dispatch failed", "type", m.Type, "err", err)
				return err
			}
		case err := <-c.readErr:
			level.Info(c.logger).Log("msg", "connection lost", "err", err)
			c.detach()
			go c.dial(ctx, dials)
		}
	}
}

func (c *Client) dial(ctx context.Context, out chan<- dialed) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.reconnect.Initial
	b.MaxInterval = c.reconnect.Max
	b.MaxElapsedTime = c.reconnect.MaxElapsed

	var conn *websocket.Conn
	err := backoff.RetryNotify(func() error {
		var err error
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		level.Debug(c.logger).Log("msg", "dial failed", "retry", wait, "err", err)
	})
	out <- dialed{conn: conn, err: err}
}

// attach resumes the session on conn from the versions the control can
// recover from.
func (c *Client) attach(conn *websocket.Conn) {
	c.dials++
	c.conn = conn
	c.frames = make(chan wire.Message)
	c.readErr = make(chan error, 1)
	c.stop = make(chan struct{})
	go read(conn, c.frames, c.readErr, c.stop)

	versions := c.control.ReconnectionVersions()
	level.Info(c.logger).Log("msg", "connected", "offered", len(versions), "newest", versions[len(versions)-1])
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(wire.Connect(versions)); err != nil {
		c.conn.Close()
	}
}

func (c *Client) detach() {
	if c.conn == nil {
		return
	}
	close(c.stop)
	c.conn.Close()
	c.conn, c.open = nil, false
	c.frames, c.readErr, c.stop = nil, nil, nil
}

func read(conn *websocket.Conn, frames chan<- wire.Message, errs chan<- error, stop <-chan struct{}) {
	for {
		var m wire.Message
		if err := conn.ReadJSON(&m); err != nil {
			errs <- err
			return
		}
		select {
		case frames <- m:
		case <-stop:
			return
		}
	}
}
