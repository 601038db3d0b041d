package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/kevinxiao27/wavesync/internal/sequencer"
	"github.com/kevinxiao27/wavesync/internal/wire"
)

const writeWait = 10 * time.Second

// Handler serves sequencer sessions over websockets.
type Handler struct {
	logger   log.Logger
	server   *sequencer.Server
	buffer   int
	upgrader websocket.Upgrader

	mu   sync.Mutex
	live map[*session]struct{}
}

// NewHandler returns a handler whose sessions buffer up to buffer outgoing
// messages. A session that falls further behind is disconnected.
func NewHandler(logger log.Logger, server *sequencer.Server, buffer int) *Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Handler{
		logger: log.With(logger, "component", "ws"),
		server: server,
		buffer: buffer,
		live:   make(map[*session]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		level.Warn(h.logger).Log("msg", "upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	id := uuid.NewString()
	s := &session{
		id:     id,
		conn:   conn,
		send:   make(chan wire.Message, h.buffer),
		logger: log.With(h.logger, "session", id),
	}
	level.Info(s.logger).Log("msg", "client connected", "remote", r.RemoteAddr)

	h.mu.Lock()
	h.live[s] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.live, s)
		h.mu.Unlock()
	}()

	go s.writePump()
	s.readPump(h.server)
}

// Drop closes every live connection. Clients reconnect on their own.
func (h *Handler) Drop() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.live {
		s.close()
	}
	return len(h.live)
}

type session struct {
	id     string
	conn   *websocket.Conn
	send   chan wire.Message
	logger log.Logger
	once   sync.Once
}

func (s *session) ID() string {
	return s.id
}

// Deliver never blocks. A full buffer drops the connection and the client
// recovers by reconnecting.
func (s *session) Deliver(m wire.Message) {
	select {
	case s.send <- m:
	default:
		level.Warn(s.logger).Log("msg", "send buffer full, dropping client", "type", m.Type)
		s.close()
	}
}

func (s *session) close() {
	s.once.Do(func() { s.conn.Close() })
}

func (s *session) readPump(server *sequencer.Server) {
	defer func() {
		server.Close(s)
		// The write pump drains what is left and closes the connection.
		close(s.send)
		level.Info(s.logger).Log("msg", "client disconnected")
	}()
	for {
		var m wire.Message
		if err := s.conn.ReadJSON(&m); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				level.Debug(s.logger).Log("msg", "read failed", "err", err)
			}
			return
		}
		switch m.Type {
		case wire.TypeConnect:
			if err := server.Open(s, m.Versions); err != nil {
				return
			}
		case wire.TypeSubmit:
			if m.Delta == nil {
				s.Deliver(wire.Error(errors.New("submit without delta")))
				continue
			}
			_ = server.Submit(s, *m.Delta)
		default:
			s.Deliver(wire.Error(errors.Errorf("unexpected %q message", m.Type)))
		}
	}
}

func (s *session) writePump() {
	defer s.close()
	for m := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteJSON(m); err != nil {
			level.Debug(s.logger).Log("msg", "write failed", "err", err)
			return
		}
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
