package transport_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinxiao27/wavesync/internal/cc"
	"github.com/kevinxiao27/wavesync/internal/config"
	"github.com/kevinxiao27/wavesync/internal/replica"
	"github.com/kevinxiao27/wavesync/internal/sequencer"
	"github.com/kevinxiao27/wavesync/internal/transport"
	"github.com/kevinxiao27/wavesync/internal/types"
	"github.com/kevinxiao27/wavesync/wavelet"
)

const waveName = "wave://ws"

type peer struct {
	r      *replica.Replica
	client *transport.Client
	done   chan error
}

func startPeer(t *testing.T, ctx context.Context, url string, author types.Author) *peer {
	t.Helper()
	r := replica.New(nil, author, types.InitialVersion(waveName))
	rc := config.ReconnectConfig{Initial: 10 * time.Millisecond, Max: 100 * time.Millisecond}
	p := &peer{
		r:      r,
		client: transport.NewClient(nil, url, rc, r.Control()),
		done:   make(chan error, 1),
	}
	require.NoError(t, r.Attach(p.client))
	go func() { p.done <- p.client.Run(ctx) }()
	return p
}

func (p *peer) do(t *testing.T, fn func(r *replica.Replica) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.client.Do(ctx, func(*cc.Control[wavelet.Op]) error { return fn(p.r) }))
}

func (p *peer) text(doc string) string {
	var text string
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.client.Do(ctx, func(*cc.Control[wavelet.Op]) error {
		text = p.r.Text(doc)
		return nil
	})
	return text
}

func TestWebsocketSessionsConverge(t *testing.T) {
	s, err := sequencer.New(nil, waveName, sequencer.NewMemoryStore(), nil)
	require.NoError(t, err)
	router := mux.NewRouter()
	router.Handle("/ws", transport.NewHandler(nil, s, 64))
	ts := httptest.NewServer(router)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bob := startPeer(t, ctx, url, "bob")
	jim := startPeer(t, ctx, url, "jim")

	bob.do(t, func(r *replica.Replica) error { return r.Insert("main", 0, "hello") })
	jim.do(t, func(r *replica.Replica) error { return r.Insert("main", 0, "world") })
	bob.do(t, func(r *replica.Replica) error { return r.Insert("main", 0, ">") })

	require.Eventually(t, func() bool {
		want := s.Snapshot().Text("main")
		return len(want) == 11 && bob.text("main") == want && jim.text("main") == want
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Commit())
	require.Eventually(t, func() bool {
		var uncommitted int
		_ = bob.client.Do(ctx, func(c *cc.Control[wavelet.Op]) error {
			uncommitted = c.UnsavedData().EstimateUncommitted
			return nil
		})
		return uncommitted == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	for _, p := range []*peer{bob, jim} {
		select {
		case err := <-p.done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("client did not stop")
		}
		assert.ErrorIs(t, p.client.Do(context.Background(), func(*cc.Control[wavelet.Op]) error { return nil }), transport.ErrStopped)
	}
}

func TestWebsocketClientReconnects(t *testing.T) {
	s, err := sequencer.New(nil, waveName, sequencer.NewMemoryStore(), nil)
	require.NoError(t, err)
	h := transport.NewHandler(nil, s, 64)
	ts := httptest.NewServer(h)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bob := startPeer(t, ctx, url, "bob")
	bob.do(t, func(r *replica.Replica) error { return r.Insert("main", 0, "a") })
	require.Eventually(t, func() bool { return s.Head().Version == 1 }, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, h.Drop())
	bob.do(t, func(r *replica.Replica) error { return r.Insert("main", 1, "b") })
	require.Eventually(t, func() bool { return s.Snapshot().Text("main") == "ab" }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ab", bob.text("main"))
}
