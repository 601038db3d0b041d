package replica_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinxiao27/wavesync/internal/cc"
	"github.com/kevinxiao27/wavesync/internal/sequencer"
	"github.com/kevinxiao27/wavesync/internal/types"
)

var docs = []string{"main", "notes"}

const letters = "abcdefghijklmnopqrstuvwxyz"

type cluster struct {
	t      *testing.T
	rnd    *rand.Rand
	store  *sequencer.MemoryStore
	server *sequencer.Server
	nodes  []*node
	online []bool
}

func newCluster(t *testing.T, seed int64, size int) *cluster {
	c := &cluster{
		t:     t,
		rnd:   rand.New(rand.NewSource(seed)),
		store: sequencer.NewMemoryStore(),
	}
	c.server = newServer(t, c.store)
	for i := 0; i < size; i++ {
		n := newNode(t, types.Author(fmt.Sprintf("author-%d", i)))
		n.connect(t, c.server)
		c.nodes = append(c.nodes, n)
		c.online = append(c.online, true)
	}
	return c
}

func (c *cluster) edit(n *node) {
	doc := docs[c.rnd.Intn(len(docs))]
	text := n.Text(doc)
	if len(text) > 0 && c.rnd.Intn(10) < 3 {
		pos := c.rnd.Intn(len(text))
		size := 1 + c.rnd.Intn(min(3, len(text)-pos))
		require.NoError(c.t, n.Delete(doc, pos, size))
		return
	}
	value := make([]byte, 1+c.rnd.Intn(3))
	for i := range value {
		value[i] = letters[c.rnd.Intn(len(letters))]
	}
	require.NoError(c.t, n.Insert(doc, c.rnd.Intn(len(text)+1), string(value)))
}

// restart commits everything and brings up a fresh server on the same
// store. Every node is disconnected.
func (c *cluster) restart() {
	require.NoError(c.t, c.server.Commit())
	for i, n := range c.nodes {
		n.lb.Disconnect()
		c.online[i] = false
	}
	c.server = newServer(c.t, c.store)
}

func (c *cluster) step() {
	i := c.rnd.Intn(len(c.nodes))
	n := c.nodes[i]
	switch r := c.rnd.Intn(100); {
	case r < 40:
		c.edit(n)
	case r < 60:
		n.lb.Flush()
	case r < 85:
		n.pump(c.t)
	case r < 90:
		require.NoError(c.t, c.server.Commit())
	case r < 95:
		if c.online[i] {
			n.lb.Disconnect()
			c.online[i] = false
		}
	case r < 98:
		if !c.online[i] {
			require.NoError(c.t, n.lb.Connect(c.server, n.Control().ReconnectionVersions()))
			c.online[i] = true
		}
	default:
		c.restart()
	}
}

func (c *cluster) converge() {
	for i, n := range c.nodes {
		if !c.online[i] {
			require.NoError(c.t, n.lb.Connect(c.server, n.Control().ReconnectionVersions()))
			c.online[i] = true
		}
	}
	settle(c.t, c.nodes...)

	want := c.server.Snapshot()
	for _, n := range c.nodes {
		require.NoError(c.t, n.Err())
		assert.Equal(c.t, cc.StateIdle, n.Control().State(), "%s", n.Author())
		assert.Zero(c.t, n.Control().UnsavedData().EstimateUnacknowledged, "%s", n.Author())
		assert.Equal(c.t, c.server.Head().Version, n.Snapshot().Version, "%s", n.Author())
		for _, doc := range docs {
			assert.Equal(c.t, want.Text(doc), n.Text(doc), "%s document %s", n.Author(), doc)
		}
	}
}

func TestRandomSessionsConverge(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			c := newCluster(t, seed, 3)
			for i := 0; i < 400; i++ {
				c.step()
			}
			c.converge()

			require.NoError(t, c.server.Commit())
			for _, n := range c.nodes {
				n.pump(t)
				assert.Zero(t, n.Control().UnsavedData().EstimateUncommitted, "%s", n.Author())
			}
		})
	}
}
