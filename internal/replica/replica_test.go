package replica_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinxiao27/wavesync/internal/cc"
	"github.com/kevinxiao27/wavesync/internal/replica"
	"github.com/kevinxiao27/wavesync/internal/sequencer"
	"github.com/kevinxiao27/wavesync/internal/transport"
	"github.com/kevinxiao27/wavesync/internal/types"
	"github.com/kevinxiao27/wavesync/wavelet"
)

const name = "wave://replica"

type node struct {
	*replica.Replica
	lb *transport.Loopback
}

func newNode(t *testing.T, author types.Author) *node {
	t.Helper()
	n := &node{
		Replica: replica.New(nil, author, types.InitialVersion(name)),
		lb:      transport.NewLoopback(),
	}
	require.NoError(t, n.Attach(n.lb))
	return n
}

func (n *node) connect(t *testing.T, s *sequencer.Server) {
	t.Helper()
	require.NoError(t, n.lb.Connect(s, n.Control().ReconnectionVersions()))
	n.pump(t)
}

func (n *node) pump(t *testing.T) {
	t.Helper()
	_, err := n.lb.Pump(n.Control())
	require.NoError(t, err)
}

// settle moves messages both ways until nothing is left in transit.
func settle(t *testing.T, nodes ...*node) {
	t.Helper()
	for round := 0; round < 1000; round++ {
		moved := 0
		for _, n := range nodes {
			moved += n.lb.Flush()
			k, err := n.lb.Pump(n.Control())
			require.NoError(t, err)
			moved += k
		}
		if moved == 0 {
			return
		}
	}
	t.Fatal("messages still moving after 1000 rounds")
}

func newServer(t *testing.T, store sequencer.Store) *sequencer.Server {
	t.Helper()
	s, err := sequencer.New(nil, name, store, nil)
	require.NoError(t, err)
	return s
}

func TestLocalEditsApplyImmediately(t *testing.T) {
	bob := newNode(t, "bob")
	require.NoError(t, bob.Insert("main", 0, "hello"))
	require.NoError(t, bob.Insert("main", 5, " world"))
	require.NoError(t, bob.Delete("main", 0, 6))
	assert.Equal(t, "world", bob.Text("main"))
	assert.Equal(t, 3, bob.Control().UnsavedData().EstimateUnacknowledged)
}

func TestEditValidation(t *testing.T) {
	bob := newNode(t, "bob")
	require.NoError(t, bob.Insert("main", 0, "abc"))

	assert.Error(t, bob.Delete("main", 2, 2))
	assert.Error(t, bob.Delete("main", 0, 0))
	assert.True(t, cc.IsOperation(bob.Insert("main", 9, "x")))
	assert.True(t, cc.IsOperation(bob.RemoveParticipant("jim")))
	assert.Error(t, bob.Edit(wavelet.NewNoOp(wavelet.Ctx("jim"))))
	assert.Equal(t, "abc", bob.Text("main"))
}

func TestEditsCannotSplitCharacters(t *testing.T) {
	bob := newNode(t, "bob")
	require.NoError(t, bob.Insert("main", 0, "héllo"))

	assert.True(t, cc.IsOperation(bob.Delete("main", 1, 1)))
	assert.True(t, cc.IsOperation(bob.Delete("main", 2, 2)))
	assert.True(t, cc.IsOperation(bob.Insert("main", 2, "x")))
	assert.True(t, cc.IsOperation(bob.Insert("main", 0, "\xff")))
	assert.Equal(t, "héllo", bob.Text("main"))
	assert.NoError(t, bob.Err())

	require.NoError(t, bob.Delete("main", 1, 2))
	assert.Equal(t, "hllo", bob.Text("main"))
}

func TestVersionFollowsServer(t *testing.T) {
	s := newServer(t, sequencer.NewMemoryStore())
	bob, jim := newNode(t, "bob"), newNode(t, "jim")
	bob.connect(t, s)
	jim.connect(t, s)

	require.NoError(t, bob.Insert("main", 0, "a"))
	assert.Zero(t, bob.Snapshot().Version)
	require.NoError(t, bob.Insert("main", 1, "b"))
	require.NoError(t, jim.Insert("notes", 0, "j"))
	settle(t, bob, jim)

	assert.Equal(t, int64(3), s.Head().Version)
	for _, n := range []*node{bob, jim} {
		assert.Equal(t, s.Head().Version, n.Snapshot().Version, "%s", n.Author())
	}

	// d and e are typed while c is in flight, so they compose into one op
	// and the server counts one version for them.
	require.NoError(t, bob.Insert("main", 2, "c"))
	require.NoError(t, bob.Insert("main", 3, "d"))
	require.NoError(t, bob.Insert("main", 4, "e"))
	settle(t, bob, jim)
	assert.Equal(t, "abcde", s.Snapshot().Text("main"))
	assert.Equal(t, int64(5), s.Head().Version)
	for _, n := range []*node{bob, jim} {
		assert.Equal(t, s.Head().Version, n.Snapshot().Version, "%s", n.Author())
	}
}

func TestEditRequiresAttach(t *testing.T) {
	r := replica.New(nil, "bob", types.InitialVersion(name))
	assert.ErrorIs(t, r.Insert("main", 0, "x"), cc.ErrNotInitialised)
}

func TestConcurrentEditsConverge(t *testing.T) {
	s := newServer(t, sequencer.NewMemoryStore())
	bob, jim := newNode(t, "bob"), newNode(t, "jim")
	bob.connect(t, s)
	jim.connect(t, s)

	require.NoError(t, bob.Insert("main", 0, "hello"))
	require.NoError(t, jim.Insert("main", 0, "world"))
	require.NoError(t, jim.AddParticipant("bob"))
	require.NoError(t, bob.AddParticipant("jim"))
	settle(t, bob, jim)

	want := s.Snapshot()
	// The server side wins ties, so the later submission shifts right.
	assert.Equal(t, "helloworld", want.Text("main"))
	for _, n := range []*node{bob, jim} {
		assert.True(t, wavelet.Equivalent(want, n.Snapshot()), "%s has %v", n.Author(), n.Snapshot())
		assert.Equal(t, s.Head().Version, n.Snapshot().Version, "%s", n.Author())
		assert.Equal(t, cc.StateIdle, n.Control().State())
		assert.NoError(t, n.Err())
	}
	assert.ElementsMatch(t, []types.Author{"bob", "jim"}, want.Participants.ToSlice())
}

func TestLateJoinerCatchesUp(t *testing.T) {
	s := newServer(t, sequencer.NewMemoryStore())
	bob := newNode(t, "bob")
	bob.connect(t, s)
	require.NoError(t, bob.Insert("main", 0, "abc"))
	require.NoError(t, bob.Insert("notes", 0, "n"))
	settle(t, bob)

	jim := newNode(t, "jim")
	jim.connect(t, s)
	assert.Equal(t, "abc", jim.Text("main"))
	assert.Equal(t, "n", jim.Text("notes"))
	assert.Equal(t, cc.StateIdle, jim.Control().State())
}

func TestReconnectAfterLostAck(t *testing.T) {
	s := newServer(t, sequencer.NewMemoryStore())
	bob := newNode(t, "bob")
	bob.connect(t, s)

	require.NoError(t, bob.Insert("main", 0, "a"))
	require.Equal(t, 1, bob.lb.Flush())
	bob.lb.Disconnect()
	assert.Equal(t, cc.StateAwaitingAck, bob.Control().State())

	require.NoError(t, bob.Insert("main", 1, "b"))
	bob.connect(t, s)
	settle(t, bob)

	assert.Equal(t, "ab", s.Snapshot().Text("main"))
	assert.Equal(t, int64(2), s.Head().Version)
	assert.Equal(t, int64(2), bob.Snapshot().Version)
	assert.Equal(t, cc.StateIdle, bob.Control().State())
	assert.Zero(t, bob.Control().UnsavedData().EstimateUnacknowledged)
}

func TestReconnectAfterLostSubmit(t *testing.T) {
	s := newServer(t, sequencer.NewMemoryStore())
	bob, jim := newNode(t, "bob"), newNode(t, "jim")
	bob.connect(t, s)
	jim.connect(t, s)

	require.NoError(t, bob.Insert("main", 0, "a"))
	bob.lb.Disconnect()
	require.NoError(t, jim.Insert("main", 0, "j"))
	settle(t, jim)

	bob.connect(t, s)
	settle(t, bob, jim)

	assert.Equal(t, "ja", s.Snapshot().Text("main"))
	assert.Equal(t, "ja", bob.Text("main"))
	assert.Equal(t, "ja", jim.Text("main"))
	assert.Equal(t, int64(2), s.Head().Version)
}

func TestRestartLosesUncommittedDeltas(t *testing.T) {
	store := sequencer.NewMemoryStore()
	s := newServer(t, store)
	bob := newNode(t, "bob")
	bob.connect(t, s)

	require.NoError(t, bob.Insert("main", 0, "a"))
	settle(t, bob)
	require.NoError(t, s.Commit())
	require.NoError(t, bob.Insert("main", 1, "b"))
	settle(t, bob)
	assert.Equal(t, 1, bob.Control().UnsavedData().EstimateUncommitted)

	bob.lb.Disconnect()
	s = newServer(t, store)
	assert.Equal(t, "a", s.Snapshot().Text("main"))

	bob.connect(t, s)
	settle(t, bob)
	assert.Equal(t, "ab", s.Snapshot().Text("main"))
	assert.Equal(t, s.Head().Version, bob.Snapshot().Version)
	assert.Equal(t, cc.StateIdle, bob.Control().State())
}
