package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinxiao27/wavesync/internal/replica"
	"github.com/kevinxiao27/wavesync/internal/transport"
	"github.com/kevinxiao27/wavesync/internal/types"
)

func TestExec(t *testing.T) {
	r := replica.New(nil, "bob", types.InitialVersion("wave://cli"))
	require.NoError(t, r.Attach(transport.NewLoopback()))
	var out bytes.Buffer
	s := &session{r: r, doc: "main", out: &out}

	require.NoError(t, s.exec("i 0 hello world"))
	require.NoError(t, s.exec("d 5 6"))
	require.NoError(t, s.exec("p"))
	assert.Equal(t, "main: \"hello\"\n", out.String())

	require.NoError(t, s.exec("doc notes"))
	require.NoError(t, s.exec("i 0 n"))
	assert.Equal(t, "n", r.Text("notes"))
	require.NoError(t, s.exec("add jim"))
	assert.True(t, r.Snapshot().Participants.Contains("jim"))
	require.NoError(t, s.exec(""))

	assert.Error(t, s.exec("i x y"))
	assert.Error(t, s.exec("i 0"))
	assert.Error(t, s.exec("d 0"))
	assert.Error(t, s.exec("rm"))

	out.Reset()
	require.NoError(t, s.exec("help"))
	assert.Equal(t, usage, out.String())
}
