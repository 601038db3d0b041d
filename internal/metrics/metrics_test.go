package metrics

import (
	"testing"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/generic"
	"github.com/stretchr/testify/assert"

	"github.com/kevinxiao27/wavesync/internal/cc"
)

func TestDisabledInstrumentsDiscard(t *testing.T) {
	s := NewSequencer(false)
	s.Deltas.Add(1)
	s.Sessions.Set(3)
	c := NewClient(false)
	NewUnsavedGauges(c, nil).OnClose(false)
}

func TestUnsavedGauges(t *testing.T) {
	c := &Client{
		InFlight:       generic.NewGauge("inflight"),
		Unacknowledged: generic.NewGauge("unacknowledged"),
		Uncommitted:    generic.NewGauge("uncommitted"),
		LastAck:        generic.NewGauge("last_ack"),
		LastCommit:     generic.NewGauge("last_commit"),
		Closes:         &labelled{},
	}
	g := NewUnsavedGauges(c, nil)
	g.OnUpdate(cc.UnsavedData{
		InFlight:               2,
		EstimateUnacknowledged: 5,
		EstimateUncommitted:    9,
		LastAckVersion:         12,
		LastCommitVersion:      10,
	})
	assert.Equal(t, 2.0, c.InFlight.(*generic.Gauge).Value())
	assert.Equal(t, 5.0, c.Unacknowledged.(*generic.Gauge).Value())
	assert.Equal(t, 9.0, c.Uncommitted.(*generic.Gauge).Value())
	assert.Equal(t, 12.0, c.LastAck.(*generic.Gauge).Value())
	assert.Equal(t, 10.0, c.LastCommit.(*generic.Gauge).Value())

	g.OnClose(true)
	g.OnClose(false)
	g.OnClose(false)
	assert.Equal(t, map[string]float64{"true": 1, "false": 2}, c.Closes.(*labelled).byValue)
}

// labelled counts per value of a single label.
type labelled struct {
	byValue map[string]float64
	value   string
}

func (l *labelled) With(labelValues ...string) metrics.Counter {
	if l.byValue == nil {
		l.byValue = map[string]float64{}
	}
	return &labelled{byValue: l.byValue, value: labelValues[1]}
}

func (l *labelled) Add(delta float64) { l.byValue[l.value] += delta }
