// Package metrics holds the go-kit instruments of the sequencer and the
// client. Disabled instruments discard every observation.
package metrics

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/kevinxiao27/wavesync/internal/cc"
)

const namespace = "wavesync"

// Sequencer instruments the reference server.
type Sequencer struct {
	Deltas   metrics.Counter
	Ops      metrics.Counter
	Rejected metrics.Counter
	Commits  metrics.Counter
	Opens    metrics.Counter
	Sessions metrics.Gauge
	Version  metrics.Gauge
}

// NewSequencer registers the sequencer instruments with the default
// Prometheus registry, or discards when disabled. Register at most once per
// process.
func NewSequencer(enabled bool) *Sequencer {
	if !enabled {
		return &Sequencer{
			Deltas:   discard.NewCounter(),
			Ops:      discard.NewCounter(),
			Rejected: discard.NewCounter(),
			Commits:  discard.NewCounter(),
			Opens:    discard.NewCounter(),
			Sessions: discard.NewGauge(),
			Version:  discard.NewGauge(),
		}
	}
	counter := func(name, help string) metrics.Counter {
		return prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      name,
			Help:      help,
		}, nil)
	}
	gauge := func(name, help string) metrics.Gauge {
		return prometheus.NewGaugeFrom(prom.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      name,
			Help:      help,
		}, nil)
	}
	return &Sequencer{
		Deltas:   counter("deltas_total", "Number of applied client deltas"),
		Ops:      counter("ops_total", "Number of applied ops"),
		Rejected: counter("rejected_total", "Number of rejected client deltas"),
		Commits:  counter("commits_total", "Number of commits to the store"),
		Opens:    counter("opens_total", "Number of accepted connections"),
		Sessions: gauge("sessions", "Number of open sessions"),
		Version:  gauge("version", "Current wavelet version"),
	}
}

// Client instruments one client's unsaved work.
type Client struct {
	InFlight       metrics.Gauge
	Unacknowledged metrics.Gauge
	Uncommitted    metrics.Gauge
	LastAck        metrics.Gauge
	LastCommit     metrics.Gauge
	Closes         metrics.Counter
}

func NewClient(enabled bool) *Client {
	if !enabled {
		return &Client{
			InFlight:       discard.NewGauge(),
			Unacknowledged: discard.NewGauge(),
			Uncommitted:    discard.NewGauge(),
			LastAck:        discard.NewGauge(),
			LastCommit:     discard.NewGauge(),
			Closes:         discard.NewCounter(),
		}
	}
	gauge := func(name, help string) metrics.Gauge {
		return prometheus.NewGaugeFrom(prom.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      name,
			Help:      help,
		}, nil)
	}
	return &Client{
		InFlight:       gauge("inflight_ops", "Ops sent and not yet acknowledged"),
		Unacknowledged: gauge("unacknowledged_ops", "Estimated ops not yet acknowledged, queued included"),
		Uncommitted:    gauge("uncommitted_ops", "Estimated ops not yet committed"),
		LastAck:        gauge("last_ack_version", "Version of the newest acknowledgement"),
		LastCommit:     gauge("last_commit_version", "Version of the newest commit"),
		Closes: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "closes_total",
			Help:      "Sessions closed, by whether everything was committed",
		}, []string{"committed"}),
	}
}

// UnsavedGauges feeds a control's unsaved-data reports into Client gauges.
type UnsavedGauges struct {
	m      *Client
	logger log.Logger
}

var _ cc.UnsavedDataListener = (*UnsavedGauges)(nil)

func NewUnsavedGauges(m *Client, logger log.Logger) *UnsavedGauges {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &UnsavedGauges{m: m, logger: logger}
}

func (g *UnsavedGauges) OnUpdate(u cc.UnsavedData) {
	g.m.InFlight.Set(float64(u.InFlight))
	g.m.Unacknowledged.Set(float64(u.EstimateUnacknowledged))
	g.m.Uncommitted.Set(float64(u.EstimateUncommitted))
	g.m.LastAck.Set(float64(u.LastAckVersion))
	g.m.LastCommit.Set(float64(u.LastCommitVersion))
}

func (g *UnsavedGauges) OnClose(everythingCommitted bool) {
	committed := "false"
	if everythingCommitted {
		committed = "true"
	} else {
		level.Warn(g.logger).Log("msg", "session closed with uncommitted edits")
	}
	g.m.Closes.With("committed", committed).Add(1)
}
