package dc

import (
	"expvar"
	"strconv"
	"sync/atomic"

	gometrics "github.com/hashicorp/go-metrics"
)

// metricsSeq generates unique IDs for expvar namespacing across Control
// instances, so multiple Controls in one process (e.g. a test binary
// spinning up several peers) don't collide on the same expvar name.
var metricsSeq atomic.Int64

// GoMetricsSink is the narrow interface this package needs from
// github.com/hashicorp/go-metrics, so Metrics doesn't depend on that
// package's global state unless the application opts in via
// WithGoMetricsSink.
type GoMetricsSink interface {
	IncrCounter(key []string, val float32)
}

// goMetricsGlobalSink adapts the package-level github.com/hashicorp/go-metrics
// functions (which report to whatever global sink the application
// configured, e.g. via gometrics.NewGlobal) to GoMetricsSink.
type goMetricsGlobalSink struct{}

func (goMetricsGlobalSink) IncrCounter(key []string, val float32) {
	gometrics.IncrCounter(key, val)
}

// GlobalGoMetricsSink reports through the process-wide github.com/hashicorp/go-metrics
// default sink. Pass it to WithGoMetricsSink to additionally emit this
// package's counters there, alongside the always-on expvar publication.
var GlobalGoMetricsSink GoMetricsSink = goMetricsGlobalSink{}

// Metrics tracks the observability counters spec.md §6 names:
// bytes_sent, network_bytes_sent, network_bytes_received, and per-peer
// calls_sent/calls_received. All counters are lock-free (atomic) and
// published to expvar under a "dc." prefix.
type Metrics struct {
	BytesSent            atomic.Uint64
	NetworkBytesSent     atomic.Uint64
	NetworkBytesReceived atomic.Uint64

	// Indexed by ProcID; sized to numProcs at construction, so no lock is
	// needed even though an arbitrary sender/receiver goroutine may touch
	// any peer's slot.
	callsSent     []atomic.Uint64
	callsReceived []atomic.Uint64

	channelActive func(ProcID) bool // set by Control once peers exist

	sink GoMetricsSink
}

func newMetrics(numProcs int, sink GoMetricsSink) *Metrics {
	m := &Metrics{
		callsSent:     make([]atomic.Uint64, numProcs),
		callsReceived: make([]atomic.Uint64, numProcs),
		sink:          sink,
	}

	seq := metricsSeq.Add(1)
	prefix := "dc." + strconv.FormatInt(seq, 10) + "."

	expvar.Publish(prefix+"bytes_sent", expvar.Func(func() any { return m.BytesSent.Load() }))
	expvar.Publish(prefix+"network_bytes_sent", expvar.Func(func() any { return m.NetworkBytesSent.Load() }))
	expvar.Publish(prefix+"network_bytes_received", expvar.Func(func() any { return m.NetworkBytesReceived.Load() }))
	expvar.Publish(prefix+"calls_sent", expvar.Func(func() any {
		out := make([]uint64, len(m.callsSent))
		for i := range m.callsSent {
			out[i] = m.callsSent[i].Load()
		}
		return out
	}))
	expvar.Publish(prefix+"calls_received", expvar.Func(func() any {
		out := make([]uint64, len(m.callsReceived))
		for i := range m.callsReceived {
			out[i] = m.callsReceived[i].Load()
		}
		return out
	}))

	return m
}

func (m *Metrics) addBytesSent(n uint64) {
	m.BytesSent.Add(n)
	m.emit([]string{"dc", "bytes_sent"}, n)
}

func (m *Metrics) addNetworkBytesSent(n uint64) {
	m.NetworkBytesSent.Add(n)
	m.emit([]string{"dc", "network_bytes_sent"}, n)
}

func (m *Metrics) addNetworkBytesReceived(n uint64) {
	m.NetworkBytesReceived.Add(n)
	m.emit([]string{"dc", "network_bytes_received"}, n)
}

func (m *Metrics) incCallsSent(target ProcID) {
	if int(target) >= len(m.callsSent) {
		return
	}
	m.callsSent[target].Add(1)
	m.emit([]string{"dc", "calls_sent"}, 1)
}

func (m *Metrics) incCallsReceived(source ProcID) {
	if int(source) >= len(m.callsReceived) {
		return
	}
	m.callsReceived[source].Add(1)
	m.emit([]string{"dc", "calls_received"}, 1)
}

func (m *Metrics) emit(key []string, n uint64) {
	if m.sink != nil {
		m.sink.IncrCounter(key, float32(n))
	}
}

// CallsSent returns calls_sent[target].
func (m *Metrics) CallsSent(target ProcID) uint64 {
	if int(target) >= len(m.callsSent) {
		return 0
	}
	return m.callsSent[target].Load()
}

// CallsReceived returns calls_received[source].
func (m *Metrics) CallsReceived(source ProcID) uint64 {
	if int(source) >= len(m.callsReceived) {
		return 0
	}
	return m.callsReceived[source].Load()
}

// PeerCounts is one peer's slice of a MetricsSnapshot.
type PeerCounts struct {
	CallsSent     uint64 `json:"calls_sent"`
	CallsReceived uint64 `json:"calls_received"`
	ChannelActive bool   `json:"channel_active"`
}

// MetricsSnapshot is a point-in-time, JSON-friendly view of Metrics.
type MetricsSnapshot struct {
	BytesSent            uint64                `json:"bytes_sent"`
	NetworkBytesSent     uint64                `json:"network_bytes_sent"`
	NetworkBytesReceived uint64                `json:"network_bytes_received"`
	Peers                map[ProcID]PeerCounts `json:"peers"`
}

// Snapshot returns all metric values, including a per-peer breakdown.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		BytesSent:            m.BytesSent.Load(),
		NetworkBytesSent:     m.NetworkBytesSent.Load(),
		NetworkBytesReceived: m.NetworkBytesReceived.Load(),
		Peers:                make(map[ProcID]PeerCounts, len(m.callsSent)),
	}
	for i := range m.callsSent {
		p := ProcID(i)
		active := false
		if m.channelActive != nil {
			active = m.channelActive(p)
		}
		snap.Peers[p] = PeerCounts{
			CallsSent:     m.callsSent[i].Load(),
			CallsReceived: m.callsReceived[i].Load(),
			ChannelActive: active,
		}
	}
	return snap
}
