package dc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// ReceiveFunc is the application's inbound-packet callback, registered
// once at NewControl time and invoked synchronously, per-source, by that
// source's receiver goroutine, in FIFO order (spec.md §4.1, §5: the
// transport does not serialize across sources).
type ReceiveFunc func(source ProcID, kind PacketKind, payload []byte, seqKey uint64)

// Control is the distributed-control facade of spec.md §4.1: it owns the
// communication layer, one sender and one receiver per peer, and the
// observability counters, and is the only type application code talks to.
type Control struct {
	cfg     Config
	handler ReceiveFunc

	self     ProcID
	machines machineList
	comm     *comm
	metrics  *Metrics
	tg       *threadGroup // accept loop, inbound handshakes, receivers
	senderTG *threadGroup // one send_loop per peer, joined before sockets close

	senders      []sender // indexed by ProcID; senders[self] is nil
	seqKey       *AtomicCounter
	initDone     bool
	closed       atomic.Bool
	shutdownOnce sync.Once
}

// NewControl constructs a Control that will invoke handler for every
// inbound packet once Init has established the mesh. Call Init before
// any other method.
func NewControl(handler ReceiveFunc, opts ...Option) *Control {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Control{
		cfg:      cfg,
		handler:  handler,
		tg:       &threadGroup{},
		senderTG: &threadGroup{},
		seqKey:   NewAtomicCounter(0),
	}
}

// Init establishes the full N×N mesh described in spec.md §4.4 and starts
// one sender and one receiver goroutine per peer. It is a collective
// operation: every process in machines must call Init concurrently, or
// some will block until AcceptTimeout elapses and fail with InitFailed.
func (c *Control) Init(ctx context.Context, machines []string, self ProcID) error {
	ml, err := parseMachineList(machines, self)
	if err != nil {
		c.fatal(err)
		return err
	}
	if c.cfg.BufferedSend && c.cfg.SendBufferSize <= HeaderSize {
		err := &ConfigurationError{Reason: "send_buffer_size must exceed the packet header size"}
		c.fatal(err)
		return err
	}
	if c.cfg.CombineLowerThreshold > c.cfg.CombineUpperThreshold {
		err := &ConfigurationError{Reason: "combine_lower_threshold must not exceed combine_upper_threshold"}
		c.fatal(err)
		return err
	}

	c.self = self
	c.machines = ml
	c.metrics = newMetrics(len(ml), c.cfg.GoMetricsSink)
	c.comm = newComm(self, ml, c.cfg, c.metrics, c.tg)
	c.metrics.channelActive = c.comm.ChannelActive

	if err := c.comm.init(ctx); err != nil {
		c.fatal(err)
		return err
	}

	c.senders = make([]sender, len(ml))
	for i := range ml {
		target := ProcID(i)
		if target == self {
			continue
		}
		c.senders[target] = newSender(target, c.comm, c.metrics, c.cfg, c.senderTG)
		r := newReceiver(target, c.comm, c.metrics, c.dispatch)
		c.tg.GoPinned("receiver", ioCore(c.cfg.PinIOThreads, target), r.run)
	}

	c.initDone = true
	slog.Info("dc: control initialized", "self", self, "num_procs", len(ml))
	return nil
}

func (c *Control) dispatch(source ProcID, kind PacketKind, seqKey uint64, payload []byte) {
	if c.handler != nil {
		c.handler(source, kind, payload, seqKey)
	}
}

// SendData frames payload with a header addressed to target and hands it
// to target's sender. It panics if target == c.ProcID() (spec.md §4.2:
// "send to self is a programming error") and returns ErrShutdown once
// Shutdown has begun.
func (c *Control) SendData(target ProcID, kind PacketKind, payload []byte) error {
	if target == c.self {
		panic("dc: SendData to self")
	}
	if c.closed.Load() {
		return ErrShutdown
	}
	if int(target) >= len(c.senders) || c.senders[target] == nil {
		return &ConfigurationError{Reason: fmt.Sprintf("unknown procid %d", target)}
	}

	packet := make([]byte, HeaderSize+len(payload))
	EncodeHeader(packet, Header{
		Len:                  uint32(len(payload)),
		Src:                  c.self,
		SequentializationKey: c.GetSequentializationKey(),
		PacketTypeMask:       kind,
	})
	copy(packet[HeaderSize:], payload)

	if err := c.senders[target].enqueue(packet); err != nil {
		return err
	}

	if !kind.IsControl() {
		c.metrics.addBytesSent(uint64(len(payload)))
	}
	if kind.IsCall() {
		c.metrics.incCallsSent(target)
	}
	return nil
}

// SendDataStream is the send_data(target, kind, stream) overload of
// spec.md §4.1. When n >= 0 it is the exact payload length and r is read
// for exactly n bytes without buffering the whole thing up front beyond
// that. When n == -1 the length is unknown ahead of time, so r is fully
// drained into memory first — the fallback path spec.md's design note
// calls "annoying but necessary", grounded on the original expqueue
// sender's send_data(..., std::istream&) overload.
func (c *Control) SendDataStream(target ProcID, kind PacketKind, r io.Reader, n int) error {
	if n >= 0 {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("dc: reading stream payload: %w", err)
		}
		return c.SendData(target, kind, buf)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("dc: draining stream payload: %w", err)
	}
	return c.SendData(target, kind, buf.Bytes())
}

// ProcID returns this process's id within the fixed membership set.
func (c *Control) ProcID() ProcID { return c.self }

// NumProcs returns the size of the fixed membership set.
func (c *Control) NumProcs() int { return len(c.machines) }

// GetSequentializationKey returns the next value from a monotonically
// increasing per-Control counter, for callers that need a cheap
// total order hint across packets they send (spec.md §3).
func (c *Control) GetSequentializationKey() uint64 {
	return uint64(c.seqKey.Inc())
}

// IncCallsSent and IncCallsReceived let an application-level RPC layer
// built on top of SendData/ReceiveFunc drive call accounting directly,
// bypassing the kind.IsCall() heuristic SendData/receiver otherwise use.
func (c *Control) IncCallsSent(target ProcID)     { c.metrics.incCallsSent(target) }
func (c *Control) IncCallsReceived(source ProcID) { c.metrics.incCallsReceived(source) }

// Metrics returns a point-in-time snapshot of every observability counter
// in spec.md §6.
func (c *Control) Metrics() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// ChannelActive reports whether target currently has a live connection.
func (c *Control) ChannelActive(target ProcID) bool {
	return c.comm.ChannelActive(target)
}

// Shutdown stops every sender and waits for its send_loop to drain
// whatever was already queued over the still-live socket (spec.md §8
// scenario S5), only THEN closes every socket, and finally waits for the
// receivers and accept loop to notice the closed sockets and return
// (spec.md §8 invariant 3). Idempotent: later calls are no-ops.
//
// The two-phase join (senderTG before comm.shutdown, tg after) matters:
// closing sockets before every send_loop has finished draining would race
// a still-flushing sender against the socket close, sometimes dropping
// the tail of what S5 promises is delivered.
func (c *Control) Shutdown() error {
	c.shutdownOnce.Do(func() {
		c.closed.Store(true)
		if !c.initDone {
			return
		}
		for _, s := range c.senders {
			if s != nil {
				s.shutdown()
			}
		}
		c.senderTG.Join()
		c.comm.shutdown()
		c.tg.Join()
		slog.Info("dc: control shut down", "self", c.self)
	})
	return nil
}

// fatal logs err at error level with fatal=true and terminates the
// process, unless a test-only fatal hook is installed (spec.md §7).
func (c *Control) fatal(err error) {
	slog.Error("dc: fatal error", "error", err, "fatal", true)
	if c.cfg.fatalHook != nil {
		c.cfg.fatalHook(err)
		return
	}
	os.Exit(1)
}
