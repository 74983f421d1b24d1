package dc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Capability is the transport-capability flag from spec.md §4.4.
type Capability int

// CommStream indicates the transport is stream-oriented (no datagram
// semantics) — the only capability this comm layer ever reports.
const CommStream Capability = 1

// commWriteTimeout bounds every socket write; on timeout the connection is
// treated exactly like any other write error (ConnectionLost).
const commWriteTimeout = 10 * time.Second

// commPeer holds one ordered-pair's connection state (spec.md §3 "Peer
// state"). A single bidirectional TCP socket serves both directions of an
// unordered pair {self, peer}: whichever of the two processes has the
// larger id dials out, the other accepts — so the comm layer's "bijection
// between live peer ids and connected TCP sockets" (spec.md §3 invariant)
// holds with exactly one socket per peer, not two.
type commPeer struct {
	id   ProcID
	addr string

	mu     sync.Mutex
	conn   net.Conn
	active atomic.Bool

	// lastWriteDeadline is the coarseNow value (seconds) as of the last
	// SetWriteDeadline call on conn. Touched only by the one sender
	// goroutine that owns this peer's writes, so it needs no lock of its
	// own (spec.md §5: "each TCP socket is owned exclusively by its
	// sender I/O thread for writes"). Refreshing the deadline at most
	// about once a second instead of on every Send avoids a syscall
	// per packet, the same tradeoff the teacher's transport.go makes with
	// coarseNow around its own per-write deadline.
	lastWriteDeadline int64
}

// comm is the communication layer of spec.md §4.4: it establishes the
// full N×N TCP mesh, and exposes Send/Send2/ChannelActive/Capabilities
// plus running totals of bytes sent/received.
type comm struct {
	self     ProcID
	machines machineList
	cfg      Config
	metrics  *Metrics
	tg       *threadGroup

	listener net.Listener
	peers    []*commPeer // indexed by ProcID; peers[self] is unused

	done chan struct{}
}

func newComm(self ProcID, machines machineList, cfg Config, metrics *Metrics, tg *threadGroup) *comm {
	c := &comm{
		self:     self,
		machines: machines,
		cfg:      cfg,
		metrics:  metrics,
		tg:       tg,
		peers:    make([]*commPeer, len(machines)),
		done:     make(chan struct{}),
	}
	for i, addr := range machines {
		if ProcID(i) == self {
			continue
		}
		c.peers[i] = &commPeer{id: ProcID(i), addr: addr}
	}
	return c
}

// init opens the listening socket, connects outbound to every peer with a
// smaller id than self (the "symmetric rule" of spec.md §4.4 — the higher
// id always initiates), accepts inbound connections from every peer with
// a larger id, and returns only once every peer has a live socket. acceptLoop
// is started before dialing so a concurrent peer's inbound connect is
// never missed.
func (c *comm) init(ctx context.Context) error {
	selfAddr, err := c.machines.addr(c.self)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", selfAddr)
	if err != nil {
		return &InitFailed{Peer: c.self, Cause: fmt.Errorf("listen on %s: %w", selfAddr, err)}
	}
	c.listener = ln

	c.tg.Go("comm-accept-loop", c.acceptLoop)

	// Dial outbound to every peer with a smaller id than self.
	for i, p := range c.peers {
		if p == nil || ProcID(i) >= c.self {
			continue
		}
		if err := c.dialWithRetry(p); err != nil {
			return err
		}
	}

	// Wait for every peer with a larger id to dial us.
	deadline := time.Now().Add(c.cfg.AcceptTimeout)
	for i, p := range c.peers {
		if p == nil || ProcID(i) <= c.self {
			continue
		}
		for !p.active.Load() {
			if time.Now().After(deadline) {
				return &InitFailed{Peer: p.id, Cause: errors.New("timed out waiting for inbound connection")}
			}
			select {
			case <-ctx.Done():
				return &InitFailed{Peer: p.id, Cause: ctx.Err()}
			case <-time.After(10 * time.Millisecond):
			}
		}
	}

	return nil
}

func (c *comm) dialWithRetry(p *commPeer) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.ConnectRetries; attempt++ {
		conn, err := net.DialTimeout("tcp", p.addr, 5*time.Second)
		if err == nil {
			if err := c.identify(conn, p); err != nil {
				conn.Close()
				lastErr = err
			} else {
				c.setConn(p, conn, true)
				return nil
			}
		} else {
			lastErr = err
		}
		slog.Warn("dc: connect attempt failed", "peer", p.id, "addr", p.addr, "attempt", attempt, "error", lastErr)
		time.Sleep(c.cfg.ConnectRetryDelay)
	}
	return &InitFailed{Peer: p.id, Cause: lastErr}
}

// identify performs the connection-setup handshake of spec.md §6: the
// initiator writes its procid as a fixed-width integer in network order so
// the acceptor can index the new socket into its peer table. No further
// handshake.
func (c *comm) identify(conn net.Conn, p *commPeer) error {
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], uint32(c.self))
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(idBuf[:]); err != nil {
		return fmt.Errorf("write procid to %d: %w", p.id, err)
	}
	conn.SetDeadline(time.Time{})
	c.applySocketOptions(conn)
	return nil
}

func (c *comm) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
				slog.Error("dc: accept error", "error", err)
				continue
			}
		}
		c.tg.Go("comm-handle-inbound", func() { c.handleInbound(conn) })
	}
}

func (c *comm) handleInbound(conn net.Conn) {
	var idBuf [4]byte
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, idBuf[:]); err != nil {
		slog.Error("dc: inbound handshake read failed", "error", err)
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{})
	remote := ProcID(binary.BigEndian.Uint32(idBuf[:]))

	if int(remote) >= len(c.peers) || c.peers[remote] == nil {
		slog.Error("dc: inbound connection from unknown procid", "procid", remote)
		conn.Close()
		return
	}
	c.applySocketOptions(conn)
	c.setConn(c.peers[remote], conn, false)
}

func (c *comm) applySocketOptions(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(c.cfg.TCPNoDelay)
		tc.SetReadBuffer(1 << 20)
		tc.SetWriteBuffer(1 << 20)
	}
}

func (c *comm) setConn(p *commPeer, conn net.Conn, outbound bool) {
	p.mu.Lock()
	old := p.conn
	p.conn = conn
	p.mu.Unlock()
	p.active.Store(true)
	if old != nil && old != conn {
		old.Close()
	}
	slog.Info("dc: peer connected", "peer", p.id, "outbound", outbound)
}

// Conn returns the live connection for target, for the receiver to read
// from, or nil if no connection is currently established.
func (c *comm) Conn(target ProcID) net.Conn {
	p := c.peerOrNil(target)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// ChannelActive reports whether target currently has a live connection
// (spec.md §4.4).
func (c *comm) ChannelActive(target ProcID) bool {
	p := c.peerOrNil(target)
	return p != nil && p.active.Load()
}

// Capabilities always reports CommStream (spec.md §4.4).
func (c *comm) Capabilities() Capability {
	return CommStream
}

// Send is a blocking gather-send: it loops write until all of buf is
// delivered, retrying on partial writes (spec.md §4.4).
func (c *comm) Send(target ProcID, buf []byte) error {
	conn, p, err := c.liveConn(target)
	if err != nil {
		return err
	}
	c.refreshWriteDeadline(conn, p)
	if _, err := c.writeAll(conn, buf); err != nil {
		c.connectionLost(p, conn)
		return &ConnectionLostError{Peer: target, Cause: err}
	}
	c.metrics.addNetworkBytesSent(uint64(len(buf)))
	return nil
}

// Send2 ships buf1 and buf2 in one kernel call via net.Buffers, the
// idiomatic Go analog of writev (spec.md §9 design note on send2).
func (c *comm) Send2(target ProcID, buf1, buf2 []byte) error {
	conn, p, err := c.liveConn(target)
	if err != nil {
		return err
	}
	c.refreshWriteDeadline(conn, p)
	bufs := net.Buffers{buf1, buf2}
	n, err := bufs.WriteTo(conn)
	if err != nil {
		c.connectionLost(p, conn)
		return &ConnectionLostError{Peer: target, Cause: err}
	}
	c.metrics.addNetworkBytesSent(uint64(n))
	return nil
}

// refreshWriteDeadline sets conn's write deadline, but only calls
// SetWriteDeadline roughly once per second (gated on coarseNow, see
// clock.go) instead of on every Send/Send2, trading a little deadline
// slack for one fewer syscall per packet on a hot sender.
func (c *comm) refreshWriteDeadline(conn net.Conn, p *commPeer) {
	now := coarseNow.Load()
	if now-p.lastWriteDeadline < 1 {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(commWriteTimeout))
	p.lastWriteDeadline = now
}

func (c *comm) writeAll(w io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

func (c *comm) liveConn(target ProcID) (net.Conn, *commPeer, error) {
	p := c.peerOrNil(target)
	if p == nil {
		return nil, nil, &ConfigurationError{Reason: fmt.Sprintf("unknown procid %d", target)}
	}
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil || !p.active.Load() {
		return nil, p, &ConnectionLostError{Peer: target}
	}
	return conn, p, nil
}

func (c *comm) connectionLost(p *commPeer, failedConn net.Conn) {
	p.mu.Lock()
	if p.conn == failedConn {
		p.conn = nil
	}
	p.mu.Unlock()
	p.active.Store(false)
	failedConn.Close()
	slog.Warn("dc: connection lost", "peer", p.id)
}

func (c *comm) peerOrNil(target ProcID) *commPeer {
	if int(target) >= len(c.peers) {
		return nil
	}
	return c.peers[target]
}

// shutdown closes the listener and every peer connection. The accept loop
// exits on the listener close; each receiver/sender notices its socket
// close and exits on its own.
func (c *comm) shutdown() {
	close(c.done)
	if c.listener != nil {
		c.listener.Close()
	}
	for _, p := range c.peers {
		if p == nil {
			continue
		}
		p.mu.Lock()
		conn := p.conn
		p.conn = nil
		p.mu.Unlock()
		p.active.Store(false)
		if conn != nil {
			conn.Close()
		}
	}
}
