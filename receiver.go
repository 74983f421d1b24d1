package dc

import (
	"errors"
	"io"
	"log/slog"
	"net"
)

// Handler processes one fully reassembled packet received from source.
// Control's receiver passes every inbound packet to the Handler installed
// at construction, after updating network_bytes_received and (for call
// packets) calls_received accounting.
type Handler func(source ProcID, kind PacketKind, seqKey uint64, payload []byte)

// receiver owns the read side of one peer's socket (spec.md §4.3): it
// reads a fixed Header, validates Len, reads exactly that many payload
// bytes, and dispatches. It never interprets payload bytes itself.
type receiver struct {
	source  ProcID
	comm    *comm
	metrics *Metrics
	handle  Handler
}

func newReceiver(source ProcID, c *comm, metrics *Metrics, handle Handler) *receiver {
	return &receiver{source: source, comm: c, metrics: metrics, handle: handle}
}

// run reads frames until the connection is lost or closed by shutdown. It
// is meant to be started with threadGroup.Go; it returns (rather than
// retrying or reconnecting) on any error, matching spec.md §7's "no
// automatic reconnect" rule for ConnectionLostError.
func (r *receiver) run() {
	var headerBuf [HeaderSize]byte
	for {
		conn := r.comm.Conn(r.source)
		if conn == nil {
			return
		}
		if _, err := io.ReadFull(conn, headerBuf[:]); err != nil {
			r.onReadError(conn, err)
			return
		}
		h := DecodeHeader(headerBuf[:])
		if err := validatePayloadLen(h.Len); err != nil {
			slog.Error("dc: protocol error from peer", "peer", r.source, "error", err)
			r.comm.connectionLost(r.comm.peerOrNil(r.source), conn)
			return
		}

		payload := make([]byte, h.Len)
		if h.Len > 0 {
			if _, err := io.ReadFull(conn, payload); err != nil {
				r.onReadError(conn, err)
				return
			}
		}

		r.metrics.addNetworkBytesReceived(uint64(HeaderSize) + uint64(h.Len))
		if h.PacketTypeMask.IsCall() {
			r.metrics.incCallsReceived(r.source)
		}
		if r.handle != nil {
			r.handle(r.source, h.PacketTypeMask, h.SequentializationKey, payload)
		}
	}
}

func (r *receiver) onReadError(conn net.Conn, err error) {
	if errors.Is(err, io.EOF) {
		slog.Info("dc: peer closed connection", "peer", r.source)
	} else {
		slog.Warn("dc: read error from peer", "peer", r.source, "error", err)
	}
	r.comm.connectionLost(r.comm.peerOrNil(r.source), conn)
}
