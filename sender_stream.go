package dc

import "log/slog"

// streamSender is the ring-backed sender variant of spec.md §4.2 ("buffered
// stream"): SendData callers copy framed packets into a circularByteBuffer;
// a single send_loop goroutine drains the largest contiguous arc available
// and hands it straight to the communication layer, with no further
// batching logic. Selected by Config.BufferedSend = true.
type streamSender struct {
	target ProcID
	comm   packetSender
	ring   *circularByteBuffer
}

func newStreamSender(target ProcID, c packetSender, metrics *Metrics, cfg Config, tg *threadGroup) *streamSender {
	s := &streamSender{
		target: target,
		comm:   c,
		ring:   newCircularByteBuffer(cfg.SendBufferSize),
	}
	tg.GoPinned("stream-send-loop", ioCore(cfg.PinIOThreads, target), s.sendLoop)
	return s
}

// enqueue copies packet into the ring, blocking while the ring is full —
// this is the backpressure spec.md §4.2 describes: a slow or dead peer's
// ring fills up and SendData for that peer starts blocking its caller.
func (s *streamSender) enqueue(packet []byte) error {
	if !s.comm.ChannelActive(s.target) {
		return &ConnectionLostError{Peer: s.target}
	}
	if len(packet) > int(s.ring.Capacity()) {
		return &ConfigurationError{Reason: "packet exceeds send_buffer_size"}
	}
	if err := s.ring.Write(packet); err != nil {
		return ErrShutdown
	}
	return nil
}

// sendLoop is the module's "send_loop": block for a contiguous arc, push
// it to the socket, advance past it, repeat until the ring reports
// shut-down-and-drained. It exits as soon as a send fails — the same way
// the receiver's read loop exits on a read error — instead of busy-looping
// through the rest of the ring against a dead connection.
func (s *streamSender) sendLoop() {
	for {
		arc, ok := s.ring.Introspect()
		if !ok {
			return
		}
		if err := s.comm.Send(s.target, arc); err != nil {
			slog.Warn("dc: stream sender lost connection", "peer", s.target, "error", err)
			s.ring.Advance(int64(len(arc)))
			return
		}
		s.ring.Advance(int64(len(arc)))
	}
}

// shutdown drains whatever is already in the ring, then lets send_loop exit.
func (s *streamSender) shutdown() {
	s.ring.Shutdown()
}
