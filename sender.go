package dc

// packetSender is the minimal surface a sender variant needs from the
// communication layer, narrowed from *comm so tests can substitute a
// stub that records writes instead of opening real sockets.
type packetSender interface {
	Send(target ProcID, buf []byte) error

	// ChannelActive reports whether target's connection is still live, so
	// a sender can reject new packets synchronously once it isn't
	// (spec.md §7: "subsequent send_data to that peer fails synchronously
	// with ConnectionLost") instead of silently dropping them on a dead
	// socket.
	ChannelActive(target ProcID) bool
}

// sender is the per-peer outbound half of spec.md §4.2: something that
// accepts complete, already-framed packets and eventually hands them to
// the communication layer, in submission order. streamSender and
// expqueueSender are the two interchangeable realizations (spec.md §9
// open question (a): both ship, selected by Config.BufferedSend).
type sender interface {
	// enqueue submits a fully framed packet (header + payload) for
	// delivery to target. It performs no network I/O itself; it returns
	// once the packet is queued for the send loop. The stream variant
	// blocks while its ring is full.
	enqueue(packet []byte) error

	// shutdown stops the send loop after draining whatever is already
	// queued (spec.md §8 invariant 6: "Shutdown drains").
	shutdown()
}

// newSender constructs the sender variant selected by cfg.BufferedSend
// for target, wired to send over c.
func newSender(target ProcID, c packetSender, metrics *Metrics, cfg Config, tg *threadGroup) sender {
	if cfg.BufferedSend {
		return newStreamSender(target, c, metrics, cfg, tg)
	}
	return newExpqueueSender(target, c, metrics, cfg, tg)
}
