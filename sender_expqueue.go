package dc

import "log/slog"

// maxCriticalSectionDrain bounds how many queued packets one send_loop
// iteration will drain while holding the queue's critical section, so a
// sudden burst of tiny packets can't starve EndCriticalSection indefinitely
// (spec.md §4.2, grounded on the original's 128-entry drain cap).
const maxCriticalSectionDrain = 128

// expqueueSender is the queue-backed, write-combining sender variant of
// spec.md §4.2. SendData callers enqueue fully framed packets; a single
// send_loop goroutine dequeues one packet; if it is larger than
// CombineLowerThreshold it ships it on its own (the "large-message
// bypass"), otherwise it drains a burst of further packets under one
// critical section and packs them into a shared combining buffer capped at
// CombineUpperThreshold, sending any single packet larger than that cap on
// its own. Selected by
// Config.BufferedSend = false (the default).
type expqueueSender struct {
	target ProcID
	comm   packetSender
	queue  *blockingQueue[[]byte]

	lowerThreshold int
	upperThreshold int
	combineBuf     []byte
	drainBuf       [][]byte
}

func newExpqueueSender(target ProcID, c packetSender, metrics *Metrics, cfg Config, tg *threadGroup) *expqueueSender {
	s := &expqueueSender{
		target:         target,
		comm:           c,
		queue:          newBlockingQueue[[]byte](),
		lowerThreshold: cfg.CombineLowerThreshold,
		upperThreshold: cfg.CombineUpperThreshold,
		combineBuf:     make([]byte, 0, cfg.CombineUpperThreshold),
	}
	tg.GoPinned("expqueue-send-loop", ioCore(cfg.PinIOThreads, target), s.sendLoop)
	return s
}

func (s *expqueueSender) enqueue(packet []byte) error {
	if !s.comm.ChannelActive(s.target) {
		return &ConnectionLostError{Peer: s.target}
	}
	s.queue.Enqueue(packet)
	return nil
}

func (s *expqueueSender) shutdown() {
	s.queue.StopBlocking()
}

// sendLoop implements the write-combining drain. Each iteration blocks for
// at least one packet, then greedily collects further already-queued
// packets without releasing the queue lock, and only once the critical
// section has ended does it combine and send — so a slow socket write
// never holds Enqueue's producers waiting on the queue lock. It exits as
// soon as a send fails, the same way the receiver's read loop exits on a
// read error, instead of spinning on a dead connection.
func (s *expqueueSender) sendLoop() {
	for {
		first, ok := s.queue.DequeueAndBeginCriticalSectionOnSuccess()
		if !ok {
			return
		}
		if !s.drainCriticalSection(first) {
			return
		}
	}
}

// drainCriticalSection decides, from first alone, whether this batch enters
// write-combining at all (spec.md §4.2: combine_lower_threshold gates only
// the first dequeued entry). If first is itself a large message, the batch
// is never collected — the critical section ends immediately and first
// goes out on its own. Otherwise it collects up to maxCriticalSectionDrain
// queued entries (of any size) while holding the queue's critical section,
// ends the critical section before doing any combining or socket I/O, then
// walks the batch packing entries into the combining buffer up to
// combine_upper_threshold — the only threshold that applies past the first
// entry. Grounded on the original expqueue sender's two-phase
// collect-then-send structure (dc_buffered_stream_send_expqueue.cpp),
// which calls end_critical_section() before the first comm->send().
// Returns false once the connection has been lost, so sendLoop can stop.
func (s *expqueueSender) drainCriticalSection(first []byte) bool {
	if len(first) > s.lowerThreshold {
		s.queue.EndCriticalSection()
		return s.sendDirect(first)
	}

	items := s.drainBuf[:0]
	items = append(items, first)
	for len(items) < maxCriticalSectionDrain {
		next, ok := s.queue.TryDequeueInCriticalSection()
		if !ok {
			break
		}
		items = append(items, next)
	}
	s.drainBuf = items
	s.queue.EndCriticalSection()

	s.combineBuf = s.combineBuf[:0]
	for _, item := range items {
		if len(item) > s.upperThreshold {
			// Doesn't fit in the combining buffer at all: flush whatever
			// is already combined, then send this entry on its own.
			if !s.flush() {
				return false
			}
			if !s.sendDirect(item) {
				return false
			}
		} else if len(s.combineBuf)+len(item) > s.upperThreshold {
			// Wouldn't fit in what's already combined: flush, then start
			// a fresh buffer with this entry.
			if !s.flush() {
				return false
			}
			s.combineBuf = append(s.combineBuf, item...)
		} else {
			s.combineBuf = append(s.combineBuf, item...)
		}
	}
	return s.flush()
}

func (s *expqueueSender) flush() bool {
	if len(s.combineBuf) == 0 {
		return true
	}
	ok := s.sendDirect(s.combineBuf)
	s.combineBuf = s.combineBuf[:0]
	return ok
}

func (s *expqueueSender) sendDirect(buf []byte) bool {
	if err := s.comm.Send(s.target, buf); err != nil {
		slog.Warn("dc: expqueue sender lost connection", "peer", s.target, "error", err)
		return false
	}
	return true
}
