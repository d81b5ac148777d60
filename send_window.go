package btcp

import (
	"time"

	"github.com/elee1766/btcp/internal"
)

// payload is the sender-side bookkeeping record for one chunk of the file
// being transferred, addressed by a monotonic index from 0.
type payload struct {
	id     int
	data   []byte
	sent   bool
	acked  bool
	sentAt time.Time
}

// sendWindow implements the selective-retransmit sliding window described
// in SPEC_FULL.md §4.7: a contiguous slice of payload records with two
// cursors, lower (the oldest unacknowledged payload) and upper (one past
// the last payload currently allowed in flight).
type sendWindow struct {
	payloads  []payload
	lower     int
	upper     int
	lastProbe time.Time

	// dueBuf is scratch space reused across dueForSend calls, which happen
	// once per Send loop iteration; this avoids reallocating the result
	// slice on every poll the way the payload slice itself is reused.
	dueBuf []*payload
}

// splitPayloads breaks data into PayloadSize chunks, the last possibly
// shorter, each tagged with its index.
func splitPayloads(data []byte) []payload {
	n := (len(data) + PayloadSize - 1) / PayloadSize
	if len(data) == 0 {
		n = 0
	}
	out := make([]payload, n)
	for i := range out {
		lo := i * PayloadSize
		hi := min(lo+PayloadSize, len(data))
		out[i] = payload{id: i, data: data[lo:hi]}
	}
	return out
}

func newSendWindow(data []byte, peerRecvWin uint8) *sendWindow {
	payloads := splitPayloads(data)
	upper := min(int(peerRecvWin), len(payloads))
	return &sendWindow{payloads: payloads, lower: 0, upper: upper}
}

func (w *sendWindow) done() bool { return w.lower >= w.upper && w.lower >= len(w.payloads) }

// dueForSend reports which payloads in [lower, upper) need a segment sent
// right now: either never sent, or sent but unacknowledged past timeout.
func (w *sendWindow) dueForSend(timeout time.Duration, now time.Time) []*payload {
	internal.SliceReuse(&w.dueBuf, w.upper-w.lower)
	for i := w.lower; i < w.upper; i++ {
		p := &w.payloads[i]
		if !p.sent || (!p.acked && now.Sub(p.sentAt) > timeout) {
			w.dueBuf = append(w.dueBuf, p)
		}
	}
	return w.dueBuf
}

// ackFor marks the payload in the current window whose expected
// acknowledgement equals ack as acknowledged, per invariant 5: a payload
// is acknowledged only by an ACK whose ack_nr equals
// safe_incr(startSeq, safe_incr(payload.id)).
func (w *sendWindow) ackFor(startSeq Seq, ack Seq) bool {
	for i := w.lower; i < w.upper; i++ {
		p := &w.payloads[i]
		want := SafeIncr(startSeq, uint16(p.id)+1)
		if want == ack {
			p.acked = true
			return true
		}
	}
	return false
}

// slide advances lower over a contiguous acknowledged prefix and keeps
// upper trailing it by the same count, so the window's lower edge never
// regresses (invariant 5).
func (w *sendWindow) slide() {
	for w.lower < len(w.payloads) && w.payloads[w.lower].acked {
		w.lower++
		if w.upper < len(w.payloads) {
			w.upper++
		}
	}
}

// clampToPeerWindow recomputes upper against the peer's latest advertised
// window, per step 5 of the sliding-window algorithm.
func (w *sendWindow) clampToPeerWindow(peerRecvWin uint8) {
	w.upper = min(w.lower+int(peerRecvWin), len(w.payloads))
}

// probeDue reports whether a zero-window probe should be sent now, per the
// Open Question (b) resolution: the sender keeps probing on a timer while
// the peer's last-advertised window is zero and there is still data to
// send.
func (w *sendWindow) probeDue(peerRecvWin uint8, timeout time.Duration, now time.Time) bool {
	if peerRecvWin != 0 || w.lower >= len(w.payloads) {
		return false
	}
	return w.lastProbe.IsZero() || now.Sub(w.lastProbe) > timeout
}

func (w *sendWindow) markProbed(now time.Time) { w.lastProbe = now }

// lastPayloadID returns the id of the final payload, used to advance the
// connection's own sequence number once the transfer completes.
func (w *sendWindow) lastPayloadID() int {
	if len(w.payloads) == 0 {
		return -1
	}
	return len(w.payloads) - 1
}
