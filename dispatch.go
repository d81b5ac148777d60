package btcp

import (
	"log/slog"
	"net"

	"github.com/elee1766/btcp/internal"
)

// flagSet is a small bitmask over the six wire flags, used to express "the
// caller will accept any of these flags right now".
type flagSet uint8

func flagsOf(fs ...Flag) flagSet {
	var s flagSet
	for _, f := range fs {
		s |= 1 << uint(f)
	}
	return s
}

func (s flagSet) has(f Flag) bool { return s&(1<<uint(f)) != 0 }

// dispatcher is the non-blocking single-item drain shared by both the
// client and server engines: decode, checksum-check, peer-filter and
// flag-filter one arrival, or report that none was available.
type dispatcher struct {
	queue *arrivalQueue
	log   internal.Logger
}

// handleFlow pops at most one arrival and validates it against expect and
// the connection's current peer address (peerAddr is nil before the
// connection is established, in which case the address filter is skipped).
// It reports ok=false both when the queue was empty and when the popped
// segment was discarded — either way the caller should try again on its
// next poll.
func (d *dispatcher) handleFlow(expect flagSet, state State, peerAddr net.Addr) (seg Segment, from net.Addr, ok bool) {
	a, has := d.queue.pop()
	if !has {
		return Segment{}, nil, false
	}
	if !Verify(a.raw) {
		d.log.Trace("drop: bad checksum")
		return Segment{}, nil, false
	}
	if state == StateConnEst && peerAddr != nil && a.addr.String() != peerAddr.String() {
		d.log.Trace("drop: wrong peer", slog.String("addr", a.addr.String()))
		return Segment{}, nil, false
	}
	if err := Unpack(a.raw, &seg); err != nil {
		return Segment{}, nil, false
	}
	if !seg.Flag.valid() || !expect.has(seg.Flag) {
		d.log.Trace("drop: unexpected flag", slog.String("flag", seg.Flag.String()))
		return Segment{}, nil, false
	}
	return seg, a.addr, true
}
