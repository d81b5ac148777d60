package btcp

import "net"

// Transport is the lossy-layer collaborator: an opaque, asynchronous
// send/receive facility. bTCP engines never implement datagram delivery
// themselves — they hand serialized segments to a Transport and receive
// arrivals back through the sink registered with SetArrivalSink.
//
// Implementations live outside this package (see package udptransport for
// the default one) since the transport is explicitly out of scope for the
// protocol engine itself.
type Transport interface {
	// SendSegment transmits a single wire-format segment to addr. Errors
	// are the caller's to handle; the lossy layer itself may still drop
	// the datagram in flight without returning an error.
	SendSegment(buf []byte, addr net.Addr) error
	// SetArrivalSink registers the callback the transport's reception
	// thread invokes for every arriving datagram, addr being the sender's
	// address. It is called once, before the transport is used.
	SetArrivalSink(sink func(raw []byte, addr net.Addr))
	// Close tears down the transport unilaterally.
	Close() error
}
