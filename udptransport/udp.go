// Package udptransport provides the default btcp.Transport implementation:
// a net.UDPConn driven by a background reception goroutine, the "transport
// reception thread" collaborator the engine package never implements
// itself.
package udptransport

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/elee1766/btcp"
)

const maxDatagramSize = 2048

// UDPTransport implements btcp.Transport over a *net.UDPConn.
type UDPTransport struct {
	conn *net.UDPConn
	log  *slog.Logger

	mu     sync.Mutex
	sink   func(raw []byte, addr net.Addr)
	closed bool
	wg     sync.WaitGroup
}

var _ btcp.Transport = (*UDPTransport)(nil)

// Listen opens a UDP socket bound to laddr (host:port, or ":0" for an
// ephemeral client port) and starts its reception goroutine.
func Listen(laddr string, logger *slog.Logger) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	t := &UDPTransport{conn: conn, log: logger}
	t.wg.Add(1)
	go t.recvLoop()
	return t, nil
}

// SetArrivalSink registers the callback invoked for every arriving
// datagram. It must be called once, before any datagrams are expected.
func (t *UDPTransport) SetArrivalSink(sink func(raw []byte, addr net.Addr)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
}

// SendSegment writes buf as a single UDP datagram to addr.
func (t *UDPTransport) SendSegment(buf []byte, addr net.Addr) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return errors.New("udptransport: addr is not a *net.UDPAddr")
	}
	_, err := t.conn.WriteToUDP(buf, udpAddr)
	return err
}

// LocalAddr reports the socket's bound local address.
func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// Close stops the reception goroutine and closes the socket.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

// recvLoop is the transport reception thread: it blocks on ReadFromUDP and
// hands every arrival to the registered sink, decoupled from the engine's
// own goroutine via the sink's queue (see btcp.arrivalQueue).
func (t *UDPTransport) recvLoop() {
	defer t.wg.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed {
				return
			}
			if t.log != nil {
				t.log.Warn("udptransport: recv error", slog.String("err", err.Error()))
			}
			continue
		}
		t.mu.Lock()
		sink := t.sink
		t.mu.Unlock()
		if sink != nil {
			raw := append([]byte(nil), buf[:n]...)
			sink(raw, addr)
		}
	}
}
