package btcp

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/elee1766/btcp/internal"
)

// Server implements the server half of the protocol: accept, recv,
// disconnect acceptance.
type Server struct {
	mu sync.Mutex

	cfg       Config
	transport Transport
	disp      dispatcher
	backoff   internal.Backoff
	log       internal.Logger

	state       State
	seqNr       Seq
	ackNr       Seq
	peerRecvWin uint8
	peerAddr    net.Addr
	recvBuf     *recvBuffer
}

// NewServer wires a Server to its transport and returns it in StateOpen.
func NewServer(transport Transport, cfg Config) *Server {
	s := &Server{
		cfg:       cfg,
		transport: transport,
		log:       internal.Logger{Log: cfg.Logger},
		backoff:   internal.NewBackoff(),
		state:     StateOpen,
		seqNr:     randomISS(cfg.Rand),
		recvBuf:   newRecvBuffer(),
	}
	q := newArrivalQueue(int(cfg.window()) + 4)
	s.disp = dispatcher{queue: q, log: s.log}
	transport.SetArrivalSink(func(raw []byte, addr net.Addr) {
		q.push(addr, append([]byte(nil), raw...))
	})
	return s
}

// State returns the server's current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) sendControl(addr net.Addr, flag Flag, seq, ack Seq, window uint8) error {
	var seg Segment
	seg.Seq = seq
	seg.Ack = ack
	seg.Flag = flag
	seg.Window = window
	var buf [segmentSize]byte
	if err := Pack(&seg, buf[:]); err != nil {
		return err
	}
	return s.transport.SendSegment(buf[:], addr)
}

// sendAck transmits a pure acknowledgement segment via buildAck's flag
// guard, used by Recv for both the always-ACK-on-data rule and the
// zero-window probe reply.
func (s *Server) sendAck(addr net.Addr, seq, ack Seq, window uint8) error {
	seg, err := buildAck(FlagACK, seq, ack, window)
	if err != nil {
		return err
	}
	var buf [segmentSize]byte
	if err := Pack(&seg, buf[:]); err != nil {
		return err
	}
	return s.transport.SendSegment(buf[:], addr)
}

// Accept waits indefinitely for an incoming handshake. It transitions to
// StateConnEst on a valid ACK completing the three-way handshake, or
// defensively on an observed data segment when the client's own ACK was
// lost — per SPEC_FULL.md §4.5, any such data segment is buffered rather
// than discarded so no bytes are lost.
func (s *Server) Accept() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return ErrBadState
	}

	var pendingPeer net.Addr
	var pendingAck Seq
	haveSyn := false
	win := s.cfg.window()

	for {
		seg, from, ok := s.disp.handleFlow(flagsOf(FlagSYN, FlagACK, FlagNone), s.state, nil)
		if !ok {
			s.backoff.Miss()
			continue
		}
		s.backoff.Hit()
		switch seg.Flag {
		case FlagSYN:
			pendingPeer = from
			pendingAck = SafeIncr(seg.Seq, 1)
			haveSyn = true
			if err := s.sendControl(from, FlagSYNACK, s.seqNr, pendingAck, win); err != nil {
				return err
			}
			s.log.Debug("accept: SYN received", slog.String("addr", from.String()))

		case FlagACK:
			if !haveSyn || from.String() != pendingPeer.String() {
				continue
			}
			if seg.Ack != SafeIncr(s.seqNr, 1) {
				continue
			}
			s.latchPeer(from, pendingAck, seg.Window)
			s.log.Debug("accept: handshake complete")
			return nil

		case FlagNone:
			if !haveSyn || from.String() != pendingPeer.String() {
				continue
			}
			// The client's final ACK was lost but it proceeded to send
			// data anyway: treat the handshake as complete and buffer
			// the segment so its bytes are not lost.
			s.latchPeerFromData(from, pendingAck, seg)
			s.log.Debug("accept: handshake completed via observed data")
			return nil
		}
	}
}

// latchPeer finalises the handshake once a valid ACK is observed.
func (s *Server) latchPeer(peer net.Addr, ackNr Seq, peerWin uint8) {
	s.peerAddr = peer
	s.ackNr = ackNr
	s.peerRecvWin = peerWin
	s.state = StateConnEst
}

func (s *Server) latchPeerFromData(peer net.Addr, ackNr Seq, seg Segment) {
	s.peerAddr = peer
	s.peerRecvWin = seg.Window
	s.ackNr = ackNr
	s.state = StateConnEst
	if seg.DataLen > 0 {
		s.recvBuf.store(seg)
	}
}

// errEndOfStream is returned by Recv once a FIN has been observed and
// teardown has begun; it is never a data-carrying condition.
var errEndOfStream = io.EOF

// Recv returns one application-visible chunk of the transferred file, or
// io.EOF once the client has initiated teardown.
func (s *Server) Recv() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnEst {
		return nil, ErrBadState
	}

	for {
		if seg, ok := s.recvBuf.pop(s.ackNr); ok {
			s.ackNr = SafeIncr(s.ackNr, 1)
			return append([]byte(nil), seg.Payload[:seg.DataLen]...), nil
		}

		seg, from, ok := s.disp.handleFlow(flagsOf(FlagNone, FlagFIN), s.state, s.peerAddr)
		if !ok {
			s.backoff.Miss()
			continue
		}
		s.backoff.Hit()

		switch seg.Flag {
		case FlagFIN:
			if err := s.acceptDisconnect(from, seg); err != nil {
				return nil, err
			}
			return nil, errEndOfStream

		case FlagNone:
			if seg.DataLen == 0 {
				// Zero-window probe: re-advertise the current window
				// without touching the expected-sequence cursor or
				// delivering anything, per the Open Question (b)
				// resolution in SPEC_FULL.md §4.9 — a probe must never
				// be mistaken for (and consume) a real payload's
				// sequence slot.
				if err := s.sendAck(from, s.seqNr, s.ackNr, s.cfg.window()); err != nil {
					return nil, err
				}
				continue
			}
			if err := s.sendAck(from, s.seqNr, SafeIncr(seg.Seq, 1), s.cfg.window()); err != nil {
				return nil, err
			}
			if seg.Seq == s.ackNr {
				s.ackNr = SafeIncr(s.ackNr, 1)
				return append([]byte(nil), seg.Payload[:seg.DataLen]...), nil
			}
			switch classify(seg.Seq, s.ackNr) {
			case seqDuplicate:
				// Already delivered; the re-ACK above is enough.
			case seqFuture:
				if withinWindow(seg.Seq, s.ackNr, s.cfg.window()) {
					s.recvBuf.store(seg)
				}
			}
		}
	}
}

// acceptDisconnect implements the server's disconnect acceptance: reply
// FINACK, then wait up to FinTimeout for the client's final ACK, further
// FIN retransmissions (each re-answered and the timer reset), or timeout
// exhaustion (assume the final ACK was lost and close anyway).
func (s *Server) acceptDisconnect(peer net.Addr, fin Segment) error {
	finAck := SafeIncr(fin.Seq, 1)
	if err := s.sendControl(peer, FlagFINACK, s.seqNr, finAck, s.cfg.window()); err != nil {
		return err
	}
	deadline := time.Now().Add(s.cfg.finTimeout())
	for time.Now().Before(deadline) {
		seg, from, ok := s.disp.handleFlow(flagsOf(FlagACK, FlagFIN), s.state, peer)
		if !ok {
			s.backoff.Miss()
			continue
		}
		s.backoff.Hit()
		switch seg.Flag {
		case FlagACK:
			if seg.Ack == SafeIncr(s.seqNr, 1) {
				s.state = StateOpen
				s.log.Debug("disconnect: clean close")
				return nil
			}
		case FlagFIN:
			finAck = SafeIncr(seg.Seq, 1)
			if err := s.sendControl(from, FlagFINACK, s.seqNr, finAck, s.cfg.window()); err != nil {
				return err
			}
			deadline = time.Now().Add(s.cfg.finTimeout())
		}
	}
	s.log.Debug("disconnect: FIN_TIMEOUT exhausted, assuming final ACK lost")
	s.state = StateOpen
	return nil
}

// Close tears down the transport unilaterally.
func (s *Server) Close() error { return s.transport.Close() }
