package btcp

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/elee1766/btcp/internal"
)

// Client implements the client half of the protocol: connect, send,
// disconnect. A Client is safe for use from a single goroutine driving its
// operations plus the transport's own reception goroutine feeding its
// arrival queue.
type Client struct {
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
}

// NewClient wires a Client to its transport and returns it in StateOpen,
// with its initial sequence number drawn from cfg.Rand (crypto/rand.Reader
// if unset).
func NewClient(transport Transport, cfg Config) *Client {
	c := &Client{
		cfg:       cfg,
		transport: transport,
		log:       internal.Logger{Log: cfg.Logger},
		backoff:   internal.NewBackoff(),
		state:     StateOpen,
		seqNr:     randomISS(cfg.Rand),
	}
	q := newArrivalQueue(int(cfg.window()) + 4)
	c.disp = dispatcher{queue: q, log: c.log}
	transport.SetArrivalSink(func(raw []byte, addr net.Addr) {
		q.push(addr, append([]byte(nil), raw...))
	})
	return c
}

func randomISS(r io.Reader) Seq {
	if r == nil {
		r = rand.Reader
	}
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0
	}
	seed := binary.BigEndian.Uint16(b[:])
	if seed == 0 {
		seed = 1
	}
	return Seq(internal.Prand16(seed))
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) sendControl(addr net.Addr, flag Flag, seq, ack Seq, window uint8) error {
	var seg Segment
	seg.Seq = seq
	seg.Ack = ack
	seg.Flag = flag
	seg.Window = window
	var buf [segmentSize]byte
	if err := Pack(&seg, buf[:]); err != nil {
		return err
	}
	return c.transport.SendSegment(buf[:], addr)
}

// sendAck transmits a pure acknowledgement segment via buildAck's flag
// guard, used by Connect/Disconnect once the handshake/teardown's control
// segment has been validated and only an ACK remains to be sent.
func (c *Client) sendAck(addr net.Addr, seq, ack Seq, window uint8) error {
	seg, err := buildAck(FlagACK, seq, ack, window)
	if err != nil {
		return err
	}
	var buf [segmentSize]byte
	if err := Pack(&seg, buf[:]); err != nil {
		return err
	}
	return c.transport.SendSegment(buf[:], addr)
}

// Connect performs the three-way handshake against serverAddr, retrying
// the SYN up to cfg.MaxAttempts times. On success the client transitions
// to StateConnEst and returns nil; on exhaustion it remains StateOpen and
// returns nil as well — callers distinguish failure by checking State()
// after Connect returns, per SPEC_FULL.md §7's "surfaced via state
// remaining OPEN" propagation policy.
func (c *Client) Connect(serverAddr net.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return ErrBadState
	}

	timeout := c.cfg.timeout()
	maxAttempts := c.cfg.maxAttempts()
	own := c.seqNr
	win := c.cfg.window()

	attempts := 0
	if err := c.sendControl(serverAddr, FlagSYN, own, 0, win); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for attempts < maxAttempts {
		seg, from, ok := c.disp.handleFlow(flagsOf(FlagSYNACK), c.state, nil)
		if ok {
			if seg.Ack == SafeIncr(own, 1) {
				c.seqNr = SafeIncr(own, 1)
				c.ackNr = SafeIncr(seg.Seq, 1)
				c.peerRecvWin = seg.Window
				c.peerAddr = from
				if err := c.sendAck(c.peerAddr, c.seqNr, c.ackNr, win); err != nil {
					return err
				}
				c.state = StateConnEst
				c.log.Debug("connect: established", slog.Uint64("seq", uint64(c.seqNr)))
				return nil
			}
			c.log.Trace("connect: mismatched SYNACK, resetting attempts")
			attempts = 0
			c.backoff.Hit()
			continue
		}
		if time.Now().After(deadline) {
			attempts++
			if err := c.sendControl(serverAddr, FlagSYN, own, 0, win); err != nil {
				return err
			}
			deadline = time.Now().Add(timeout)
			continue
		}
		c.backoff.Miss()
	}
	c.log.Debug("connect: exhausted attempts, remaining OPEN")
	return nil
}

// Send transfers data to the connected server using a selective-retransmit
// sliding window, per SPEC_FULL.md §4.4/§4.7.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnEst {
		return ErrBadState
	}
	startSeq := c.seqNr
	win := newSendWindow(data, c.peerRecvWin)
	timeout := c.cfg.timeout()

	for !win.done() {
		now := time.Now()
		for _, p := range win.dueForSend(timeout, now) {
			var seg Segment
			seg.Seq = SafeIncr(startSeq, uint16(p.id))
			seg.Ack = c.ackNr
			seg.Flag = FlagNone
			seg.Window = c.cfg.window()
			seg.DataLen = uint16(len(p.data))
			copy(seg.Payload[:], p.data)
			var buf [segmentSize]byte
			if err := Pack(&seg, buf[:]); err != nil {
				return err
			}
			if err := c.transport.SendSegment(buf[:], c.peerAddr); err != nil {
				return err
			}
			p.sent = true
			p.sentAt = now
		}
		if win.probeDue(c.peerRecvWin, timeout, now) {
			c.sendProbe(startSeq, win.lower)
			win.markProbed(now)
		}

		seg, _, ok := c.disp.handleFlow(flagsOf(FlagACK), c.state, c.peerAddr)
		if ok {
			c.peerRecvWin = seg.Window
			if win.ackFor(startSeq, seg.Ack) {
				c.backoff.Hit()
			}
		} else {
			c.backoff.Miss()
		}
		win.slide()
		win.clampToPeerWindow(c.peerRecvWin)
	}

	if last := win.lastPayloadID(); last >= 0 {
		c.seqNr = SafeIncr(startSeq, uint16(last))
	}
	return nil
}

func (c *Client) sendProbe(startSeq Seq, nextID int) error {
	var seg Segment
	seg.Seq = SafeIncr(startSeq, uint16(nextID))
	seg.Ack = c.ackNr
	seg.Flag = FlagNone
	seg.Window = c.cfg.window()
	var buf [segmentSize]byte
	if err := Pack(&seg, buf[:]); err != nil {
		return err
	}
	return c.transport.SendSegment(buf[:], c.peerAddr)
}

// Disconnect performs the three-way teardown, symmetric to Connect with
// FIN/FINACK.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnEst {
		return ErrBadState
	}
	timeout := c.cfg.timeout()
	maxAttempts := c.cfg.maxAttempts()
	own := c.seqNr

	attempts := 0
	if err := c.sendControl(c.peerAddr, FlagFIN, own, c.ackNr, c.cfg.window()); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for attempts < maxAttempts {
		seg, _, ok := c.disp.handleFlow(flagsOf(FlagFINACK), c.state, c.peerAddr)
		if ok {
			if seg.Ack == SafeIncr(own, 1) {
				c.seqNr = SafeIncr(own, 1)
				if err := c.sendAck(c.peerAddr, c.seqNr, c.ackNr, c.cfg.window()); err != nil {
					return err
				}
				c.state = StateOpen
				c.log.Debug("disconnect: complete")
				return nil
			}
			attempts = 0
			continue
		}
		if time.Now().After(deadline) {
			attempts++
			if err := c.sendControl(c.peerAddr, FlagFIN, own, c.ackNr, c.cfg.window()); err != nil {
				return err
			}
			deadline = time.Now().Add(timeout)
			continue
		}
		c.backoff.Miss()
	}
	return nil
}

// Close tears down the transport unilaterally.
func (c *Client) Close() error { return c.transport.Close() }
