package udptransport

import (
	"log/slog"
	"math/rand"
	"net"
	"time"

	"github.com/elee1766/btcp"
)

// LossyConfig tunes the fault injection Lossy applies to an underlying
// Transport, grounded on the single-shot drop policy pattern used to
// simulate an unreliable datagram substrate in test harnesses.
type LossyConfig struct {
	// DropRate is the probability (0..1) that an outbound send is silently
	// discarded instead of reaching the wire.
	DropRate float64
	// DuplicateRate is the probability (0..1) that an outbound send is
	// transmitted twice.
	DuplicateRate float64
	// CorruptRate is the probability (0..1) that an outbound send has a
	// single bit flipped in a randomly chosen byte of the segment (header or
	// payload) before transmission, simulating bit rot the checksum must
	// catch.
	CorruptRate float64
	// ReorderDelay, when non-zero, is added as a random jitter (0..delay)
	// before an outbound send reaches the wire, via a background timer
	// goroutine, simulating out-of-order arrival.
	ReorderDelay time.Duration
	// Seed seeds the pseudo-random source; zero uses a fixed seed for
	// reproducible test runs.
	Seed int64
	Log  *slog.Logger
}

// Lossy wraps a btcp.Transport and applies LossyConfig's fault injection to
// every outbound SendSegment call. Arrivals pass through unmodified: in a
// UDP-substrate deployment the real network already introduces its own
// loss/reorder/corruption, so Lossy only needs to simulate the send side
// for test and demo harnesses.
type Lossy struct {
	inner btcp.Transport
	cfg   LossyConfig
	rnd   *rand.Rand
}

var _ btcp.Transport = (*Lossy)(nil)

// NewLossy wraps inner with fault injection per cfg.
func NewLossy(inner btcp.Transport, cfg LossyConfig) *Lossy {
	return &Lossy{inner: inner, cfg: cfg, rnd: rand.New(rand.NewSource(cfg.Seed))}
}

func (l *Lossy) SetArrivalSink(sink func(raw []byte, addr net.Addr)) {
	l.inner.SetArrivalSink(sink)
}

func (l *Lossy) Close() error { return l.inner.Close() }

func (l *Lossy) SendSegment(buf []byte, addr net.Addr) error {
	if l.cfg.DropRate > 0 && l.rnd.Float64() < l.cfg.DropRate {
		if l.cfg.Log != nil {
			l.cfg.Log.Debug("lossy: drop")
		}
		return nil
	}

	out := buf
	if l.cfg.CorruptRate > 0 && l.rnd.Float64() < l.cfg.CorruptRate && len(buf) > 0 {
		out = append([]byte(nil), buf...)
		i := l.rnd.Intn(len(out))
		out[i] ^= 1 << uint(l.rnd.Intn(8))
		if l.cfg.Log != nil {
			l.cfg.Log.Debug("lossy: corrupt", slog.Int("byte", i))
		}
	}

	send := func(b []byte) error {
		if l.cfg.ReorderDelay > 0 {
			delay := time.Duration(l.rnd.Int63n(int64(l.cfg.ReorderDelay) + 1))
			time.AfterFunc(delay, func() { _ = l.inner.SendSegment(b, addr) })
			return nil
		}
		return l.inner.SendSegment(b, addr)
	}

	if err := send(out); err != nil {
		return err
	}
	if l.cfg.DuplicateRate > 0 && l.rnd.Float64() < l.cfg.DuplicateRate {
		if l.cfg.Log != nil {
			l.cfg.Log.Debug("lossy: duplicate")
		}
		return send(append([]byte(nil), out...))
	}
	return nil
}
