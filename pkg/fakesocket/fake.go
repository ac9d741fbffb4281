package fakesocket

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"
)

// FakeMetric is a fake metric.
var FakeMetric = []byte("foo.bar.baz:2|c")

// FakeAddr is a fake net.Addr
var FakeAddr = &net.UDPAddr{
	IP:   net.IPv4(127, 0, 0, 1),
	Port: 8125,
}

var ErrAlreadyClosedConnection = errors.New("connection is already closed")

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

// FakePacketConn is a fake net.PacketConn serving a fixed list of datagrams.
// Once they are exhausted reads block until the read deadline, or until the
// connection is closed.
type FakePacketConn struct {
	mu        sync.Mutex
	datagrams [][]byte
	deadline  time.Time
	written   [][]byte
	closed    chan struct{}
	closeOnce sync.Once
	reads     int
}

// NewFakePacketConn creates a FakePacketConn serving datagrams in order.
func NewFakePacketConn(datagrams ...[]byte) *FakePacketConn {
	return &FakePacketConn{
		datagrams: datagrams,
		closed:    make(chan struct{}),
	}
}

func (fpc *FakePacketConn) isClosed() bool {
	select {
	case <-fpc.closed:
		return true
	default:
		return false
	}
}

// ReadFrom copies the next datagram into b.
func (fpc *FakePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	if fpc.isClosed() {
		return 0, nil, net.ErrClosed
	}
	fpc.mu.Lock()
	fpc.reads++
	if len(fpc.datagrams) > 0 {
		d := fpc.datagrams[0]
		fpc.datagrams = fpc.datagrams[1:]
		fpc.mu.Unlock()
		return copy(b, d), FakeAddr, nil
	}
	deadline := fpc.deadline
	fpc.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-fpc.closed:
		return 0, nil, net.ErrClosed
	case <-timeout:
		return 0, nil, timeoutError{}
	}
}

// Reads returns how many times ReadFrom was called.
func (fpc *FakePacketConn) Reads() int {
	fpc.mu.Lock()
	defer fpc.mu.Unlock()
	return fpc.reads
}

// Pending returns how many datagrams have not been read yet.
func (fpc *FakePacketConn) Pending() int {
	fpc.mu.Lock()
	defer fpc.mu.Unlock()
	return len(fpc.datagrams)
}

// WriteTo records b.
func (fpc *FakePacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	if fpc.isClosed() {
		return 0, net.ErrClosed
	}
	fpc.mu.Lock()
	defer fpc.mu.Unlock()
	fpc.written = append(fpc.written, append([]byte(nil), b...))
	return len(b), nil
}

// Written returns everything passed to WriteTo.
func (fpc *FakePacketConn) Written() [][]byte {
	fpc.mu.Lock()
	defer fpc.mu.Unlock()
	out := make([][]byte, len(fpc.written))
	copy(out, fpc.written)
	return out
}

// Close unblocks pending reads.
func (fpc *FakePacketConn) Close() error {
	err := ErrAlreadyClosedConnection
	fpc.closeOnce.Do(func() {
		close(fpc.closed)
		err = nil
	})
	return err
}

// LocalAddr dummy impl.
func (fpc *FakePacketConn) LocalAddr() net.Addr { return FakeAddr }

// SetDeadline sets the read deadline.
func (fpc *FakePacketConn) SetDeadline(t time.Time) error { return fpc.SetReadDeadline(t) }

// SetReadDeadline sets the deadline of reads once the datagrams are exhausted.
func (fpc *FakePacketConn) SetReadDeadline(t time.Time) error {
	fpc.mu.Lock()
	defer fpc.mu.Unlock()
	fpc.deadline = t
	return nil
}

// SetWriteDeadline dummy impl.
func (fpc *FakePacketConn) SetWriteDeadline(t time.Time) error { return nil }

// FakeRandomPacketConn is a fake net.PacketConn providing random fake metrics.
type FakeRandomPacketConn struct {
	*FakePacketConn
}

// ReadFrom generates random metric and writes in into b.
func (frpc *FakeRandomPacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	if frpc.isClosed() {
		return 0, nil, net.ErrClosed
	}

	num := rand.Int31n(10000) // Randomize metric name
	buf := new(bytes.Buffer)
	switch rand.Int31n(4) {
	case 0: // Counter
		fmt.Fprintf(buf, "monagent.tester.counter_%d:%f|c|#env:test\n", num, rand.Float64()*100) // #nosec
	case 1: // Gauge
		fmt.Fprintf(buf, "monagent.tester.gauge_%d:%f|g\n", num, rand.Float64()*100) // #nosec
	case 2: // Histogram
		for i := 0; i < 10; i++ {
			fmt.Fprintf(buf, "monagent.tester.timer_%d:%f|ms\n", num, rand.Float64()*100) // #nosec
		}
	case 3: // Set
		for i := 0; i < 10; i++ {
			fmt.Fprintf(buf, "monagent.tester.set_%d:%d|s\n", num, rand.Int31n(9)+1) // #nosec
		}
	default:
		panic(errors.New("unreachable"))
	}
	n := copy(b, buf.Bytes())
	return n, FakeAddr, nil
}

// Factory is a replacement for net.ListenPacket() that produces instances of FakeRandomPacketConn.
func Factory(addr string) (net.PacketConn, error) {
	return &FakeRandomPacketConn{
		FakePacketConn: NewFakePacketConn(),
	}, nil
}
