package honeypot

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
)

const waitTimeout = 5 * time.Second

type memRecorder struct {
	mu     sync.Mutex
	events []logging.Event
	ports  []int
}

func (r *memRecorder) Record(ev logging.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *memRecorder) WriteHeader(ports []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports = append([]int(nil), ports...)
	return nil
}

func (r *memRecorder) Events() []logging.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]logging.Event(nil), r.events...)
}

// waitFor polls until cond holds for the recorded events.
func (r *memRecorder) waitFor(t *testing.T, what string, cond func([]logging.Event) bool) []logging.Event {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		evs := r.Events()
		if cond(evs) {
			return evs
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; events: %v", what, kinds(evs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func kinds(evs []logging.Event) []logging.Kind {
	out := make([]logging.Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func count(evs []logging.Event, kind logging.Kind) int {
	n := 0
	for _, ev := range evs {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func forPeer(evs []logging.Event, peer string) []logging.Event {
	var out []logging.Event
	for _, ev := range evs {
		if ev.Peer == peer {
			out = append(out, ev)
		}
	}
	return out
}

func hasKind(kind logging.Kind, n int) func([]logging.Event) bool {
	return func(evs []logging.Event) bool { return count(evs, kind) >= n }
}

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (server, client *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	s, ok := <-accepted
	if !ok {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		c.Close()
		s.Close()
	})
	return s.(*net.TCPConn), c.(*net.TCPConn)
}

// readExactly reads len(want) bytes from c and compares them.
func readExactly(t *testing.T, c net.Conn, want []byte) {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(waitTimeout))
	got := make([]byte, len(want))
	n := 0
	for n < len(got) {
		m, err := c.Read(got[n:])
		n += m
		if err != nil {
			t.Fatalf("read after %q: %v", got[:n], err)
		}
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("read %q, want %q", got, want)
	}
}

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// fakeConn serves reads from a buffer and fails on demand.
type fakeConn struct {
	mu       sync.Mutex
	in       *bytes.Reader
	readErr  error
	writeErr error
	written  bytes.Buffer
	closes   int
}

func newFakeConn(in []byte) *fakeConn {
	return &fakeConn{in: bytes.NewReader(in)}
}

func (c *fakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.in.Len() > 0 {
		return c.in.Read(p)
	}
	if c.readErr != nil {
		return 0, c.readErr
	}
	return 0, io.EOF
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.written.Write(p)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr                { return fakeAddr("127.0.0.1:21") }
func (c *fakeConn) RemoteAddr() net.Addr               { return fakeAddr("203.0.113.7:50000") }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

var errReset = errors.New("connection reset by peer")
