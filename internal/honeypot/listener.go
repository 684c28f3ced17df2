package honeypot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
	"github.com/0tSystemsPublicRepos/logweaver/internal/profile"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Listener owns the socket of one emulated service and runs one Session per
// accepted connection. There is no connection limit.
type Listener struct {
	profile  *profile.Profile
	bindAddr string
	rec      logging.Recorder
	chunk    int

	sessions sync.WaitGroup
}

func NewListener(p *profile.Profile, bindAddr string, rec logging.Recorder, chunkSize int) *Listener {
	return &Listener{
		profile:  p,
		bindAddr: bindAddr,
		rec:      rec,
		chunk:    chunkSize,
	}
}

func (l *Listener) Profile() *profile.Profile { return l.profile }

// Addr is the host:port the listener binds to.
func (l *Listener) Addr() string {
	return net.JoinHostPort(l.bindAddr, strconv.Itoa(l.profile.Port()))
}

// Run binds the service port with address reuse and serves until ctx is
// done. A bind failure is recorded as FATAL and returned; it affects this
// listener only.
func (l *Listener) Run(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(ctx, "tcp", l.Addr())
	if err != nil {
		l.fatal(err)
		return fmt.Errorf("listen %s: %w", l.Addr(), err)
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or accept fails
// permanently. Sessions run concurrently and outlive Serve; cancelling ctx
// stops accepting but does not touch running sessions.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	l.record(logging.KindListening, "- %s honeypot on port %d", l.profile.Name(), l.profile.Port())

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				delay = nextDelay(delay)
				l.record(logging.KindError, "%s - accept: %v; retrying in %v", l.profile.Name(), err, delay)
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			l.fatal(err)
			return fmt.Errorf("accept on %s: %w", l.Addr(), err)
		}
		delay = 0
		l.dispatch(conn)
	}
}

func (l *Listener) dispatch(conn net.Conn) {
	l.sessions.Add(1)
	go func() {
		defer l.sessions.Done()
		// Run records its own failure; nothing escapes into the accept loop.
		_ = NewSession(conn, l.profile, l.rec, l.chunk).Run()
	}()
}

// Wait blocks until every session started so far has closed.
func (l *Listener) Wait() {
	l.sessions.Wait()
}

func (l *Listener) fatal(err error) {
	l.record(logging.KindFatal, "- Failed to start %s on %d: %v", l.profile.Name(), l.profile.Port(), err)
}

func (l *Listener) record(kind logging.Kind, format string, args ...interface{}) {
	ev := logging.NewEvent(kind, format, args...)
	ev.Service = l.profile.Name()
	l.rec.Record(ev)
}

func nextDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	d *= 2
	if d > maxAcceptDelay {
		return maxAcceptDelay
	}
	return d
}
