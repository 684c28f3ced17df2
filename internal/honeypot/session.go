package honeypot

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
	"github.com/0tSystemsPublicRepos/logweaver/internal/profile"
)

// DefaultReadChunk is the largest read a session requests at once.
const DefaultReadChunk = 1024

type State int

const (
	StateAccepted State = iota
	StateGreeted
	StateInteracting
	StateErrored
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "ACCEPTED"
	case StateGreeted:
		return "GREETED"
	case StateInteracting:
		return "INTERACTING"
	case StateErrored:
		return "ERRORED"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session drives one accepted connection against a profile. It owns the
// connection; the profile is shared read-only.
//
// Reads block without a deadline: a silent peer keeps its session open
// until it disconnects or the process exits.
type Session struct {
	conn      net.Conn
	profile   *profile.Profile
	rec       logging.Recorder
	peer      string
	chunk     int
	startedAt time.Time
	state     State
}

func NewSession(conn net.Conn, p *profile.Profile, rec logging.Recorder, chunkSize int) *Session {
	if chunkSize <= 0 {
		chunkSize = DefaultReadChunk
	}
	peer := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		peer = addr.String()
	}
	return &Session{
		conn:      conn,
		profile:   p,
		rec:       rec,
		peer:      peer,
		chunk:     chunkSize,
		startedAt: time.Now(),
		state:     StateAccepted,
	}
}

func (s *Session) Peer() string        { return s.peer }
func (s *Session) State() State        { return s.state }
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Run drives the session to completion. It always closes the connection and
// records exactly one CLOSED event. The returned error is the I/O failure
// that ended the session, already recorded as ERROR; a clean disconnect or
// a reaction-triggered close returns nil.
func (s *Session) Run() (err error) {
	s.record(logging.KindNewConnection, 0, "%s - IP: %s", s.profile.Name(), s.peer)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panic: %v", r)
		}
		if err != nil {
			s.state = StateErrored
			s.record(logging.KindError, 0, "%s - %s: %v", s.profile.Name(), s.peer, err)
		}
		s.finish()
	}()

	if err = s.greet(); err != nil {
		return err
	}
	if s.profile.ClosesAfterGreeting() {
		return nil
	}
	return s.interact()
}

func (s *Session) greet() error {
	if greeting := s.profile.Greeting(); len(greeting) > 0 {
		if _, err := s.conn.Write(greeting); err != nil {
			return fmt.Errorf("greeting: %w", err)
		}
	}
	s.state = StateGreeted
	return nil
}

func (s *Session) interact() error {
	s.state = StateInteracting
	buf := make([]byte, s.chunk)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			done, herr := s.handle(buf[:n])
			if herr != nil {
				return herr
			}
			if done {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// handle logs one chunk and applies at most one reaction. It reports
// whether the session should end.
func (s *Session) handle(chunk []byte) (bool, error) {
	text := Decode(chunk)
	s.record(logging.KindData, len(chunk), "%s - %s -> %s", s.profile.Name(), s.peer, text)

	r, ok := s.profile.React(profile.Input{Text: text, Service: s.profile.Name(), Peer: s.peer})
	if !ok {
		return false, nil
	}
	if len(r.Response) > 0 {
		if _, err := s.conn.Write(r.Response); err != nil {
			return false, fmt.Errorf("reply: %w", err)
		}
	}
	return r.Close, nil
}

func (s *Session) finish() {
	// Close errors on an already-dead socket carry no information.
	_ = s.conn.Close()
	s.state = StateClosed
	s.record(logging.KindClosed, 0, "%s - IP: %s", s.profile.Name(), s.peer)
}

func (s *Session) record(kind logging.Kind, size int, format string, args ...interface{}) {
	ev := logging.NewEvent(kind, format, args...)
	ev.Service = s.profile.Name()
	ev.Peer = s.peer
	ev.Bytes = size
	s.rec.Record(ev)
}
