package honeypot

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
	"github.com/0tSystemsPublicRepos/logweaver/internal/profile"
	"github.com/google/go-cmp/cmp"
)

func mustProfile(t *testing.T, name string, greeting string, opts ...profile.Option) *profile.Profile {
	t.Helper()
	p, err := profile.New(name, 2121, []byte(greeting), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func defaultProfile(t *testing.T, name string) *profile.Profile {
	t.Helper()
	for _, p := range profile.Defaults() {
		if p.Name() == name {
			return p
		}
	}
	t.Fatalf("no default profile %s", name)
	return nil
}

func startSession(s *Session) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestFTPUserScenario(t *testing.T) {
	server, client := tcpPair(t)
	rec := &memRecorder{}
	sess := NewSession(server, defaultProfile(t, "FTP"), rec, DefaultReadChunk)
	done := startSession(sess)

	readExactly(t, client, []byte("220 FTP Ready.\r\n"))
	if _, err := client.Write([]byte("USER admin\r\n")); err != nil {
		t.Fatal(err)
	}
	readExactly(t, client, []byte("331 Please specify the password.\r\n"))

	// The session keeps waiting for more input.
	evs := rec.Events()
	if count(evs, logging.KindClosed) != 0 {
		t.Fatalf("session closed after USER: %v", kinds(evs))
	}
	if _, err := client.Write([]byte("PASS hunter2\r\n")); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, "second DATA", hasKind(logging.KindData, 2))

	client.Close()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}

	peer := client.LocalAddr().String()
	evs = rec.Events()
	want := []logging.Event{
		{Kind: logging.KindNewConnection, Text: "FTP - IP: " + peer, Service: "FTP", Peer: peer},
		{Kind: logging.KindData, Text: "FTP - " + peer + " -> USER admin", Service: "FTP", Peer: peer, Bytes: 12},
		{Kind: logging.KindData, Text: "FTP - " + peer + " -> PASS hunter2", Service: "FTP", Peer: peer, Bytes: 14},
		{Kind: logging.KindClosed, Text: "FTP - IP: " + peer, Service: "FTP", Peer: peer},
	}
	ignoreTime := cmp.FilterPath(func(p cmp.Path) bool { return p.Last().String() == ".Time" }, cmp.Ignore())
	if diff := cmp.Diff(want, evs, ignoreTime); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if sess.State() != StateClosed {
		t.Errorf("state = %s, want CLOSED", sess.State())
	}
}

func TestHTTPSendsPageAndHangsUp(t *testing.T) {
	server, client := tcpPair(t)
	rec := &memRecorder{}
	done := startSession(NewSession(server, defaultProfile(t, "HTTP"), rec, DefaultReadChunk))

	client.SetReadDeadline(time.Now().Add(waitTimeout))
	page, err := io.ReadAll(client)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !strings.HasPrefix(string(page), "HTTP/1.1 200 OK\r\n") ||
		!strings.HasSuffix(string(page), "<html><body><h1>It works!</h1></body></html>") {
		t.Errorf("page = %q", page)
	}
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if diff := cmp.Diff([]logging.Kind{logging.KindNewConnection, logging.KindClosed}, kinds(rec.Events())); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestImmediateDisconnect(t *testing.T) {
	server, client := tcpPair(t)
	rec := &memRecorder{}
	client.Close()

	err := NewSession(server, mustProfile(t, "SILENT", ""), rec, DefaultReadChunk).Run()
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if diff := cmp.Diff([]logging.Kind{logging.KindNewConnection, logging.KindClosed}, kinds(rec.Events())); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestPayloadRendering(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"trimmed text", []byte("  GET / HTTP/1.0 \r\n"), "GET / HTTP/1.0"},
		{"inner whitespace kept", []byte("a  b\tc\n"), "a  b\tc"},
		{"utf8 text", []byte("héllo wörld\n"), "héllo wörld"},
		{"invalid utf8 as hex", []byte{0xff, 0xfe, 0x00, 0x41}, "fffe0041"},
		{"binary with spaces not trimmed", []byte{' ', 0xc3, ' '}, "20c320"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &memRecorder{}
			conn := newFakeConn(tt.in)
			if err := NewSession(conn, mustProfile(t, "RAW", ""), rec, DefaultReadChunk).Run(); err != nil {
				t.Fatalf("Run() = %v", err)
			}
			evs := rec.Events()
			if count(evs, logging.KindData) != 1 {
				t.Fatalf("DATA events = %d: %v", count(evs, logging.KindData), kinds(evs))
			}
			want := "RAW - 203.0.113.7:50000 -> " + tt.want
			if evs[1].Text != want {
				t.Errorf("DATA text = %q, want %q", evs[1].Text, want)
			}
		})
	}
}

func TestHexFallbackRoundTrips(t *testing.T) {
	raw := []byte{0x16, 0x03, 0x01, 0x00, 0xa5, 0x01, 0x00, 0x00, 0xa1, 0x03, 0x03, 0xfe, 0xed}
	got := Decode(raw)
	back, err := hex.DecodeString(got)
	if err != nil {
		t.Fatalf("logged payload %q is not hex: %v", got, err)
	}
	if !bytes.Equal(back, raw) {
		t.Errorf("round trip = % x, want % x", back, raw)
	}
}

func TestChunkSizeSplitsReads(t *testing.T) {
	rec := &memRecorder{}
	conn := newFakeConn([]byte("abcdefgh"))
	if err := NewSession(conn, mustProfile(t, "X", ""), rec, 4).Run(); err != nil {
		t.Fatal(err)
	}
	var payloads []string
	for _, ev := range rec.Events() {
		if ev.Kind == logging.KindData {
			payloads = append(payloads, strings.TrimPrefix(ev.Text, "X - 203.0.113.7:50000 -> "))
		}
	}
	if diff := cmp.Diff([]string{"abcd", "efgh"}, payloads); diff != "" {
		t.Errorf("payloads mismatch (-want +got):\n%s", diff)
	}
}

func TestReactionOrderFirstMatchWins(t *testing.T) {
	server, client := tcpPair(t)
	rec := &memRecorder{}
	p := mustProfile(t, "ORDER", "", profile.WithReactions(
		profile.Reaction{Trigger: profile.Contains("A"), Response: []byte("X")},
		profile.Reaction{Trigger: profile.Contains("AB"), Response: []byte("Y")},
	))
	done := startSession(NewSession(server, p, rec, DefaultReadChunk))

	if _, err := client.Write([]byte("AB")); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, "DATA", hasKind(logging.KindData, 1))
	client.CloseWrite()

	client.SetReadDeadline(time.Now().Add(waitTimeout))
	got, err := io.ReadAll(client)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "X" {
		t.Errorf("replies = %q, want only %q", got, "X")
	}
	if err := waitDone(t, done); err != nil {
		t.Fatal(err)
	}
}

func TestNoMatchSendsNothing(t *testing.T) {
	conn := newFakeConn([]byte("hello"))
	rec := &memRecorder{}
	p := mustProfile(t, "Q", "", profile.WithReactions(
		profile.Reaction{Trigger: profile.Token("quit"), Response: []byte("bye"), Close: true},
	))
	if err := NewSession(conn, p, rec, DefaultReadChunk).Run(); err != nil {
		t.Fatal(err)
	}
	if conn.written.Len() != 0 {
		t.Errorf("wrote %q with no matching reaction", conn.written.String())
	}
}

func TestReactionCloseEndsSession(t *testing.T) {
	server, client := tcpPair(t)
	rec := &memRecorder{}
	p := mustProfile(t, "BYE", "hi\r\n", profile.WithReactions(
		profile.Reaction{Trigger: profile.Token("quit"), Response: []byte("221 Goodbye.\r\n"), Close: true},
	))
	done := startSession(NewSession(server, p, rec, DefaultReadChunk))

	readExactly(t, client, []byte("hi\r\n"))
	client.Write([]byte("QUIT\r\n"))

	client.SetReadDeadline(time.Now().Add(waitTimeout))
	rest, err := io.ReadAll(client)
	if err != nil {
		t.Fatal(err)
	}
	if string(rest) != "221 Goodbye.\r\n" {
		t.Errorf("reply = %q", rest)
	}
	if err := waitDone(t, done); err != nil {
		t.Fatal(err)
	}
	want := []logging.Kind{logging.KindNewConnection, logging.KindData, logging.KindClosed}
	if diff := cmp.Diff(want, kinds(rec.Events())); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestReadErrorIsRecordedBeforeClose(t *testing.T) {
	conn := newFakeConn([]byte("USER root"))
	conn.readErr = errReset
	rec := &memRecorder{}

	err := NewSession(conn, mustProfile(t, "FTP", ""), rec, DefaultReadChunk).Run()
	if !errors.Is(err, errReset) {
		t.Fatalf("Run() = %v, want %v", err, errReset)
	}
	evs := rec.Events()
	want := []logging.Kind{logging.KindNewConnection, logging.KindData, logging.KindError, logging.KindClosed}
	if diff := cmp.Diff(want, kinds(evs)); diff != "" {
		t.Fatalf("kinds mismatch (-want +got):\n%s", diff)
	}
	if evs[2].Text != "FTP - 203.0.113.7:50000: read: connection reset by peer" {
		t.Errorf("ERROR text = %q", evs[2].Text)
	}
	if conn.closes != 1 {
		t.Errorf("conn closed %d times, want 1", conn.closes)
	}
}

func TestGreetingFailure(t *testing.T) {
	conn := newFakeConn(nil)
	conn.writeErr = errors.New("broken pipe")
	rec := &memRecorder{}

	err := NewSession(conn, mustProfile(t, "SSH", "SSH-2.0-OpenSSH_8.4\r\n"), rec, DefaultReadChunk).Run()
	if err == nil || !strings.Contains(err.Error(), "greeting") {
		t.Fatalf("Run() = %v", err)
	}
	want := []logging.Kind{logging.KindNewConnection, logging.KindError, logging.KindClosed}
	if diff := cmp.Diff(want, kinds(rec.Events())); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestReplyFailure(t *testing.T) {
	conn := newFakeConn([]byte("USER x"))
	rec := &memRecorder{}
	p := mustProfile(t, "FTP", "", profile.WithReactions(
		profile.Reaction{Trigger: profile.Contains("USER"), Response: []byte("331\r\n")},
	))
	conn.writeErr = errors.New("broken pipe")

	if err := NewSession(conn, p, rec, DefaultReadChunk).Run(); err == nil {
		t.Fatal("Run() = nil, want reply error")
	}
	if n := count(rec.Events(), logging.KindClosed); n != 1 {
		t.Errorf("CLOSED events = %d, want 1", n)
	}
}

type panicTrigger struct{}

func (panicTrigger) Match(profile.Input) bool { panic("boom") }
func (panicTrigger) String() string           { return "panic" }

func TestPanicIsContained(t *testing.T) {
	conn := newFakeConn([]byte("anything"))
	rec := &memRecorder{}
	p := mustProfile(t, "BAD", "", profile.WithReactions(profile.Reaction{Trigger: panicTrigger{}}))

	err := NewSession(conn, p, rec, DefaultReadChunk).Run()
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Run() = %v", err)
	}
	evs := rec.Events()
	if count(evs, logging.KindError) != 1 || count(evs, logging.KindClosed) != 1 {
		t.Errorf("kinds = %v", kinds(evs))
	}
	if evs[len(evs)-1].Kind != logging.KindClosed {
		t.Errorf("last event = %s, want CLOSED", evs[len(evs)-1].Kind)
	}
}

func TestExactlyOneClosedOnEveryPath(t *testing.T) {
	byeProfile := mustProfile(t, "P", "", profile.WithReactions(
		profile.Reaction{Trigger: profile.Token("bye"), Close: true},
	))
	tests := []struct {
		name  string
		setup func() *fakeConn
	}{
		{"eof", func() *fakeConn { return newFakeConn([]byte("x")) }},
		{"reaction close", func() *fakeConn { return newFakeConn([]byte("bye")) }},
		{"read error", func() *fakeConn { c := newFakeConn(nil); c.readErr = errReset; return c }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &memRecorder{}
			conn := tt.setup()
			_ = NewSession(conn, byeProfile, rec, DefaultReadChunk).Run()
			evs := rec.Events()
			if n := count(evs, logging.KindClosed); n != 1 {
				t.Errorf("CLOSED events = %d, want 1 (%v)", n, kinds(evs))
			}
			if evs[0].Kind != logging.KindNewConnection || evs[len(evs)-1].Kind != logging.KindClosed {
				t.Errorf("bad ordering: %v", kinds(evs))
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if StateInteracting.String() != "INTERACTING" || State(42).String() != "State(42)" {
		t.Errorf("unexpected State strings")
	}
}
