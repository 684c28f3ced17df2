package logging

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var fixedTime = time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)

func fixedClock() time.Time { return fixedTime }

type failingWriter struct {
	calls int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.calls++
	return 0, errors.New("disk full")
}

func TestRecordRendersToFileAndConsole(t *testing.T) {
	var file, console bytes.Buffer
	s := NewSink(&file, &console)
	s.now = fixedClock

	s.Record(Event{Kind: KindNewConnection, Text: "FTP - IP: 10.0.0.1:4242"})

	want := "[2024-03-09 14:05:07] NEW_CONNECTION FTP - IP: 10.0.0.1:4242\n"
	if file.String() != want {
		t.Errorf("file = %q, want %q", file.String(), want)
	}
	if console.String() != want {
		t.Errorf("console = %q, want %q", console.String(), want)
	}
}

func TestRecordKeepsExplicitTimestamp(t *testing.T) {
	var file bytes.Buffer
	s := NewSink(&file, nil)
	s.now = func() time.Time { t.Fatal("clock consulted for timestamped event"); return time.Time{} }

	s.Record(Event{Time: fixedTime, Kind: KindInfo, Text: "x"})
	if !strings.HasPrefix(file.String(), "[2024-03-09 14:05:07] INFO x") {
		t.Errorf("unexpected line %q", file.String())
	}
}

func TestRecordPreservesEmissionOrderForEqualTimestamps(t *testing.T) {
	var file bytes.Buffer
	s := NewSink(&file, nil)
	s.now = fixedClock

	for i := 0; i < 5; i++ {
		s.Record(Event{Kind: KindData, Text: fmt.Sprintf("chunk %d", i)})
	}

	lines := strings.Split(strings.TrimSuffix(file.String(), "\n"), "\n")
	for i, line := range lines {
		if !strings.HasSuffix(line, fmt.Sprintf("chunk %d", i)) {
			t.Errorf("line %d = %q out of order", i, line)
		}
	}
}

func TestConcurrentRecordsNeverInterleave(t *testing.T) {
	var file bytes.Buffer
	s := NewSink(&file, nil)

	const writers, perWriter = 16, 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.Record(NewEvent(KindData, "SVC%d - 127.0.0.1:%d -> %s", w, i, strings.Repeat("x", 64)))
			}
		}(w)
	}
	wg.Wait()

	lineRE := regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] DATA SVC\d+ - 127\.0\.0\.1:\d+ -> x{64}$`)
	lines := strings.Split(strings.TrimSuffix(file.String(), "\n"), "\n")
	if len(lines) != writers*perWriter {
		t.Fatalf("got %d lines, want %d", len(lines), writers*perWriter)
	}
	for _, line := range lines {
		if !lineRE.MatchString(line) {
			t.Fatalf("corrupted line %q", line)
		}
	}
}

func TestFileFailureIsSwallowedAndReportedOncePerStreak(t *testing.T) {
	fw := &failingWriter{}
	var console bytes.Buffer
	s := NewSink(fw, &console)
	s.now = fixedClock

	s.Record(Event{Kind: KindData, Text: "one"})
	s.Record(Event{Kind: KindData, Text: "two"})

	if fw.calls != 2 {
		t.Errorf("file writes = %d, want 2", fw.calls)
	}
	got := strings.Split(strings.TrimSuffix(console.String(), "\n"), "\n")
	want := []string{
		"[2024-03-09 14:05:07] ERROR log sink: disk full",
		"[2024-03-09 14:05:07] DATA one",
		"[2024-03-09 14:05:07] DATA two",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("console mismatch (-want +got):\n%s", diff)
	}
}

func TestObserversSeeEventsInLogOrder(t *testing.T) {
	s := NewSink(nil, nil)
	var seen []Kind
	s.Subscribe(ObserverFunc(func(ev Event) { seen = append(seen, ev.Kind) }))

	s.Record(NewEvent(KindNewConnection, "a"))
	s.Record(NewEvent(KindData, "b"))
	s.Record(NewEvent(KindClosed, "c"))

	if diff := cmp.Diff([]Kind{KindNewConnection, KindData, KindClosed}, seen); diff != "" {
		t.Errorf("observer order mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenAppendsAndWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "honeypot.log")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("previous run\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(Options{Path: path, Color: "never"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.now = fixedClock
	if err := s.WriteHeader([]int{21, 22, 80, 3389}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	s.Record(Event{Kind: KindStarted, Text: "LogWeaver started. Logging to " + path})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "previous run\n" +
		"\n--- LogWeaver Honeypot Started [2024-03-09 14:05:07] ---\n" +
		"Listening on ports: [21 22 80 3389]\n" +
		"---\n" +
		"[2024-03-09 14:05:07] STARTED LogWeaver started. Logging to " + path + "\n"
	if string(data) != want {
		t.Errorf("log file =\n%q\nwant\n%q", data, want)
	}
}

func TestRecordAfterCloseDoesNotPanic(t *testing.T) {
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "x.log")})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s.Record(NewEvent(KindInfo, "late"))
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("BOGUS"); err == nil {
		t.Error("ParseKind(BOGUS) succeeded")
	}
}
