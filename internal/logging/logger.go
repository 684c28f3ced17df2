package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Sink is the process-wide event log. Every Record call renders one line,
// appends it to the log file and mirrors it to the console as a single
// write under one lock, so lines from concurrent sessions never interleave.
type Sink struct {
	mu        sync.Mutex
	file      io.Writer
	closer    io.Closer
	logPath   string
	console   io.Writer
	colors    map[Kind]*color.Color
	observers []Observer
	failing   bool
	now       func() time.Time
}

type Options struct {
	// Path of the append-only log file. Empty disables the file.
	Path string
	// Console receives a live copy of every line. Nil disables it.
	Console io.Writer
	// Color is "auto", "always" or "never".
	Color string
}

var defaultSink atomic.Pointer[Sink]

// Open creates the log directory if needed and opens the log file for
// appending. The file is never truncated.
func Open(opts Options) (*Sink, error) {
	var file *os.File
	if opts.Path != "" {
		if dir := filepath.Dir(opts.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
	}

	var s *Sink
	if file != nil {
		s = NewSink(file, opts.Console)
		s.closer = file
	} else {
		s = NewSink(nil, opts.Console)
	}
	s.logPath = opts.Path
	s.setColor(colorEnabled(opts.Color, opts.Console))
	return s, nil
}

// NewSink builds a sink over arbitrary writers. Either may be nil.
// Console colouring is off until configured through Open.
func NewSink(file, console io.Writer) *Sink {
	s := &Sink{
		file:    file,
		console: console,
		now:     time.Now,
		colors: map[Kind]*color.Color{
			KindStarted:       color.New(color.FgCyan, color.Bold),
			KindListening:     color.New(color.FgCyan),
			KindNewConnection: color.New(color.FgGreen, color.Bold),
			KindData:          color.New(color.FgYellow),
			KindError:         color.New(color.FgRed),
			KindClosed:        color.New(color.FgBlue),
			KindFatal:         color.New(color.FgRed, color.Bold),
			KindInfo:          color.New(color.FgWhite),
		},
	}
	s.setColor(false)
	return s
}

func colorEnabled(mode string, console io.Writer) bool {
	switch strings.ToLower(mode) {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := console.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (s *Sink) setColor(enabled bool) {
	for _, c := range s.colors {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// Path returns the log file path, or "" when the sink has no file.
func (s *Sink) Path() string {
	return s.logPath
}

// Subscribe adds an observer. Observers added after events were recorded
// only see later events.
func (s *Sink) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Record appends the event. Write failures never reach the caller; the
// first failure of a streak is reported as a console-only ERROR line.
func (s *Sink) Record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Time.IsZero() {
		ev.Time = s.now()
	}
	line := ev.Render() + "\n"

	if s.file != nil {
		if _, err := io.WriteString(s.file, line); err != nil {
			if !s.failing {
				s.failing = true
				s.writeConsole(Event{Time: ev.Time, Kind: KindError, Text: fmt.Sprintf("log sink: %v", err)})
			}
		} else {
			s.failing = false
		}
	}
	s.writeConsole(ev)

	for _, o := range s.observers {
		o.Observe(ev)
	}
}

func (s *Sink) writeConsole(ev Event) {
	if s.console == nil {
		return
	}
	kind := string(ev.Kind)
	if c, ok := s.colors[ev.Kind]; ok {
		kind = c.Sprint(kind)
	}
	// Console errors have nowhere left to go.
	_, _ = fmt.Fprintf(s.console, "[%s] %s %s\n", ev.Time.Format(TimestampLayout), kind, ev.Text)
}

// WriteHeader appends the startup banner block to the log file.
func (s *Sink) WriteHeader(ports []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	header := fmt.Sprintf("\n--- LogWeaver Honeypot Started [%s] ---\nListening on ports: %v\n---\n",
		s.now().Format(TimestampLayout), ports)
	if _, err := io.WriteString(s.file, header); err != nil {
		return fmt.Errorf("failed to write log header: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	s.file = nil
	return err
}

// SetDefault installs the sink used by Info and Error.
func SetDefault(s *Sink) {
	defaultSink.Store(s)
}

func Info(msg string, args ...interface{}) {
	emit(KindInfo, msg, args...)
}

func Error(msg string, args ...interface{}) {
	emit(KindError, msg, args...)
}

func emit(kind Kind, msg string, args ...interface{}) {
	ev := NewEvent(kind, msg, args...)
	if s := defaultSink.Load(); s != nil {
		s.Record(ev)
		return
	}
	fmt.Printf("[%s] %s\n", kind, ev.Text)
}
