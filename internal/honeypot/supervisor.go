package honeypot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
	"github.com/0tSystemsPublicRepos/logweaver/internal/profile"
)

type SupervisorOptions struct {
	Profiles    []*profile.Profile
	BindAddress string
	// Stagger is a pause between listener starts that keeps the startup
	// log readable. Nothing depends on it.
	Stagger   time.Duration
	ReadChunk int
	Recorder  logging.Recorder
	// LogPath is only used in the STARTED message.
	LogPath string
}

// Supervisor starts one Listener per profile and waits for shutdown. It
// never joins or stops listeners individually.
type Supervisor struct {
	opts      SupervisorOptions
	mu        sync.Mutex
	listeners []*Listener
}

func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.ReadChunk <= 0 {
		opts.ReadChunk = DefaultReadChunk
	}
	return &Supervisor{opts: opts}
}

// Start writes the startup header, launches every listener and records the
// "running" notice. It returns once all listeners have been launched;
// listeners whose bind fails have already recorded FATAL by then or will
// shortly after.
func (s *Supervisor) Start(ctx context.Context) error {
	if len(s.opts.Profiles) == 0 {
		return fmt.Errorf("no services configured")
	}
	rec := s.opts.Recorder

	if a, ok := rec.(logging.Announcer); ok {
		if err := a.WriteHeader(profile.Ports(s.opts.Profiles)); err != nil {
			return err
		}
	}
	rec.Record(logging.NewEvent(logging.KindStarted, "LogWeaver started. Logging to %s", s.opts.LogPath))

	for i, p := range s.opts.Profiles {
		if i > 0 && s.opts.Stagger > 0 {
			select {
			case <-time.After(s.opts.Stagger):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		l := NewListener(p, s.opts.BindAddress, rec, s.opts.ReadChunk)
		s.mu.Lock()
		s.listeners = append(s.listeners, l)
		s.mu.Unlock()
		// Bind failures are recorded as FATAL by the listener itself.
		go func() { _ = l.Run(ctx) }()
	}

	rec.Record(logging.NewEvent(logging.KindInfo, "[*] All honeypots are running. Press Ctrl+C to stop."))
	return nil
}

// Run starts the listeners and blocks until ctx is cancelled by the
// shutdown signal.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	<-ctx.Done()
	s.opts.Recorder.Record(logging.NewEvent(logging.KindInfo, "[*] Shutting down LogWeaver."))
	return nil
}

// Listeners returns the listeners launched so far.
func (s *Supervisor) Listeners() []*Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Listener(nil), s.listeners...)
}
