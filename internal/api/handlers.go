package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/0tSystemsPublicRepos/logweaver/internal/database"
	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
	"github.com/0tSystemsPublicRepos/logweaver/internal/metrics"
	"github.com/0tSystemsPublicRepos/logweaver/internal/profile"
)

const maxListLimit = 1000

type Options struct {
	ListenAddr  string
	BindAddress string
	Profiles    []*profile.Profile
	// Store, Metrics and Hub are optional; their endpoints answer 503
	// when unset.
	Store   database.Provider
	Metrics *metrics.Collector
	Hub     *Hub
}

// Server is the read-only status API.
type Server struct {
	opts    Options
	started time.Time
}

func NewServer(opts Options) *Server {
	return &Server{opts: opts, started: time.Now()}
}

// ServiceInfo describes one configured listener.
type ServiceInfo struct {
	Name               string   `json:"name"`
	Address            string   `json:"address"`
	Port               int      `json:"port"`
	GreetingBytes      int      `json:"greeting_bytes"`
	CloseAfterGreeting bool     `json:"close_after_greeting"`
	Reactions          []string `json:"reactions"`
}

func DescribeServices(bindAddr string, profiles []*profile.Profile) []ServiceInfo {
	out := make([]ServiceInfo, 0, len(profiles))
	for _, p := range profiles {
		info := ServiceInfo{
			Name:               p.Name(),
			Address:            net.JoinHostPort(bindAddr, strconv.Itoa(p.Port())),
			Port:               p.Port(),
			GreetingBytes:      len(p.Greeting()),
			CloseAfterGreeting: p.ClosesAfterGreeting(),
			Reactions:          []string{},
		}
		for _, r := range p.Reactions() {
			desc := r.Trigger.String()
			if r.Close {
				desc += " (close)"
			}
			info.Reactions = append(info.Reactions, desc)
		}
		out = append(out, info)
	}
	return out
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.corsMiddleware(s.handleHealth))
	mux.HandleFunc("/api/services", s.corsMiddleware(s.handleServices))
	mux.HandleFunc("/api/events", s.corsMiddleware(s.handleEvents))
	mux.HandleFunc("/api/stats", s.corsMiddleware(s.handleStats))
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics.Handler())
	}
	if s.opts.Hub != nil {
		mux.Handle("/api/stream", s.opts.Hub)
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("[api] Status API listening on %s", s.opts.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if s.opts.Hub != nil {
		s.opts.Hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "GET required")
			return
		}

		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":   "ok",
		"services": len(s.opts.Profiles),
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	}
	if ps, err := processStats(); err == nil {
		resp["process"] = ps
	}
	status := http.StatusOK
	if s.opts.Store != nil {
		if err := s.opts.Store.Ping(); err != nil {
			resp["status"] = "degraded"
			resp["store"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp["store"] = "ok"
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, DescribeServices(s.opts.BindAddress, s.opts.Profiles))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "event store not enabled")
		return
	}

	q := r.URL.Query()
	filter := database.EventFilter{
		Service: q.Get("service"),
		Peer:    q.Get("peer"),
		Limit:   database.DefaultListLimit,
	}
	if k := q.Get("kind"); k != "" {
		kind, err := logging.ParseKind(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Kind = kind
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		filter.Since = t
	}
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxListLimit {
			filter.Limit = parsed
		}
	}

	events, err := s.opts.Store.ListEvents(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []database.StoredEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "event store not enabled")
		return
	}

	kinds, err := s.opts.Store.EventStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	services, err := s.opts.Store.ServiceStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if kinds == nil {
		kinds = []database.KindCount{}
	}
	if services == nil {
		services = []database.ServiceStat{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"kinds":    kinds,
		"services": services,
	})
}
