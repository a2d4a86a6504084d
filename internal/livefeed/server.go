// Package livefeed serves a read-only JSON view of the race in progress so
// a second screen (a laptop at the finish line, a phone) can follow along,
// either by polling /v1/session or by holding /v1/events open. It never
// mutates the session.
package livefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kingrea/looptrack/internal/race"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// ErrDisabled is returned by Start when the feed is turned off.
var ErrDisabled = errors.New("livefeed: server disabled")

// Source yields the current session state. checkpoint.Guard satisfies it.
type Source interface {
	Snapshot() race.Snapshot
}

// Logger receives server diagnostics.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Server is the HTTP listener backing the feed.
type Server struct {
	settings Settings
	source   Source
	course   race.Course
	gatherer prometheus.Gatherer
	hub      *Hub
	logger   Logger
	clock    func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	stop      chan struct{}
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCourse sets the loop lengths used for distances.
func WithCourse(c race.Course) Option {
	return func(s *Server) {
		s.course = c
	}
}

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithHub enables the /v1/events stream backed by h.
func WithHub(h *Hub) Option {
	return func(s *Server) {
		s.hub = h
	}
}

// NewServer prepares a feed server reading from source.
func NewServer(settings Settings, source Source, opts ...Option) *Server {
	settings.normalize()
	s := &Server{
		settings: settings,
		source:   source,
		course:   race.DefaultCourse,
		gatherer: prometheus.DefaultGatherer,
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the feed's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/session", s.handleSession)
	if s.hub != nil {
		mux.HandleFunc("/v1/events", s.handleEvents)
	}
	metrics := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if !readOnly(w, r) {
			return
		}
		metrics.ServeHTTP(w, r)
	})
	return mux
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("livefeed: server is nil")
	}
	if !s.settings.Enabled {
		return ErrDisabled
	}
	if s.source == nil {
		return fmt.Errorf("livefeed: session source is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("livefeed: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("livefeed: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.stop = make(chan struct{})
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("livefeed: serve error: %v", err)
		}
	}()
	s.logger.Printf("livefeed: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	close(s.stop)
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// BaseURL returns the HTTP base URL for the running server.
func (s *Server) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.settings.URL()
	}
	return "http://" + s.listener.Addr().String()
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !readOnly(w, r) {
		return
	}
	s.mu.RLock()
	started := s.startTime
	s.mu.RUnlock()
	var uptime int64
	if !started.IsZero() {
		uptime = int64(s.clock().Sub(started).Seconds())
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: string(s.Status()), UptimeSeconds: uptime})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !readOnly(w, r) {
		return
	}
	if s.source == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no session"})
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, View(s.source.Snapshot(), s.course))
}

// handleEvents streams updates as server-sent events until the client goes
// away or the server shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !readOnly(w, r) {
		return
	}
	rc := http.NewResponseController(w)
	// The write timeout applies to plain requests, not to the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	s.mu.RLock()
	stop := s.stop
	s.mu.RUnlock()
	sub := s.hub.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Printf("livefeed: stream flush unsupported: %v", err)
		return
	}
	if r.Method == http.MethodHead {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-stop:
			return
		case update, ok := <-sub.Updates:
			if !ok {
				return
			}
			if err := writeEvent(w, update); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, update Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", update.Seq, update.Kind, data)
	return err
}

func readOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
