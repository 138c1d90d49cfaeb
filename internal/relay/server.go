package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/icy"
)

// StreamPath is where sinks fetch audio.
const StreamPath = "/stream.mp3"

// OptionsFunc builds the stream options for a request.
type OptionsFunc func(r *http.Request) StreamOptions

// Server is the stream endpoint handed to cast sinks. It listens only while
// playback is active.
type Server struct {
	hub         *Hub
	addr        string
	externalURL string
	options     OptionsFunc

	mu   sync.Mutex
	srv  *http.Server
	port int
	done chan struct{}
}

// NewServer returns a stopped server for addr (e.g. ":8089"). externalURL,
// when set, replaces the derived URL given to sinks.
func NewServer(hub *Hub, addr, externalURL string, options OptionsFunc) *Server {
	return &Server{hub: hub, addr: addr, externalURL: externalURL, options: options}
}

// Handler serves StreamPath.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(StreamPath, s.serveStream)
	return r
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request) {
	if src, _ := s.hub.Active(); src == nil {
		WriteRetryLater(w)
		return
	}
	var opts StreamOptions
	if s.options != nil {
		opts = s.options(r)
	}
	opts.ICY = opts.ICY && icy.Wanted(r)
	if opts.Endpoint == "" {
		opts.Endpoint = "relay"
	}
	s.hub.Serve(w, r, opts)
}

// Start begins listening. It is a no-op when already started.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// WriteTimeout must be 0 for long-lived audio responses.
		WriteTimeout: 0,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("relay: server error", "err", err)
		}
	}()

	s.srv = srv
	s.done = done
	s.port = ln.Addr().(*net.TCPAddr).Port
	slog.Info("relay: stream server started", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener and every open stream. It is idempotent.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.done = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	// Audio responses never go idle, so a graceful Shutdown would only wait
	// out its deadline.
	_ = srv.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	slog.Info("relay: stream server stopped")
	return nil
}

// Running reports whether the server is listening.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// URL is the stream URL sinks should play.
func (s *Server) URL() string {
	if s.externalURL != "" {
		return s.externalURL
	}
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == 0 {
		_, p, err := net.SplitHostPort(s.addr)
		if err == nil {
			port, _ = strconv.Atoi(p)
		}
	}
	return "http://" + net.JoinHostPort(OutboundIP(), strconv.Itoa(port)) + StreamPath
}

// OutboundIP returns the address other hosts on the LAN reach us at. No
// packets are sent; dialing UDP only selects a route.
func OutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
