// Package zeroconf advertises the radio's HTTP API over mDNS/DNS-SD so
// players and dashboards on the LAN can find the stream without configuration.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/grandcat/zeroconf"
)

const (
	serviceType = "_http._tcp"
	domain      = "local."
)

// Service is one mDNS registration.
type Service struct {
	name    string // instance name, e.g. "rtlsdr-radio"
	port    int
	version string

	mu     sync.Mutex
	server *zeroconf.Server
}

// New creates a Service advertising the API listening on port.
func New(name string, port int, version string) *Service {
	return &Service{name: name, port: port, version: version}
}

// TXT returns the TXT records published with the service.
func (s *Service) TXT() []string {
	return []string{
		"path=/api/stream",
		"api=/api",
		"version=" + s.version,
		"model=rtlsdr-radio",
	}
}

// Start registers the service and blocks until ctx is cancelled, then
// unregisters it.
func (s *Service) Start(ctx context.Context) error {
	txt := s.TXT()
	server, err := zeroconf.Register(s.name, serviceType, domain, s.port, txt, nil)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()
	slog.Info("zeroconf: registered mDNS service", "name", s.name, "port", s.port, "txt", txt)

	<-ctx.Done()

	s.mu.Lock()
	s.server = nil
	s.mu.Unlock()
	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}

// Registered reports whether the service is currently advertised.
func (s *Service) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server != nil
}
