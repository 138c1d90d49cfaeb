// Package sinks controls the downstream players that pull the radio stream.
package sinks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownSink is returned for a device id no provider knows.
var ErrUnknownSink = errors.New("unknown device")

// Device describes a playback target. ID carries a "type:" prefix.
type Device struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Model     string  `json:"model,omitempty"`
	Address   string  `json:"ip_address,omitempty"`
	Powered   bool    `json:"is_powered"`
	Playing   bool    `json:"is_playing"`
	Connected bool    `json:"connected"`
	Volume    float64 `json:"volume"` // 0.0 - 1.0
	Muted     bool    `json:"muted"`
}

// Sink controls one device.
type Sink interface {
	Device() Device
	Play(ctx context.Context, url, title string) error
	Stop(ctx context.Context) error
	Pause(ctx context.Context) error
	SetVolume(ctx context.Context, volume float64) error
	Volume(ctx context.Context) (float64, error)
	SetMute(ctx context.Context, muted bool) error
}

// Resumer is implemented by sinks that can continue a paused stream. Sinks
// without it are resumed by playing the stream URL again.
type Resumer interface {
	Resume(ctx context.Context) error
}

// Provider discovers the sinks of one type.
type Provider interface {
	Type() string
	Discover(ctx context.Context) ([]Sink, error)
}

// Registry holds the sinks found by all providers.
type Registry struct {
	providers []Provider

	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewRegistry returns an empty registry. Call Refresh to discover devices.
func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers, sinks: make(map[string]Sink)}
}

// Add registers a sink directly, replacing any with the same id.
func (r *Registry) Add(s Sink) {
	r.mu.Lock()
	r.sinks[s.Device().ID] = s
	r.mu.Unlock()
}

// Refresh re-runs discovery. A failing provider keeps its previous sinks;
// its error is returned alongside the merged device list.
func (r *Registry) Refresh(ctx context.Context) ([]Device, error) {
	var errs []error
	for _, p := range r.providers {
		found, err := p.Discover(ctx)
		if err != nil {
			slog.Warn("sinks: discovery failed", "type", p.Type(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Type(), err))
			continue
		}
		prefix := p.Type() + ":"
		r.mu.Lock()
		for id := range r.sinks {
			if strings.HasPrefix(id, prefix) {
				delete(r.sinks, id)
			}
		}
		for _, s := range found {
			r.sinks[s.Device().ID] = s
		}
		r.mu.Unlock()
		slog.Info("sinks: discovered devices", "type", p.Type(), "count", len(found))
	}
	return r.Devices(), errors.Join(errs...)
}

// Devices lists known devices sorted by name.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.sinks))
	for _, s := range r.sinks {
		out = append(out, s.Device())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get finds a sink by id. The "type:" prefix may be omitted.
func (r *Registry) Get(id string) (Sink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sinks[id]; ok {
		return s, nil
	}
	for key, s := range r.sinks {
		if _, rest, ok := strings.Cut(key, ":"); ok && rest == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSink, id)
}
