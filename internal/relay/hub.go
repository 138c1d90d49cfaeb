// Package relay fans the active audio source out to any number of HTTP
// listeners and runs the internal stream server that cast sinks pull from.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/metrics"
)

const (
	DefaultChunkSize   = 4096
	defaultIdleBackoff = 10 * time.Millisecond
	listenerBuffer     = 64
)

// Source is an audio source the hub can pull from.
type Source interface {
	Ready() bool
	ReadChunk(ctx context.Context, size int) []byte
}

// SelectFunc returns the source that should feed listeners, or nil when no
// source is ready. name labels the source for ICY headers and logs.
type SelectFunc func() (src Source, name string)

// Listener receives chunks from the hub. Chunks are shared between listeners
// and must not be modified.
type Listener struct {
	id string
	ch chan []byte
}

// C returns the chunk channel. It is closed when the listener is removed.
func (l *Listener) C() <-chan []byte { return l.ch }

// Hub runs a single pump per active stream and copies each chunk to every
// listener. A listener whose buffer is full misses the chunk.
type Hub struct {
	selectSource SelectFunc
	chunkSize    int
	idleBackoff  time.Duration
	metrics      *metrics.Metrics

	mu     sync.Mutex
	subs   map[string]*Listener
	cancel context.CancelFunc
	gen    uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithChunkSize sets the read size passed to the source.
func WithChunkSize(n int) Option { return func(h *Hub) { h.chunkSize = n } }

// WithIdleBackoff sets the pause after an empty read.
func WithIdleBackoff(d time.Duration) Option { return func(h *Hub) { h.idleBackoff = d } }

// WithMetrics records dropped chunks.
func WithMetrics(m *metrics.Metrics) Option { return func(h *Hub) { h.metrics = m } }

// NewHub returns a hub pulling from whatever sel selects.
func NewHub(sel SelectFunc, opts ...Option) *Hub {
	h := &Hub{
		selectSource: sel,
		chunkSize:    DefaultChunkSize,
		idleBackoff:  defaultIdleBackoff,
		subs:         make(map[string]*Listener),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Active returns the ready source, or nil.
func (h *Hub) Active() (Source, string) {
	src, name := h.selectSource()
	if src == nil || !src.Ready() {
		return nil, ""
	}
	return src, name
}

// Subscribe adds a listener and starts the pump if needed.
func (h *Hub) Subscribe() *Listener {
	l := &Listener{id: uuid.NewString(), ch: make(chan []byte, listenerBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[l.id] = l
	if h.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		h.gen++
		go h.pump(ctx, h.gen)
	}
	return l
}

// Unsubscribe removes l. The pump stops with the last listener.
func (h *Hub) Unsubscribe(l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[l.id]; !ok {
		return
	}
	delete(h.subs, l.id)
	close(l.ch)
	if len(h.subs) == 0 && h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// Listeners returns the number of connected listeners.
func (h *Hub) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) pump(ctx context.Context, gen uint64) {
	for ctx.Err() == nil {
		var chunk []byte
		if src, _ := h.Active(); src != nil {
			chunk = src.ReadChunk(ctx, h.chunkSize)
		}
		if len(chunk) == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(h.idleBackoff):
			}
			continue
		}
		h.broadcast(gen, chunk)
	}
}

func (h *Hub) broadcast(gen uint64, chunk []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen || h.cancel == nil {
		return
	}
	for _, l := range h.subs {
		select {
		case l.ch <- chunk:
		default:
			h.metrics.RecordDroppedChunk()
		}
	}
}
