package relay

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/icy"
)

// NowPlaying is the in-band metadata for a listener.
type NowPlaying struct {
	Title string
	URL   string
}

// StreamOptions controls one listener's response.
type StreamOptions struct {
	// Endpoint labels the listener in metrics and logs.
	Endpoint string
	// ICY enables in-band metadata. Name, Genre and Bitrate fill the icy-*
	// headers.
	ICY     bool
	MetaInt int
	Name    string
	Genre   string
	Bitrate int
	// Metadata is polled every MetadataInterval while ICY is enabled.
	Metadata         func(ctx context.Context) NowPlaying
	MetadataInterval time.Duration
	// NoSourceGrace ends the response after this long without audio and
	// without a ready source.
	NoSourceGrace time.Duration
}

const (
	defaultMetadataInterval = 5 * time.Second
	defaultNoSourceGrace    = 30 * time.Second
)

// WriteRetryLater answers a request that arrived while no source is ready.
func WriteRetryLater(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(`{"error":"Stream not ready. Tune to a station first."}` + "\n"))
}

// Serve streams hub audio to w until the client goes away or the source has
// been gone longer than the grace period.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, opts StreamOptions) {
	if opts.MetadataInterval <= 0 {
		opts.MetadataInterval = defaultMetadataInterval
	}
	if opts.NoSourceGrace <= 0 {
		opts.NoSourceGrace = defaultNoSourceGrace
	}
	ctx := r.Context()
	flusher, _ := w.(http.Flusher)

	hdr := w.Header()
	hdr.Set("Content-Type", "audio/mpeg")
	hdr.Set("Cache-Control", "no-cache, no-store")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	var inj *icy.Injector
	refresh := func() {}
	if opts.ICY {
		inj = icy.NewInjector(opts.MetaInt)
		icy.SetHeaders(hdr, opts.Name, opts.Genre, opts.Bitrate, inj.MetaInt())
		if opts.Metadata != nil {
			refresh = func() {
				np := opts.Metadata(ctx)
				inj.SetMetadata(np.Title, np.URL)
			}
		}
		refresh()
	}
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	l := h.Subscribe()
	defer h.Unsubscribe(l)
	h.metrics.ListenerConnected(opts.Endpoint)
	defer h.metrics.ListenerDisconnected(opts.Endpoint)
	slog.Info("relay: listener connected", "endpoint", opts.Endpoint, "remote", r.RemoteAddr, "icy", opts.ICY)

	tick := time.NewTicker(opts.MetadataInterval)
	defer tick.Stop()
	lastAudio := time.Now()
	var sent int64

	defer func() {
		slog.Info("relay: listener disconnected", "endpoint", opts.Endpoint, "remote", r.RemoteAddr, "bytes", sent)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-l.C():
			if !ok {
				return
			}
			out := chunk
			if inj != nil {
				out = inj.Process(chunk)
			}
			n, err := w.Write(out)
			sent += int64(n)
			h.metrics.RecordStreamBytes(opts.Endpoint, n)
			if err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			lastAudio = time.Now()
		case <-tick.C:
			if src, _ := h.Active(); src == nil && time.Since(lastAudio) > opts.NoSourceGrace {
				slog.Info("relay: source gone, closing listener", "endpoint", opts.Endpoint)
				return
			}
			refresh()
		}
	}
}
