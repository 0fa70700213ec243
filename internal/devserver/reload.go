package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/appbundle/internal/telemetry"
)

const heartbeatInterval = 30 * time.Second

// Event is broadcast to every connected page after a successful rebuild.
type Event struct {
	BuildID string   `json:"build_id"`
	Files   []string `json:"files"`
	// CSSOnly is set when only stylesheets changed, letting the client swap
	// stylesheets without reloading the page.
	CSSOnly bool `json:"css_only"`
}

// Reloader fans reload events out to server-sent-events clients.
type Reloader struct {
	mu      sync.Mutex
	clients map[chan Event]struct{}
	closed  bool
	logger  zerolog.Logger
}

func NewReloader(logger zerolog.Logger) *Reloader {
	return &Reloader{
		clients: make(map[chan Event]struct{}),
		logger:  logger,
	}
}

// Subscribe registers a client. The returned func must be called to release it.
func (r *Reloader) Subscribe() (<-chan Event, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, nil, fmt.Errorf("reloader is closed")
	}

	ch := make(chan Event, 8)
	r.clients[ch] = struct{}{}
	telemetry.GetMetrics().ReloadClients.Add(context.Background(), 1)

	var once sync.Once
	return ch, func() {
		once.Do(func() { r.unsubscribe(ch) })
	}, nil
}

func (r *Reloader) unsubscribe(ch chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[ch]; !ok {
		return
	}
	delete(r.clients, ch)
	close(ch)
	telemetry.GetMetrics().ReloadClients.Add(context.Background(), -1)
}

// Publish sends ev to every client without blocking and returns how many
// clients received it.
func (r *Reloader) Publish(ctx context.Context, ev Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	sent := 0
	for ch := range r.clients {
		select {
		case ch <- ev:
			sent++
		default:
			r.logger.Warn().Str("build_id", ev.BuildID).Msg("Reload client is not keeping up, dropping event")
		}
	}

	telemetry.GetMetrics().ReloadsSentTotal.Add(ctx, int64(sent))
	r.logger.Debug().Str("build_id", ev.BuildID).Int("clients", sent).Msg("Reload published")
	return sent
}

// Clients returns the number of connected clients.
func (r *Reloader) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Close disconnects every client and rejects new ones.
func (r *Reloader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for ch := range r.clients {
		delete(r.clients, ch)
		close(ch)
		telemetry.GetMetrics().ReloadClients.Add(context.Background(), -1)
	}
}

// ServeHTTP streams reload events as server-sent events.
func (r *Reloader) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, release, err := r.Subscribe()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-req.Context().Done():
			return

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				r.logger.Debug().Err(err).Msg("Failed to write reload event")
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent writes ev in the "event: reload\ndata: {json}\n\n" format.
func writeEvent(w http.ResponseWriter, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal reload event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: reload\ndata: %s\n\n", data)
	return err
}
