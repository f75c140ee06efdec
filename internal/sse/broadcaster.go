// Package sse streams GEX metrics to Server-Sent Events subscribers.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/gex"
)

// LatestReader supplies the initial snapshot.
type LatestReader interface {
	LatestMetrics(ctx context.Context, symbol string) (*gex.GEXMetrics, error)
}

// Broadcaster fans published metrics out to connected SSE clients.
type Broadcaster struct {
	latest   LatestReader
	interval time.Duration
	logger   *zap.Logger
	done     chan struct{}

	mu       sync.RWMutex
	sequence uint64
	clients  map[*client]bool
}

type client struct {
	symbols map[string]bool
	dataCh  chan []byte
}

// New creates a Broadcaster. latest may be nil to skip snapshots.
func New(latest LatestReader, interval time.Duration, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Broadcaster{
		latest:   latest,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
		clients:  make(map[*client]bool),
	}
}

// Run sends heartbeats until ctx is cancelled, then ends every open
// stream.
func (b *Broadcaster) Run(ctx context.Context) {
	defer close(b.done)
	b.logger.Info("sse broadcaster starting", zap.Duration("interval", b.interval))

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("sse broadcaster stopping")
			return
		case <-ticker.C:
			seq := b.next()
			event, err := formatEvent("heartbeat", seq, Heartbeat{
				Timestamp: time.Now().UnixMilli(),
				Sequence:  seq,
				Clients:   b.Clients(),
			})
			if err != nil {
				continue
			}
			b.fanOut(event, func(*client) bool { return true })
		}
	}
}

// ServeHTTP subscribes the caller to ?symbol=SPY,QQQ.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	symbols := parseSymbols(r.URL.Query().Get("symbol"))
	if len(symbols) == 0 {
		http.Error(w, "missing required 'symbol' query parameter", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := &client{
		symbols: make(map[string]bool, len(symbols)),
		dataCh:  make(chan []byte, 16),
	}
	for _, s := range symbols {
		c.symbols[s] = true
	}

	b.addClient(c)
	defer b.removeClient(c)

	b.logger.Info("sse client connected",
		zap.Strings("symbols", symbols),
		zap.String("remoteAddr", r.RemoteAddr),
	)

	seq := b.next()
	snapshot, err := formatEvent("snapshot", seq, b.buildSnapshot(r.Context(), symbols, seq))
	if err != nil {
		b.logger.Error("failed to build snapshot", zap.Error(err))
		return
	}
	if _, err := w.Write(snapshot); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			b.logger.Debug("sse client disconnected", zap.Strings("symbols", symbols))
			return
		case <-b.done:
			return
		case event := <-c.dataCh:
			if _, err := w.Write(event); err != nil {
				b.logger.Debug("failed to write to client", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// Publish sends m to every client subscribed to its symbol. Slow clients
// miss the event.
func (b *Broadcaster) Publish(m *gex.GEXMetrics) {
	if m == nil {
		return
	}
	seq := b.next()
	event, err := formatEvent("metrics", seq, m)
	if err != nil {
		b.logger.Error("failed to encode metrics", zap.String("symbol", m.Symbol), zap.Error(err))
		return
	}
	b.fanOut(event, func(c *client) bool { return c.symbols[m.Symbol] })
}

// Clients returns the number of connected subscribers.
func (b *Broadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) fanOut(event []byte, match func(*client) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for c := range b.clients {
		if !match(c) {
			continue
		}
		select {
		case c.dataCh <- event:
		default:
			b.logger.Debug("client channel full, dropping event")
		}
	}
}

func (b *Broadcaster) buildSnapshot(ctx context.Context, symbols []string, seq uint64) Snapshot {
	snap := Snapshot{Timestamp: time.Now().UnixMilli(), Sequence: seq, Metrics: []gex.GEXMetrics{}}
	if b.latest == nil {
		return snap
	}
	for _, s := range symbols {
		m, err := b.latest.LatestMetrics(ctx, s)
		if err != nil {
			if !errors.Is(err, gex.ErrNoData) {
				b.logger.Warn("snapshot lookup failed", zap.String("symbol", s), zap.Error(err))
			}
			continue
		}
		snap.Metrics = append(snap.Metrics, *m)
	}
	return snap
}

func (b *Broadcaster) next() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sequence++
	return b.sequence
}

func (b *Broadcaster) addClient(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = true
}

func (b *Broadcaster) removeClient(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
}

func formatEvent(eventType string, seq uint64, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", eventType, seq, payload)), nil
}

func parseSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
