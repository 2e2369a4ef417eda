package withdrawald

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"creditchain/core/types"
	"creditchain/observability"
)

const (
	wsWriteTimeout   = 10 * time.Second
	streamBufferSize = 64
)

// Hub fans lifecycle events out to websocket subscribers. Slow subscribers
// lose events rather than stalling block processing.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
}

type subscriber struct {
	ch    chan []byte
	kinds map[string]struct{}
}

func (s *subscriber) wants(eventType string) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[eventType]
	return ok
}

// NewHub constructs an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[*subscriber]struct{}), logger: logger.With("component", "stream")}
}

// Name implements EventSink.
func (h *Hub) Name() string { return "websocket" }

// Publish implements EventSink.
func (h *Hub) Publish(_ context.Context, evt *types.Event) error {
	if evt == nil {
		return nil
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.wants(evt.Type) {
			continue
		}
		select {
		case sub.ch <- data:
			observability.Events().RecordPublished(h.Name(), evt.Type)
		default:
			observability.Events().RecordDropped(h.Name())
		}
	}
	return nil
}

// Subscribe registers a subscriber for the given event types (all when
// empty). The returned cancel function must be called to unsubscribe.
func (h *Hub) Subscribe(kinds []string) (<-chan []byte, func()) {
	sub := &subscriber{ch: make(chan []byte, streamBufferSize), kinds: make(map[string]struct{})}
	for _, kind := range kinds {
		if kind = strings.TrimSpace(kind); kind != "" {
			sub.kinds[kind] = struct{}{}
		}
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams events. The optional types query
// parameter takes a comma-separated list of event types and may repeat.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kinds := parseKinds(r.URL.Query()["types"])
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	updates, cancel := h.Subscribe(kinds)
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			h.logger.Debug("event stream ended", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func parseKinds(values []string) []string {
	var kinds []string
	for _, value := range values {
		for _, kind := range strings.Split(value, ",") {
			if kind = strings.TrimSpace(kind); kind != "" {
				kinds = append(kinds, kind)
			}
		}
	}
	return kinds
}

func streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-updates:
			if !ok {
				return nil
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
