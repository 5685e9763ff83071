// Package notify fans ingestion payloads out to live subscribers.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/memvault/internal/integrator"
)

const (
	DefaultBuffer = 16

	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

type subscriber struct {
	ch chan integrator.Payload
}

// Hub delivers payloads to the subscribers of their owner. Delivery never
// blocks: a subscriber whose buffer is full misses the payload.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscriber]struct{}
	buffer  int
	logger  *slog.Logger
	dropped func(ownerID string)
}

var _ integrator.Notifier = (*Hub)(nil)

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// OnDrop registers a hook called whenever a payload is dropped.
func (h *Hub) OnDrop(fn func(ownerID string)) {
	h.mu.Lock()
	h.dropped = fn
	h.mu.Unlock()
}

// Subscribe returns the owner's payload stream and its cancel func. The
// channel is closed on cancel.
func (h *Hub) Subscribe(ownerID string) (<-chan integrator.Payload, func()) {
	sub := &subscriber{ch: make(chan integrator.Payload, h.buffer)}
	h.mu.Lock()
	set := h.subs[ownerID]
	if set == nil {
		set = make(map[*subscriber]struct{})
		h.subs[ownerID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[ownerID], sub)
			if len(h.subs[ownerID]) == 0 {
				delete(h.subs, ownerID)
			}
			close(sub.ch)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Subscribers(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ownerID])
}

func (h *Hub) Notify(_ context.Context, p integrator.Payload) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[p.OwnerID] {
		select {
		case sub.ch <- p:
		default:
			h.logger.Warn("notification dropped, subscriber too slow", "owner_id", p.OwnerID, "record_id", p.RecordID)
			if h.dropped != nil {
				h.dropped(p.OwnerID)
			}
		}
	}
	return nil
}

// Stream writes the owner's payloads to conn as JSON until ctx ends, the
// peer goes away or a write fails.
func (h *Hub) Stream(ctx context.Context, conn *websocket.Conn, ownerID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	payloads, unsubscribe := h.Subscribe(ownerID)
	defer unsubscribe()

	// The read loop only services control frames and detects close.
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return nil
		case p, ok := <-payloads:
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(p); err != nil {
				return err
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		}
	}
}
