package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/canopy-network/ledgerx/pkg/events"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ServerMessage is the envelope pushed to WebSocket clients.
type ServerMessage struct {
	Type    string `json:"type"` // "trade", "ping", "error"
	Payload any    `json:"payload"`
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// HandleTradesWS upgrades to WebSocket and streams executed trades from the
// Redis trade channel. Requires the event publisher; without Redis there is
// nothing to stream.
func (c *Controller) HandleTradesWS(w http.ResponseWriter, r *http.Request) {
	if c.App.Events == nil {
		http.Error(w, "Real-time events not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	send := make(chan ServerMessage, 256)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverWS(cancel, r.RemoteAddr, "trade subscriber")
		c.forwardTrades(ctx, send)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverWS(cancel, r.RemoteAddr, "writer")
		c.writeMessages(ctx, conn, send)
	}()

	// Read loop exists for close detection; clients send nothing we act on.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	wg.Wait()
	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

func (c *Controller) recoverWS(cancel context.CancelFunc, remote, role string) {
	if rec := recover(); rec != nil {
		c.App.Logger.Error("Panic in WebSocket goroutine",
			zap.Any("panic", rec),
			zap.String("role", role),
			zap.String("stack", string(debug.Stack())),
			zap.String("remote_addr", remote))
		cancel()
	}
}

// forwardTrades pumps the Redis trade channel into the client's send queue.
// A slow client drops messages rather than blocking the subscriber.
func (c *Controller) forwardTrades(ctx context.Context, send chan<- ServerMessage) {
	sub := c.App.Events.Subscribe(ctx, events.ChannelTrades)
	if sub == nil {
		return
	}
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload any
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				payload = msg.Payload
			}
			select {
			case send <- ServerMessage{Type: "trade", Payload: payload}:
			default:
			}
		}
	}
}

func (c *Controller) writeMessages(ctx context.Context, conn *websocket.Conn, send <-chan ServerMessage) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			ping := ServerMessage{Type: "ping", Payload: map[string]int64{"timestamp": time.Now().Unix()}}
			if err := conn.WriteJSON(ping); err != nil {
				return
			}
		}
	}
}
