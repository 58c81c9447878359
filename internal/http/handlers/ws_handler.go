package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/zkdrop/backend/internal/auth"
	"github.com/zkdrop/backend/internal/config"
	"github.com/zkdrop/backend/internal/events"
	"go.uber.org/zap"
)

// WSHub fans purchase events out to connected wallets. A client only receives
// events for purchases it participates in.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[string][]*websocket.Conn
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[string][]*websocket.Conn),
	}
}

func (h *WSHub) Start(ctx context.Context) {
	_ = h.subscriber.Subscribe(ctx, events.PurchaseStream, func(event events.Event) {
		h.dispatch(event)
	})
}

// dispatch routes the event to the buyer's and seller's connections.
func (h *WSHub) dispatch(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	recipients := make(map[string]struct{}, 2)
	if buyer, ok := event.Payload["buyer"].(string); ok && buyer != "" {
		recipients[buyer] = struct{}{}
	}
	if seller, ok := event.Payload["seller"].(string); ok && seller != "" {
		recipients[seller] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for addr := range recipients {
		for _, conn := range h.connections[addr] {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	addr := claims.Address

	h.mu.Lock()
	h.connections[addr] = append(h.connections[addr], conn)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.connections[addr]
		for i, c := range conns {
			if c == conn {
				h.connections[addr] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[addr]) == 0 {
			delete(h.connections, addr)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
