package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/veriflow/veriflow-backend/internal/services"
)

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS for WebSocket is handled at the HTTP layer already.
		return true
	},
}

// gatewayMessage is what a connected chat client sends over the socket.
type gatewayMessage struct {
	Type      string `json:"type"` // "message", "ping"
	Text      string `json:"text,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// gatewayEvent is what the server pushes to a connected chat client.
type gatewayEvent struct {
	Type      string    `json:"type"` // "reply"
	Address   string    `json:"address"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes; gorilla allows one concurrent writer
}

func (c *wsClient) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Gateway bridges WebSocket chat clients to the verification flow. One
// connection per address; replies for an address with no live connection fall
// back to the secondary sender (process log in development).
//
// Gateway implements services.Sender, so the orchestrator is built with the
// gateway as its outbound channel and attached afterwards via SetOrchestrator.
type Gateway struct {
	mu           sync.Mutex
	clients      map[string]*wsClient
	fallback     services.Sender
	orchestrator *services.Orchestrator
}

func NewGateway(fallback services.Sender) *Gateway {
	return &Gateway{
		clients:  make(map[string]*wsClient),
		fallback: fallback,
	}
}

// SetOrchestrator wires the message handler. Must be called before serving.
func (g *Gateway) SetOrchestrator(o *services.Orchestrator) {
	g.orchestrator = o
}

// Send delivers an outbound reply to the connection registered for the
// address, falling back when none is connected.
func (g *Gateway) Send(ctx context.Context, address, content string) error {
	g.mu.Lock()
	client, ok := g.clients[address]
	g.mu.Unlock()

	if !ok {
		return g.fallback.Send(ctx, address, content)
	}

	err := client.writeJSON(gatewayEvent{
		Type:      "reply",
		Address:   address,
		Text:      content,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		// Connection is dying; fall back so the reply isn't silently lost.
		g.unregister(address, client)
		return g.fallback.Send(ctx, address, content)
	}
	return nil
}

func (g *Gateway) register(address string, client *wsClient) (previous *wsClient) {
	g.mu.Lock()
	defer g.mu.Unlock()
	previous = g.clients[address]
	g.clients[address] = client
	return previous
}

// unregister removes the client only if it is still the one registered for the
// address, so a reconnect never tears down its replacement.
func (g *Gateway) unregister(address string, client *wsClient) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clients[address] == client {
		delete(g.clients, address)
	}
}

// ConnectedCount returns the number of live chat connections (statistics).
func (g *Gateway) ConnectedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// ServeWS handles GET /ws/chat?address=<address>. Each connection is bound to
// one chat address; messages read from the socket feed the verification flow
// and replies are pushed back over the same connection.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}

	conn, err := chatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn}
	if prev := g.register(address, client); prev != nil {
		_ = prev.conn.Close()
	}
	defer g.unregister(address, client)

	conn.SetReadLimit(64 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))

		var msg gatewayMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "message":
			if strings.TrimSpace(msg.Text) == "" {
				continue
			}
			if msg.MessageID == "" {
				msg.MessageID = uuid.NewString()
			}
			// HandleMessage serializes per address internally, so a slow
			// conversation never stalls the read loop for other sockets.
			_ = g.orchestrator.HandleMessage(r.Context(), services.InboundMessage{
				Address:   address,
				Text:      msg.Text,
				MessageID: msg.MessageID,
				ChannelID: "ws",
			})
		case "ping":
			_ = client.writeJSON(map[string]string{"type": "pong"})
		default:
			// Ignore unknown types
		}
	}
}
