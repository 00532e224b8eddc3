package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/portops/berthplan/internal/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsControlMessage is a client->server control frame (spec.md §6's "Client
// messages: subscribe {room}, unsubscribe {room}").
type wsControlMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// wsServerMessage is the server->client envelope spec.md §6 names:
// "{type, payload, ts}".
type wsServerMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Ts      time.Time       `json:"ts"`
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &WSClient{
		ID:   uuid.New(),
		Conn: conn,
		subs: make(map[string]*eventbus.Subscription),
		Send: make(chan []byte, 256),
		Done: make(chan struct{}),
	}

	g.wsMu.Lock()
	g.wsClients[client.ID] = client
	g.wsMu.Unlock()

	go g.wsReadPump(client)
	go g.wsWritePump(client)
}

func (g *Gateway) wsReadPump(client *WSClient) {
	defer func() {
		g.wsMu.Lock()
		delete(g.wsClients, client.ID)
		g.wsMu.Unlock()
		client.mu.Lock()
		for room, sub := range client.subs {
			g.bus.Unsubscribe(room, sub.ID)
		}
		client.mu.Unlock()
		close(client.Done)
		client.Conn.Close()
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			return
		}
		g.handleWSControl(client, message)
	}
}

func (g *Gateway) wsWritePump(client *WSClient) {
	for {
		select {
		case message := <-client.Send:
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-client.Done:
			return
		}
	}
}

func (g *Gateway) handleWSControl(client *WSClient, raw []byte) {
	var msg wsControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Room == "" {
		return
	}

	switch msg.Type {
	case "subscribe":
		g.subscribeClient(client, msg.Room)
	case "unsubscribe":
		g.unsubscribeClient(client, msg.Room)
	}
}

func (g *Gateway) subscribeClient(client *WSClient, room string) {
	client.mu.Lock()
	if _, already := client.subs[room]; already {
		client.mu.Unlock()
		return
	}
	sub := g.bus.Subscribe(room)
	client.subs[room] = sub
	client.mu.Unlock()

	go g.pumpSubscription(client, sub)
}

func (g *Gateway) unsubscribeClient(client *WSClient, room string) {
	client.mu.Lock()
	sub, ok := client.subs[room]
	if ok {
		delete(client.subs, room)
	}
	client.mu.Unlock()
	if ok {
		g.bus.Unsubscribe(room, sub.ID)
	}
}

// pumpSubscription forwards events from one room subscription onto the
// client's shared Send channel until the subscription or the connection
// closes, translating the internal BaseEvent envelope into the
// {type,payload,ts} shape spec.md §6 names for the wire.
func (g *Gateway) pumpSubscription(client *WSClient, sub *eventbus.Subscription) {
	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				return
			}
			out, err := json.Marshal(wsServerMessage{Type: evt.Type, Payload: evt.Data, Ts: evt.Timestamp})
			if err != nil {
				continue
			}
			select {
			case client.Send <- out:
			case <-client.Done:
				return
			}
		case <-sub.Done:
			return
		case <-client.Done:
			return
		}
	}
}
