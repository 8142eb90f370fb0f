package handlers

import (
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	whatsnep "github.com/whatsnep/whatsnep-go"
	"github.com/whatsnep/whatsnep-go/internal/hub"
)

// WS handles one realtime connection: it validates the token, completes the
// connected handshake, then pumps commands in and events out until the
// socket drops.
func (a *API) WS(conn *websocket.Conn) {
	token := conn.Query("token")
	user, found := a.Store.userForToken(token)
	if !found {
		conn.Close()
		return
	}

	client := &hub.Client{
		ID:     uuid.NewString(),
		UserID: user.ID,
		Send:   make(chan []byte, 64),
	}
	a.Hub.RegisterChan <- client

	payload, _ := json.Marshal(whatsnep.ConnectedPayload{UserID: user.ID})
	greeting, _ := json.Marshal(whatsnep.Envelope{Type: "connected", Payload: payload})
	if err := conn.WriteMessage(websocket.TextMessage, greeting); err != nil {
		a.Hub.UnregisterChan <- client
		return
	}

	go writePump(conn, client)
	a.readPump(conn, client)
}

func writePump(conn *websocket.Conn, client *hub.Client) {
	for data := range client.Send {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (a *API) readPump(conn *websocket.Conn, client *hub.Client) {
	defer func() {
		a.Hub.UnregisterChan <- client
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd whatsnep.Command
		if json.Unmarshal(data, &cmd) != nil {
			continue
		}
		a.handleCommand(conn, client, cmd)
	}
}

type channelPayload struct {
	Channel string `json:"channel"`
}

type broadcastPayload struct {
	Channel string                `json:"channel"`
	Signal  whatsnep.TypingSignal `json:"signal"`
}

type pingPayload struct {
	RequestID string `json:"requestId"`
}

func (a *API) handleCommand(conn *websocket.Conn, client *hub.Client, cmd whatsnep.Command) {
	raw, err := json.Marshal(cmd.Payload)
	if err != nil {
		return
	}

	switch cmd.Type {
	case "join":
		var p channelPayload
		if json.Unmarshal(raw, &p) == nil && p.Channel != "" {
			a.Hub.Join(client.ID, p.Channel)
		}

	case "leave":
		var p channelPayload
		if json.Unmarshal(raw, &p) == nil && p.Channel != "" {
			a.Hub.Leave(client.ID, p.Channel)
		}

	case "broadcast":
		var p broadcastPayload
		if json.Unmarshal(raw, &p) == nil && p.Channel != "" {
			a.Hub.Broadcast(client.ID, p.Channel, p.Signal)
		}

	case "ping":
		var p pingPayload
		if json.Unmarshal(raw, &p) != nil {
			return
		}
		pong, _ := json.Marshal(whatsnep.PongPayload{RequestID: p.RequestID})
		env, _ := json.Marshal(whatsnep.Envelope{Type: "pong", Payload: pong})
		select {
		case client.Send <- env:
		default:
		}
	}
}
