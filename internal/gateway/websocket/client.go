package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/caephub/caephub/internal/common/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer; the inbound protocol is tiny
	maxMessageSize = 4 * 1024
)

// Command is the inbound frame: subscribe/unsubscribe to a task's events.
type Command struct {
	Action string `json:"action"`
	TaskID int64  `json:"task_id"`
}

// Ack is the outbound reply to a command.
type Ack struct {
	Action  string `json:"action"`
	TaskID  int64  `json:"task_id,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Client represents a single WebSocket connection.
type Client struct {
	ID            string
	conn          *websocket.Conn
	hub           *Hub
	send          chan []byte
	subscriptions map[int64]bool
	mu            sync.RWMutex
	logger        *logger.Logger
}

// NewClient creates a new WebSocket client.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:            id,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, 256),
		subscriptions: make(map[int64]bool),
		logger:        log.WithFields(zap.String("client_id", id)),
	}
}

// ReadPump pumps commands from the WebSocket connection to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.sendAck(Ack{Success: false, Error: "invalid command frame"})
			continue
		}
		c.handleCommand(cmd)
	}
}

// handleCommand processes one inbound command.
func (c *Client) handleCommand(cmd Command) {
	switch cmd.Action {
	case "subscribe":
		if cmd.TaskID <= 0 {
			c.sendAck(Ack{Action: cmd.Action, Success: false, Error: "task_id is required"})
			return
		}
		c.hub.SubscribeToTask(c, cmd.TaskID)
		c.sendAck(Ack{Action: cmd.Action, TaskID: cmd.TaskID, Success: true})

	case "unsubscribe":
		if cmd.TaskID <= 0 {
			c.sendAck(Ack{Action: cmd.Action, Success: false, Error: "task_id is required"})
			return
		}
		c.hub.UnsubscribeFromTask(c, cmd.TaskID)
		c.sendAck(Ack{Action: cmd.Action, TaskID: cmd.TaskID, Success: true})

	default:
		c.sendAck(Ack{Action: cmd.Action, Success: false, Error: "unknown action"})
	}
}

// sendAck queues an ack frame for the client.
func (c *Client) sendAck(ack Ack) {
	data, err := json.Marshal(ack)
	if err != nil {
		c.logger.Error("Failed to marshal ack", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Client send buffer full")
	}
}

// WritePump pumps queued frames from the hub to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Batch additional queued frames
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
