package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/emberlive/backend/internal/activity"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SessionLifecycle is the slice of the session manager the websocket layer
// drives: membership plus the batched activity flushes.
type SessionLifecycle interface {
	Join(ctx context.Context, sessionID, participantID uuid.UUID) error
	Leave(ctx context.Context, sessionID, participantID uuid.UUID) error
	ApplyHypeFlush(ctx context.Context, sessionID, participantID uuid.UUID, taps int)
	ApplyWatchFlush(ctx context.Context, sessionID, participantID uuid.UUID, interactions int, watchSeconds int64)
}

// Client represents a single viewer connection in a session. Heartbeats and
// hype taps accumulate in per-connection buffers and land on the store only
// when a buffer's interval or ceiling is hit, or on disconnect.
type Client struct {
	ID        string
	SessionID uuid.UUID
	UserID    uuid.UUID
	hub       *Hub
	lifecycle SessionLifecycle
	watch     *activity.Buffer
	hype      *activity.Buffer
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

// BufferConfig tunes the per-connection activity buffers. Zero fields fall
// back to the activity package presets.
type BufferConfig struct {
	WatchFlushInterval time.Duration
	HypeFlushInterval  time.Duration
	HypeFlushCeiling   int
}

func (c BufferConfig) withDefaults() BufferConfig {
	if c.WatchFlushInterval <= 0 {
		c.WatchFlushInterval = 5 * time.Minute
	}
	if c.HypeFlushInterval <= 0 {
		c.HypeFlushInterval = 30 * time.Second
	}
	if c.HypeFlushCeiling <= 0 {
		c.HypeFlushCeiling = 20
	}
	return c
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, lifecycle SessionLifecycle, buffers BufferConfig, logger *zap.Logger, jwtValidate func(token string) (userID string, err error)) gin.HandlerFunc {
	buffers = buffers.withDefaults()
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and token required"})
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		userIDStr, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if err := lifecycle.Join(c.Request.Context(), sessionID, userID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not live"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lifecycle.Leave(ctx, sessionID, userID)
			return
		}

		now := time.Now()
		client := &Client{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			UserID:    userID,
			hub:       hub,
			lifecycle: lifecycle,
			watch:     activity.NewBuffer(buffers.WatchFlushInterval, 0, now),
			hype:      activity.NewBuffer(buffers.HypeFlushInterval, buffers.HypeFlushCeiling, now),
			conn:      conn,
			send:      make(chan WSMessage, 256),
			logger:    logger,
		}
		hub.Register(client)
		hub.Broadcast(sessionID, "viewer_joined", map[string]interface{}{
			"user_id": userID.String(),
			"count":   hub.AudienceCount(sessionID),
		})
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case "heartbeat":
			var payload struct {
				WatchSeconds int64 `json:"watch_seconds"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.WatchSeconds <= 0 {
				continue
			}
			c.watch.AddWatchTime(payload.WatchSeconds)
			c.maybeFlushWatch()
		case "hype":
			c.hype.RecordInteraction()
			c.maybeFlushHype()
		case "chat_message":
			c.hub.PublishOnly(c.SessionID, msg.Event, json.RawMessage(msg.Data))
		default:
			// ignore
		}
	}
}

func (c *Client) maybeFlushWatch() {
	now := time.Now()
	if !c.watch.ShouldFlush(now) {
		return
	}
	interactions, watchSeconds := c.watch.Flush(now)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.lifecycle.ApplyWatchFlush(ctx, c.SessionID, c.UserID, interactions, watchSeconds)
}

func (c *Client) maybeFlushHype() {
	now := time.Now()
	if !c.hype.ShouldFlush(now) {
		return
	}
	taps, _ := c.hype.Flush(now)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.lifecycle.ApplyHypeFlush(ctx, c.SessionID, c.UserID, taps)
}

// teardown drains both buffers so nothing recorded is lost, then leaves the
// session and the hub.
func (c *Client) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	if c.watch.Pending() {
		interactions, watchSeconds := c.watch.Flush(now)
		c.lifecycle.ApplyWatchFlush(ctx, c.SessionID, c.UserID, interactions, watchSeconds)
	}
	if c.hype.Pending() {
		taps, _ := c.hype.Flush(now)
		c.lifecycle.ApplyHypeFlush(ctx, c.SessionID, c.UserID, taps)
	}

	if err := c.lifecycle.Leave(ctx, c.SessionID, c.UserID); err != nil {
		c.logger.Debug("leave on disconnect failed", zap.Error(err), zap.String("session_id", c.SessionID.String()))
	}
	c.hub.Unregister(c)
	c.hub.Broadcast(c.SessionID, "viewer_left", map[string]interface{}{
		"user_id": c.UserID.String(),
		"count":   c.hub.AudienceCount(c.SessionID),
	})
	_ = c.conn.Close()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
