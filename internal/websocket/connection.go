package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/internal/session"
)

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Connection is one websocket bound to a (session, channel) slot. It
// implements session.Conn.
type Connection struct {
	hub *Hub

	conn *websocket.Conn

	// Buffered channel of outbound messages. Never closed; done signals shutdown.
	send chan WriteData
	done chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	sessionID string
	channel   entities.ChannelNo
	sess      *session.Session

	dropLog rate.Sometimes
	logger  *zap.Logger
}

func newConnection(hub *Hub, conn *websocket.Conn, ch entities.ChannelNo) *Connection {
	return &Connection{
		hub:     hub,
		conn:    conn,
		send:    make(chan WriteData, hub.opts.SendBuffer),
		done:    make(chan struct{}),
		channel: ch,
		dropLog: rate.Sometimes{First: 1, Interval: 15 * time.Second},
		logger:  hub.logger.With(zap.Stringer("channel", ch)),
	}
}

// Send queues msg for the write pump. A full buffer drops the message rather
// than blocking the producer.
func (c *Connection) Send(msg domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

func (c *Connection) enqueue(data WriteData) error {
	if c.closed.Load() {
		return errConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.dropLog.Do(func() {
			c.logger.Warn("Send buffer full, dropping message",
				zap.String("sessionID", c.sessionID),
				zap.Int("buffer", cap(c.send)))
		})
		return errSendBufferFull
	}
}

// Close asks the write pump to send a close frame and shut the socket.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

// Connected reports whether the connection still accepts messages.
func (c *Connection) Connected() bool {
	return !c.closed.Load()
}

// readPump pumps messages from the websocket connection to the session.
func (c *Connection) readPump(ctx context.Context) {
	defer func() {
		c.hub.registry.Disconnect(context.WithoutCancel(ctx), c.sessionID, c.channel, c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket error", zap.String("sessionID", c.sessionID), zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(ctx, message)
		case websocket.BinaryMessage:
			c.processBinaryAudioChunk(ctx, message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the session to the websocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Debug("Failed to write message", zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// processMessage validates one JSON envelope and routes it into the session.
func (c *Connection) processMessage(ctx context.Context, message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message, c.channel)
	if err != nil {
		c.logger.Debug("Rejected message", zap.String("sessionID", c.sessionID), zap.Error(err))
		c.Send(domain.NewErrorMessage(c.channel, "invalid_message", "Message rejected", err.Error()))
		return
	}
	msg.SessionID = c.sessionID
	c.sess.HandleInbound(ctx, c.channel, msg)
}

// processBinaryAudioChunk handles raw PCM16 frames on the voice channel.
func (c *Connection) processBinaryAudioChunk(ctx context.Context, data []byte) {
	if c.channel != entities.ChannelVoice {
		c.Send(domain.NewErrorMessage(c.channel, "invalid_channel", "Binary frames are only accepted on the voice channel", ""))
		return
	}
	c.sess.HandleAudio(ctx, data)
}
