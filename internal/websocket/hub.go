package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/internal/auth"
	"github.com/satriahrh/kanal/server/internal/session"
)

var (
	errConnectionClosed = errors.New("connection closed")
	errSendBufferFull   = errors.New("send buffer full")
)

// Options tunes the transport.
type Options struct {
	AllowedOrigins []string
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	// MaxMessageSize is the read limit per frame.
	MaxMessageSize int64
	// WriteWait is the time allowed to write a message to the peer.
	WriteWait time.Duration
	// PongWait is the time allowed to read the next pong message from the peer.
	PongWait time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 8 << 20
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	return o
}

// Send pings to peer with this period. Must be less than PongWait.
func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// ErrorResponse is returned as JSON when a websocket request is refused before upgrade
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Hub upgrades websocket requests and binds each socket to a session slot.
type Hub struct {
	registry  *session.Registry
	issuer    *auth.Issuer
	validator *MessageValidator
	upgrader  websocket.Upgrader
	opts      Options

	// base context for connection pumps
	ctx context.Context

	logger *zap.Logger
}

// NewHub creates a hub. A nil issuer disables token checks.
func NewHub(ctx context.Context, registry *session.Registry, issuer *auth.Issuer, opts Options, logger *zap.Logger) *Hub {
	opts = opts.withDefaults()
	h := &Hub{
		registry:  registry,
		issuer:    issuer,
		validator: NewMessageValidator(),
		opts:      opts,
		ctx:       ctx,
		logger:    logger.With(zap.String("component", "websocket")),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if slices.Contains(h.opts.AllowedOrigins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.Contains(h.opts.AllowedOrigins, origin) || slices.Contains(h.opts.AllowedOrigins, u.Host)
}

// HandleWebSocket handles GET /ws?session_id=&channel=&token=.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	ch, err := entities.ParseChannel(c.QueryParam("channel"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_channel",
			Message: "channel must be an integer between -2 and 4",
		})
	}

	sessionID := c.QueryParam("session_id")
	if h.issuer != nil && sessionID != "" {
		token := c.QueryParam("token")
		if token == "" {
			token = auth.BearerToken(c.Request().Header.Get("Authorization"))
		}
		if err := h.issuer.Authorize(sessionID, token); err != nil {
			h.logger.Warn("WebSocket connection rejected",
				zap.String("sessionID", sessionID),
				zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: err.Error(),
			})
		}
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return nil
	}

	conn := newConnection(h, ws, ch)
	sess, err := h.registry.Connect(c.Request().Context(), sessionID, ch, conn)
	if err != nil {
		h.logger.Error("Failed to attach connection",
			zap.String("sessionID", sessionID),
			zap.Stringer("channel", ch),
			zap.Error(err))
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
			time.Now().Add(h.opts.WriteWait))
		ws.Close()
		return nil
	}

	conn.sess = sess
	conn.sessionID = sess.ID()
	conn.logger = conn.logger.With(zap.String("sessionID", sess.ID()))

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go conn.writePump()
	go conn.readPump(h.ctx)

	return nil
}
