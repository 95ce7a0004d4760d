package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/internal/auth"
	"github.com/satriahrh/kanal/server/internal/session"
)

func echoChat(ctx context.Context, s *session.Session, msg domain.Message) error {
	text, err := msg.Text()
	if err != nil {
		return err
	}
	s.SendText(entities.ChannelChat, domain.KindOutputText, "echo: "+text)
	return nil
}

func setupTestServer(t *testing.T, issuer *auth.Issuer) (string, *session.Registry) {
	t.Helper()
	logger := zap.NewNop()

	registry := session.NewRegistry(context.Background(), session.Env{
		Handlers: session.Handlers{Chat: session.HandlerFunc(echoChat)},
		Logger:   logger,
	})
	hub := NewHub(context.Background(), registry, issuer, Options{AllowedOrigins: []string{"*"}}, logger)

	e := echo.New()
	e.GET("/ws", hub.HandleWebSocket)
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		registry.Shutdown(context.Background())
		server.Close()
	})
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws", registry
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket connection failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readKind reads messages until one of the given kind arrives.
func readKind(t *testing.T, ws *websocket.Conn, kind domain.Kind) domain.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg domain.Message
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed to read %s: %v", kind, err)
		}
		if msg.Kind == kind {
			return msg
		}
	}
}

func TestWebSocket_WelcomeAndEcho(t *testing.T) {
	url, registry := setupTestServer(t, nil)

	ws := dial(t, url+"?channel=0")
	welcome := readKind(t, ws, domain.KindWelcomeInfo)

	var info domain.Info
	if err := welcome.Decode(&info); err != nil {
		t.Fatalf("Failed to decode welcome: %v", err)
	}
	if info.SessionID == "" {
		t.Fatal("Expected a generated session id")
	}
	if welcome.SessionID != info.SessionID || welcome.Channel != entities.ChannelChat {
		t.Errorf("Expected envelope for session %s channel 0, got %s channel %d", info.SessionID, welcome.SessionID, welcome.Channel)
	}

	if err := ws.WriteJSON(domain.NewTextMessage(domain.KindInputText, entities.ChannelChat, "hi")); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	reply := readKind(t, ws, domain.KindOutputText)
	if text, _ := reply.Text(); text != "echo: hi" {
		t.Errorf("Expected echo: hi, got %s", text)
	}

	control := dial(t, url+"?channel=-1&session_id="+info.SessionID)
	readKind(t, control, domain.KindWelcomeInfo)

	sess, ok := registry.Get(info.SessionID)
	if !ok {
		t.Fatal("Session should be held by the registry")
	}
	if sess.ConnectionCount() != 2 {
		t.Errorf("Expected 2 connections, got %d", sess.ConnectionCount())
	}
}

func TestWebSocket_InvalidChannel(t *testing.T) {
	url, _ := setupTestServer(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?channel=9", nil)
	if err == nil {
		t.Fatal("WebSocket connection should fail for channel 9")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Errorf("Expected 400 response, got %+v", resp)
	}
}

func TestWebSocket_RejectsInvalidMessage(t *testing.T) {
	url, _ := setupTestServer(t, nil)

	ws := dial(t, url+"?channel=0")
	readKind(t, ws, domain.KindWelcomeInfo)

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{invalid json}`)); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	errMsg := readKind(t, ws, domain.KindError)

	var content domain.ErrorContent
	if err := errMsg.Decode(&content); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	if content.Code != "invalid_message" {
		t.Errorf("Expected invalid_message, got %s", content.Code)
	}

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{0, 1, 2, 3}); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	readKind(t, ws, domain.KindError)
}

func TestWebSocket_EvictsPreviousSocket(t *testing.T) {
	url, registry := setupTestServer(t, nil)

	first := dial(t, url+"?channel=0")
	var info domain.Info
	if err := readKind(t, first, domain.KindWelcomeInfo).Decode(&info); err != nil {
		t.Fatalf("Failed to decode welcome: %v", err)
	}

	second := dial(t, url+"?channel=0&session_id="+info.SessionID)
	readKind(t, second, domain.KindWelcomeInfo)

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Errorf("Expected normal close, got %v", err)
			}
			break
		}
	}

	sess, _ := registry.Get(info.SessionID)
	deadline := time.Now().Add(time.Second)
	for sess.ConnectionCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sess.ConnectionCount() != 1 {
		t.Errorf("Expected the new socket to keep the slot, got %d connections", sess.ConnectionCount())
	}

	if err := second.WriteJSON(domain.NewTextMessage(domain.KindInputText, entities.ChannelChat, "still here")); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	reply := readKind(t, second, domain.KindOutputText)
	if text, _ := reply.Text(); text != "echo: still here" {
		t.Errorf("Expected echo: still here, got %s", text)
	}
}

func TestWebSocket_WithAuth(t *testing.T) {
	issuer := auth.NewIssuer([]byte("0123456789abcdef"), time.Hour)
	url, _ := setupTestServer(t, issuer)

	ws := dial(t, url+"?channel=0")
	var info domain.Info
	if err := readKind(t, ws, domain.KindWelcomeInfo).Decode(&info); err != nil {
		t.Fatalf("Failed to decode welcome: %v", err)
	}

	// resuming a session needs its token
	_, resp, err := websocket.DefaultDialer.Dial(url+"?channel=1&session_id="+info.SessionID, nil)
	if err == nil {
		t.Fatal("WebSocket connection should fail without token")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Errorf("Expected 401 response, got %+v", resp)
	}

	token, _, err := issuer.GenerateSessionToken(info.SessionID)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	agent := dial(t, url+"?channel=1&session_id="+info.SessionID+"&token="+token)
	welcome := readKind(t, agent, domain.KindWelcomeInfo)
	if welcome.SessionID != info.SessionID {
		t.Errorf("Expected session %s, got %s", info.SessionID, welcome.SessionID)
	}
}

func TestConnection_SendDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(context.Background(), nil, nil, Options{SendBuffer: 1}, zap.NewNop())
	conn := newConnection(hub, nil, entities.ChannelChat)

	if err := conn.Send(domain.NewTextMessage(domain.KindOutputText, 0, "one")); err != nil {
		t.Fatalf("First send should fit the buffer: %v", err)
	}
	if err := conn.Send(domain.NewTextMessage(domain.KindOutputText, 0, "two")); err != errSendBufferFull {
		t.Errorf("Expected errSendBufferFull, got %v", err)
	}

	var msg domain.Message
	if err := json.Unmarshal((<-conn.send).Payload, &msg); err != nil {
		t.Fatalf("Failed to decode queued message: %v", err)
	}
	if text, _ := msg.Text(); text != "one" {
		t.Errorf("Expected the first message to be kept, got %s", text)
	}

	conn.Close()
	if conn.Connected() {
		t.Error("Connection should report closed")
	}
	if err := conn.Send(domain.NewTextMessage(domain.KindOutputText, 0, "three")); err != errConnectionClosed {
		t.Errorf("Expected errConnectionClosed, got %v", err)
	}
}
