package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
	"github.com/wricardo/mcp-training/lidardrive/game/physics"
)

func testFrame() *engine.Frame {
	return &engine.Frame{
		Tick:    42,
		RunID:   "run_test",
		Pose:    geometry.Pose{X: 120, Y: 80, Heading: 90},
		Speed:   3.5,
		Phase:   engine.PhaseRunning,
		Sensors: []int{10, 20, 30, 40, 50},
	}
}

func newTestClient(hub *Hub, sessionID string) *Client {
	return &Client{
		hub:       hub,
		sessionID: sessionID,
		send:      make(chan []byte, 256),
	}
}

// startTestServer runs the hub and an HTTP server that upgrades every
// request for the session named in ?sessionId=.
func startTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("sessionId")
		if sessionID == "" {
			sessionID = "default"
		}
		hub.ServeWS(w, r, sessionID)
	}))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return server
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, sessionID string, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount(sessionID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d clients in session %s, got %d", want, sessionID, hub.ClientCount(sessionID))
}

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.sessions == nil {
		t.Error("Hub sessions map is nil")
	}
	if hub.broadcast == nil {
		t.Error("Hub broadcast channel is nil")
	}
	if hub.register == nil {
		t.Error("Hub register channel is nil")
	}
	if hub.unregister == nil {
		t.Error("Hub unregister channel is nil")
	}
}

func TestHubRegisterClient(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, "test-session")

	hub.registerClient(client)

	if !hub.sessions["test-session"][client] {
		t.Error("Client was not registered in session")
	}
	if hub.ClientCount("test-session") != 1 {
		t.Errorf("Expected 1 client in session, got %d", hub.ClientCount("test-session"))
	}
}

func TestHubUnregisterClient(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, "test-session")

	hub.registerClient(client)
	hub.unregisterClient(client)

	if _, exists := hub.sessions["test-session"]; exists {
		t.Error("Session should have been cleaned up after last client unregistered")
	}
	if _, ok := <-client.send; ok {
		t.Error("Send channel should be closed")
	}

	// A second unregister must not panic on the closed channel.
	hub.unregisterClient(client)
}

func TestHubMultipleClientsInSession(t *testing.T) {
	hub := NewHub()
	sessionID := "multi-client-session"

	client1 := newTestClient(hub, sessionID)
	client2 := newTestClient(hub, sessionID)

	hub.registerClient(client1)
	hub.registerClient(client2)

	if hub.ClientCount(sessionID) != 2 {
		t.Errorf("Expected 2 clients in session, got %d", hub.ClientCount(sessionID))
	}

	hub.unregisterClient(client1)

	if hub.ClientCount(sessionID) != 1 {
		t.Errorf("Expected 1 client remaining in session, got %d", hub.ClientCount(sessionID))
	}
	if !hub.sessions[sessionID][client2] {
		t.Error("client2 should still be registered")
	}
}

func TestHubBroadcastFrame(t *testing.T) {
	hub := NewHub()
	sessionID := "broadcast-test"

	client := newTestClient(hub, sessionID)
	other := newTestClient(hub, "other-session")
	hub.registerClient(client)
	hub.registerClient(other)

	hub.BroadcastFrame(sessionID, testFrame())

	select {
	case data := <-client.send:
		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			t.Fatalf("Failed to unmarshal message: %v", err)
		}
		if message.SessionID != sessionID {
			t.Errorf("Expected sessionID %s, got %s", sessionID, message.SessionID)
		}
		if message.Event != EventFrame {
			t.Errorf("Expected event %q, got %s", EventFrame, message.Event)
		}
		if message.Frame == nil || message.Frame.Tick != 42 || message.Frame.Pose.X != 120 {
			t.Errorf("Frame not correctly transmitted: %+v", message.Frame)
		}
		if len(message.Frame.Sensors) != 5 {
			t.Errorf("Expected 5 sensor readings, got %d", len(message.Frame.Sensors))
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("No message received within timeout")
	}

	select {
	case <-other.send:
		t.Error("Frame leaked to another session")
	default:
	}
}

func TestHubBroadcastFrame_DropsSlowClient(t *testing.T) {
	hub := NewHub()
	slow := &Client{hub: hub, sessionID: "slow", send: make(chan []byte, 1)}
	hub.registerClient(slow)

	hub.BroadcastFrame("slow", testFrame())
	hub.BroadcastFrame("slow", testFrame())

	if hub.ClientCount("slow") != 0 {
		t.Error("Client with a full buffer should be dropped")
	}
}

func TestHubBroadcastEvent(t *testing.T) {
	hub := NewHub()

	hub.BroadcastEvent("event-test", "custom-event", "test-data")

	select {
	case message := <-hub.broadcast:
		if message.SessionID != "event-test" {
			t.Errorf("Expected sessionID 'event-test', got %s", message.SessionID)
		}
		if message.Event != "custom-event" {
			t.Errorf("Expected event 'custom-event', got %s", message.Event)
		}
		if message.Data != "test-data" {
			t.Errorf("Expected data 'test-data', got %v", message.Data)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("No broadcast message received within timeout")
	}
}

func TestWebSocketUpgrade(t *testing.T) {
	hub := NewHub()
	server := startTestServer(t, hub)

	conn := dial(t, server, "sessionId=ws-test")
	waitForClients(t, hub, "ws-test", 1)

	conn.Close()
	waitForClients(t, hub, "ws-test", 0)
}

func TestWebSocketFrameReceive(t *testing.T) {
	hub := NewHub()
	server := startTestServer(t, hub)

	conn := dial(t, server, "sessionId=msg-test")
	waitForClients(t, hub, "msg-test", 1)

	hub.BroadcastFrame("msg-test", testFrame())

	conn.SetReadDeadline(time.Now().Add(time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read WebSocket message: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Errorf("Expected text message, got type %d", msgType)
	}

	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if message.SessionID != "msg-test" {
		t.Errorf("Expected sessionID 'msg-test', got %s", message.SessionID)
	}
	if message.Frame.Pose.Y != 80 || message.Frame.Phase != engine.PhaseRunning {
		t.Errorf("Frame not correctly received: %+v", message.Frame)
	}
}

func TestWebSocketMsgpackFrames(t *testing.T) {
	hub := NewHub()
	server := startTestServer(t, hub)

	conn := dial(t, server, "sessionId=bin&format=msgpack")
	waitForClients(t, hub, "bin", 1)

	hub.BroadcastFrame("bin", testFrame())

	conn.SetReadDeadline(time.Now().Add(time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read WebSocket message: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("Expected binary message, got type %d", msgType)
	}

	var message Message
	if err := msgpack.Unmarshal(data, &message); err != nil {
		t.Fatalf("Failed to decode msgpack message: %v", err)
	}
	if message.Frame == nil || message.Frame.RunID != "run_test" || message.Frame.Speed != 3.5 {
		t.Errorf("Frame not correctly decoded: %+v", message.Frame)
	}
}

func TestWebSocketInput(t *testing.T) {
	hub := NewHub()

	type call struct {
		sessionID string
		input     physics.Input
	}
	calls := make(chan call, 1)
	hub.SetInputHandler(func(ctx context.Context, sessionID string, in physics.Input) error {
		if sessionID == "reject" {
			return errors.New("session reject not found")
		}
		calls <- call{sessionID, in}
		return nil
	})

	server := startTestServer(t, hub)

	t.Run("input is forwarded", func(t *testing.T) {
		conn := dial(t, server, "sessionId=drive")
		waitForClients(t, hub, "drive", 1)

		msg := `{"type":"input","input":{"throttle":true,"steer_left":true}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("Failed to write message: %v", err)
		}

		select {
		case c := <-calls:
			if c.sessionID != "drive" {
				t.Errorf("Expected session drive, got %s", c.sessionID)
			}
			if !c.input.Throttle || !c.input.SteerLeft || c.input.Brake {
				t.Errorf("Unexpected input: %+v", c.input)
			}
		case <-time.After(time.Second):
			t.Fatal("Input handler was not called")
		}
	})

	t.Run("handler error is reported", func(t *testing.T) {
		conn := dial(t, server, "sessionId=reject")
		waitForClients(t, hub, "reject", 1)

		msg := `{"type":"input","input":{"brake":true}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("Failed to write message: %v", err)
		}

		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read reply: %v", err)
		}
		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			t.Fatalf("Failed to unmarshal reply: %v", err)
		}
		if message.Event != EventError {
			t.Errorf("Expected error event, got %s", message.Event)
		}
	})

	t.Run("unknown type is rejected", func(t *testing.T) {
		conn := dial(t, server, "sessionId=unknown")
		waitForClients(t, hub, "unknown", 1)

		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport"}`)); err != nil {
			t.Fatalf("Failed to write message: %v", err)
		}

		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read reply: %v", err)
		}
		if !strings.Contains(string(data), "unknown message type") {
			t.Errorf("Expected unknown type error, got %s", data)
		}
	})
}

func TestHubRun_StopsOnCancel(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, "closing")
	hub.registerClient(client)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if hub.ClientCount("closing") != 0 {
		t.Error("Clients should be disconnected when the hub stops")
	}
}

func TestHubSessionIDsAreCaseInsensitive(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, "AB12")
	hub.registerClient(client)

	if got := hub.ClientCount("ab12"); got != 1 {
		t.Errorf("Expected 1 client for ab12, got %d", got)
	}

	hub.BroadcastFrame("ab12", testFrame())
	select {
	case <-client.send:
	case <-time.After(100 * time.Millisecond):
		t.Error("Client registered as AB12 did not receive a frame for ab12")
	}

	hub.unregisterClient(client)
	if got := hub.ClientCount("AB12"); got != 0 {
		t.Errorf("Expected no clients after unregister, got %d", got)
	}
}
