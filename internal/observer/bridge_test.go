package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"duelforge/engine/internal/events"
	"duelforge/engine/internal/logging"
)

func dialTestWebSocket(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	return conn
}

// dialIgnoringPongs connects like dialTestWebSocket but disables the
// client-side handling of ping/pong control frames, simulating a spectator
// whose connection has gone unresponsive without actually severing the TCP
// socket.
func dialIgnoringPongs(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	conn.SetPingHandler(func(string) error { return nil })
	conn.SetPongHandler(func(string) error { return nil })
	return conn
}

func TestBridgeBroadcastsRoundEvents(t *testing.T) {
	bus := events.NewBus()
	bridge := NewBridge(bus, Config{PingInterval: time.Minute}, logging.NewTestLogger())

	server := httptest.NewServer(http.HandlerFunc(bridge.ServeHTTP))
	defer server.Close()

	conn := dialTestWebSocket(t, server.URL)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for bridge.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("spectator never registered")
		}
		time.Sleep(time.Millisecond)
	}

	bus.Publish(events.RoundEvent{Round: 1, Type: events.TypeRoundResolved, DamageDealt: 14})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	var got events.RoundEvent
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal broadcast: %v", err)
	}
	if got.Round != 1 || got.DamageDealt != 14 {
		t.Fatalf("unexpected round event: %+v", got)
	}
}

func TestBridgeRejectsBeyondMaxClients(t *testing.T) {
	bus := events.NewBus()
	bridge := NewBridge(bus, Config{PingInterval: time.Minute, MaxClients: 1}, logging.NewTestLogger())

	server := httptest.NewServer(http.HandlerFunc(bridge.ServeHTTP))
	defer server.Close()

	first := dialTestWebSocket(t, server.URL)
	defer first.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bridge.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first spectator never registered")
		}
		time.Sleep(time.Millisecond)
	}

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected second spectator connection to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 response, got %+v", resp)
	}
}

// TestBridgeDeregistersUnresponsiveSpectator exercises the bridge's
// read-deadline/pong-handler pairing: a client that stops answering pings
// must be dropped instead of pinning a slot in br.clients forever.
func TestBridgeDeregistersUnresponsiveSpectator(t *testing.T) {
	bus := events.NewBus()
	bridge := NewBridge(bus, Config{PingInterval: 20 * time.Millisecond}, logging.NewTestLogger())

	server := httptest.NewServer(http.HandlerFunc(bridge.ServeHTTP))
	defer server.Close()

	conn := dialIgnoringPongs(t, server.URL)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bridge.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("spectator never registered")
		}
		time.Sleep(time.Millisecond)
	}

	//1.- The server's read deadline is pongWaitMultiplier*PingInterval; this
	// client never answers a ping, so the deadline must eventually fire, end
	// the readLoop, and let the writeLoop deregister it.
	for bridge.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("unresponsive spectator was never deregistered")
		}
		time.Sleep(time.Millisecond)
	}
}
