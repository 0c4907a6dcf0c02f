package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/familyhub/contextd/pkg/api/events"
	"github.com/familyhub/contextd/pkg/logger"
	"github.com/familyhub/contextd/pkg/memory"
	"github.com/familyhub/contextd/pkg/orchestrator"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func waitForClients(t *testing.T, h *WebSocketHandler, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Count(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketHandler_RejectsNonUpgrade(t *testing.T) {
	handler := NewWebSocketHandler(logger.Nop(), WebSocketConfig{})

	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestWebSocketHandler_StreamsFromBroadcaster(t *testing.T) {
	handler := NewWebSocketHandler(logger.Nop(), WebSocketConfig{MaxConnections: 5})
	server := httptest.NewServer(handler)
	defer server.Close()
	defer handler.Close()

	b := events.NewBroadcaster(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handler.Run(ctx, b)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL)+"?owner_id=alice", nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	waitForClients(t, handler, 1)

	deadline := time.Now().Add(2 * time.Second)
	for b.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	b.Publish(orchestrator.Event{Type: orchestrator.EventSavePartial, OwnerID: "bob", Tiers: []memory.Tier{memory.TierVector}})
	b.Publish(orchestrator.Event{Type: orchestrator.EventContextDegraded, OwnerID: "alice", Tiers: []memory.Tier{memory.TierHotCache}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got orchestrator.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if got.Type != orchestrator.EventContextDegraded || got.OwnerID != "alice" {
		t.Fatalf("got %+v, want alice's degraded event", got)
	}
	if len(got.Tiers) != 1 || got.Tiers[0] != memory.TierHotCache {
		t.Fatalf("tiers = %v", got.Tiers)
	}
}

func TestWebSocketHandler_SubscribeMessage(t *testing.T) {
	handler := NewWebSocketHandler(logger.Nop(), WebSocketConfig{MaxConnections: 5})
	server := httptest.NewServer(handler)
	defer server.Close()
	defer handler.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL), nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	waitForClients(t, handler, 1)

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "owner_id": "u1"}); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	// The subscribe message is handled asynchronously; wait until it applies.
	deadline := time.Now().Add(2 * time.Second)
	for {
		handler.manager.mu.RLock()
		var applied bool
		for c := range handler.manager.clients {
			applied = !c.shouldReceive("u2")
		}
		handler.manager.mu.RUnlock()
		if applied {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscription was not applied")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := handler.Broadcast(orchestrator.Event{Type: orchestrator.EventSaveFailed, OwnerID: "u2"}); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	if err := handler.Broadcast(orchestrator.Event{Type: orchestrator.EventBreakerOpened, Tier: memory.TierRelational}); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got orchestrator.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read broadcast event: %v", err)
	}
	if got.Type != orchestrator.EventBreakerOpened {
		t.Fatalf("type = %q, want breaker.opened", got.Type)
	}
}

func TestWebSocketHandler_ConnectionLimit(t *testing.T) {
	handler := NewWebSocketHandler(logger.Nop(), WebSocketConfig{MaxConnections: 1})
	server := httptest.NewServer(handler)
	defer server.Close()
	defer handler.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL), nil)
	if err != nil {
		t.Fatalf("failed to open first websocket: %v", err)
	}
	defer first.Close()
	waitForClients(t, handler, 1)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server.URL), nil)
	if err == nil {
		t.Fatal("expected second websocket dial to fail")
	}
	if resp == nil {
		t.Fatal("expected HTTP response for failed upgrade")
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestWebSocketHandler_OriginCheck(t *testing.T) {
	handler := NewWebSocketHandler(logger.Nop(), WebSocketConfig{
		AllowedOrigins: []string{"http://allowed.example"},
	})
	server := httptest.NewServer(handler)
	defer server.Close()
	defer handler.Close()

	headers := http.Header{}
	headers.Set("Origin", "http://blocked.example")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server.URL), headers)
	if err == nil {
		t.Fatal("expected websocket dial with blocked origin to fail")
	}
	if resp == nil {
		t.Fatal("expected HTTP response for blocked origin")
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestConnectionManager_OwnerFiltering(t *testing.T) {
	manager := NewConnectionManager(2)
	clientA := newWSClient(nil)
	clientB := newWSClient(nil)

	clientA.subscribe("alice")

	if err := manager.Register(clientA); err != nil {
		t.Fatalf("register clientA failed: %v", err)
	}
	if err := manager.Register(clientB); err != nil {
		t.Fatalf("register clientB failed: %v", err)
	}
	if err := manager.Register(newWSClient(nil)); err == nil {
		t.Fatal("expected connection limit error")
	}

	if err := manager.Broadcast(orchestrator.Event{Type: orchestrator.EventSavePartial, OwnerID: "alice"}); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	select {
	case <-clientA.send:
	case <-time.After(time.Second):
		t.Fatal("expected clientA to receive alice's event")
	}
	select {
	case <-clientB.send:
	case <-time.After(time.Second):
		t.Fatal("expected unfiltered clientB to receive alice's event")
	}

	if err := manager.Broadcast(orchestrator.Event{Type: orchestrator.EventSavePartial, OwnerID: "bob"}); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	select {
	case <-clientA.send:
		t.Fatal("did not expect clientA to receive bob's event")
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case raw := <-clientB.send:
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if decoded["owner_id"] != "bob" || decoded["type"] != "save.partial" {
			t.Fatalf("payload = %v", decoded)
		}
	case <-time.After(time.Second):
		t.Fatal("expected clientB to receive bob's event")
	}

	manager.Unregister(clientA)
	if manager.Count() != 1 {
		t.Fatalf("count after unregister = %d, want 1", manager.Count())
	}
}

func TestConnectionManager_DropsSlowClient(t *testing.T) {
	manager := NewConnectionManager(1)
	client := newWSClient(nil)
	if err := manager.Register(client); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	for i := 0; i <= defaultSendBuffer; i++ {
		_ = manager.Broadcast(orchestrator.Event{Type: orchestrator.EventBreakerOpened})
	}
	if manager.Count() != 0 {
		t.Fatalf("slow client should be dropped, count = %d", manager.Count())
	}
}
