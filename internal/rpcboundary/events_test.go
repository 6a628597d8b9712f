package rpcboundary

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestEventHubBroadcastsToSubscriber(t *testing.T) {
	hub := NewEventHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ConnectionCount() != 1 {
		t.Fatalf("expected 1 connection registered, got %d", hub.ConnectionCount())
	}

	hub.Broadcast("block_committed", map[string]int{"height": 7})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}

	var got Notification
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if got.Kind != "block_committed" {
		t.Fatalf("unexpected notification kind: %s", got.Kind)
	}
}

func TestEventHubBroadcastWithNoSubscribersIsNoOp(t *testing.T) {
	hub := NewEventHub()
	hub.Broadcast("block_committed", map[string]int{"height": 1})
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}
