package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHubLifecycle(t *testing.T) {
	hub := NewHub()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conns := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.Register(conn)
		conns <- conn
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	defer resp.Body.Close()
	defer client.Close()
	serverConn := <-conns

	// Registration goes through the hub's channel; give its loop a moment.
	time.Sleep(50 * time.Millisecond)

	hub.mutex.Lock()
	connID, registered := hub.clients[serverConn]
	hub.mutex.Unlock()
	if !registered {
		t.Fatal("connection not tracked by the hub")
	}
	if connID == "" {
		t.Error("registered connection has no id")
	}

	readEvent := func() map[string]interface{} {
		t.Helper()
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, message, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("read broadcast: %v", err)
		}
		var event map[string]interface{}
		if err := json.Unmarshal(message, &event); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		return event
	}

	hub.DonationCompleted("Jane", 1000, "QCX001", "d1")
	event := readEvent()
	if event["type"] != "donation_completed" {
		t.Errorf("event type = %v, want donation_completed", event["type"])
	}
	if event["donation_id"] != "d1" {
		t.Errorf("donation_id = %v, want d1", event["donation_id"])
	}

	// A repeat announcement for the same donation is suppressed, so the
	// next frame the client sees is the failure event.
	hub.DonationCompleted("Jane", 1000, "QCX001", "d1")
	hub.DonationFailed("Bob", 200, "Request cancelled by user")
	event = readEvent()
	if event["type"] != "donation_failed" {
		t.Errorf("event type = %v, want donation_failed", event["type"])
	}

	hub.Unregister(serverConn)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Error("expected read to fail after the hub dropped the connection")
	}
}
