package services

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/Scylla34/generous-givers/utils"
	"github.com/gorilla/websocket"
)

// Notifier announces settled donations. The M-Pesa service calls it after a
// callback commits; implementations must not block reconciliation.
type Notifier interface {
	DonationCompleted(donorName string, amount float64, mpesaReceipt, donationID string)
	DonationFailed(donorName string, amount float64, reason string)
}

// Hub broadcasts donation events to connected dashboard clients over
// websocket. It implements Notifier. Each connection gets an id on
// registration so log lines can be tied to a single client.
type Hub struct {
	clients    map[*websocket.Conn]string
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.Mutex

	// Donations already announced, keyed by donation ID.
	broadcasted sync.Map
}

func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
	go h.run()
	return h
}

// Register adds a client connection to the hub.
func (h *Hub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection and closes it.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

func (h *Hub) run() {
	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case client := <-h.register:
			connID := utils.GenerateConnID()
			h.mutex.Lock()
			h.clients[client] = connID
			clientCount := len(h.clients)
			h.mutex.Unlock()
			log.Printf("WebSocket client %s connected. Total clients: %d", connID, clientCount)

		case client := <-h.unregister:
			h.mutex.Lock()
			connID, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				client.Close()
			}
			clientCount := len(h.clients)
			h.mutex.Unlock()
			if ok {
				log.Printf("WebSocket client %s disconnected. Total clients: %d", connID, clientCount)
			}

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client, connID := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					log.Printf("Failed to broadcast to client %s: %v", connID, err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()

		case <-cleanupTicker.C:
			h.cleanupInvalidConnections()
		}
	}
}

// cleanupInvalidConnections pings every client and drops the dead ones.
func (h *Hub) cleanupInvalidConnections() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	totalClients := len(h.clients)
	invalidCount := 0

	for client, connID := range h.clients {
		if err := client.WriteMessage(websocket.PingMessage, nil); err != nil {
			log.Printf("Dropping unresponsive WebSocket client %s: %v", connID, err)
			client.Close()
			delete(h.clients, client)
			invalidCount++
		}
	}

	if invalidCount > 0 {
		log.Printf("Cleaned up %d invalid WebSocket connections. Total clients: %d -> %d",
			invalidCount, totalClients, len(h.clients))
	}
}

func (h *Hub) DonationCompleted(donorName string, amount float64, mpesaReceipt, donationID string) {
	if _, announced := h.broadcasted.LoadOrStore(donationID, true); announced {
		return
	}

	h.send(map[string]interface{}{
		"type":          "donation_completed",
		"donor_name":    donorName,
		"amount":        amount,
		"mpesa_receipt": mpesaReceipt,
		"donation_id":   donationID,
		"timestamp":     time.Now().Unix(),
	})
}

func (h *Hub) DonationFailed(donorName string, amount float64, reason string) {
	h.send(map[string]interface{}{
		"type":       "donation_failed",
		"donor_name": donorName,
		"amount":     amount,
		"reason":     reason,
		"timestamp":  time.Now().Unix(),
	})
}

func (h *Hub) send(event map[string]interface{}) {
	message, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling donation event: %v", err)
		return
	}

	select {
	case h.broadcast <- message:
	default:
		log.Printf("Broadcast channel full, dropping donation event")
	}
}
