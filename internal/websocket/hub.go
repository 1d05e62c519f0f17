// Package websocket is the outward-facing broadcast hub `engine serve`
// mounts for browser/dashboard clients: every accepted correlation and
// every detected emergence is fanned out here in addition to the
// internal/bus topic it is published on, so a client watching the
// dashboard sees the same stream a fleet-wide subscriber would see via
// Redis. BroadcastPatternEvolved and BroadcastWisdomPreserved exist, but
// nothing in the engine calls them.
package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub tracks every connected client and fans broadcast messages out to all
// of them, dropping a client whose send buffer is full rather than
// blocking the broadcaster.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// Client is one connected dashboard/observer websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	Send chan []byte
}

// Message is the envelope every broadcast carries: an event type plus its
// payload, matching the shape internal/bus topics already publish.
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewHub constructs a Hub with no clients registered. Run must be started
// in its own goroutine before clients connect.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run drives the hub's registration/broadcast loop. It never returns; the
// hub has no stop signal.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("websocket client connected, total=%d", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			log.Printf("websocket client disconnected, total=%d", len(h.clients))

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// BroadcastMessage fans one typed event out to every connected client.
func (h *Hub) BroadcastMessage(messageType string, data map[string]interface{}) {
	message := Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now(),
	}
	jsonData, err := json.Marshal(message)
	if err != nil {
		log.Printf("error marshaling websocket message: %v", err)
		return
	}
	h.broadcast <- jsonData
}

// BroadcastCorrelationAccepted notifies clients of one accepted
// correlation, mirroring the fields internal/bus.TopicCorrelationAccepted
// publishes.
func (h *Hub) BroadcastCorrelationAccepted(correlationID, patternType string, confidence float64, occurrenceFrequency int) {
	h.BroadcastMessage("correlation_accepted", map[string]interface{}{
		"correlation_id":       correlationID,
		"pattern_type":         patternType,
		"confidence":           confidence,
		"occurrence_frequency": occurrenceFrequency,
	})
}

// BroadcastPatternEvolved notifies clients that a library pattern
// transitioned lifecycle stage or type via the evolution engine.
func (h *Hub) BroadcastPatternEvolved(patternID string, evolutionType string, newFitness float64) {
	h.BroadcastMessage("pattern_evolved", map[string]interface{}{
		"pattern_id":     patternID,
		"evolution_type": evolutionType,
		"new_fitness":    newFitness,
	})
}

// BroadcastWisdomPreserved notifies clients that a pattern crossed the
// wisdom preservation threshold and was graduated into the wisdom engine.
func (h *Hub) BroadcastWisdomPreserved(patternID string, wisdomLevel string, consciousnessScore float64) {
	h.BroadcastMessage("wisdom_preserved", map[string]interface{}{
		"pattern_id":          patternID,
		"wisdom_level":        wisdomLevel,
		"consciousness_score": consciousnessScore,
	})
}

// BroadcastEmergenceDetected notifies clients that the emergence detector
// fired for a dialogue (one of the five second-order pattern-interaction
// phenomena), mirroring internal/bus.TopicEmergenceDetected.
func (h *Hub) BroadcastEmergenceDetected(dialogueID, kind, phase string, confidence float64) {
	h.BroadcastMessage("emergence_detected", map[string]interface{}{
		"dialogue_id": dialogueID,
		"kind":        kind,
		"phase":       phase,
		"confidence":  confidence,
	})
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			break
		}
		log.Printf("received websocket message: %s", message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// NewClient wraps an upgraded connection as a Client registered to hub.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		Send: make(chan []byte, 256),
	}
}
