package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dbcore/agentcore/pkg/async/bus"
	"github.com/dbcore/agentcore/pkg/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Demo binary: no browser-origin restriction. A deployment fronting
	// this with a real UI should replace this with an allowlist check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents upgrades to a websocket and streams every event bus message
// matching the "topic" query parameter (default "*", every topic) as JSON
// until the client disconnects.
func handleEvents(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pattern := r.URL.Query().Get("topic")
		if pattern == "" {
			pattern = "*"
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		msgCh := make(chan bus.Message, 64)
		subID := o.Subscribe(pattern, func(msg bus.Message) {
			select {
			case msgCh <- msg:
			default:
			}
		})
		defer o.Unsubscribe(subID)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-closed:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case msg := <-msgCh:
				payload, err := json.Marshal(msg)
				if err != nil {
					log.Printf("marshal event: %v", err)
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			}
		}
	}
}
