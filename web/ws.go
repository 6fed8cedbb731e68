package web

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"GroundLink/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect from the UI dev server; CORS is enforced on
	// the REST routes, the socket accepts any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsInbound is a client-to-server frame. Only rc_override is understood;
// everything else is ignored.
type wsInbound struct {
	Type      string        `json:"type"`
	VehicleID string        `json:"vehicle_id"`
	Channels  []interface{} `json:"channels"`
}

// handleWebSocket upgrades the connection, streams broadcast frames out,
// and accepts rc_override frames in.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[WS] upgrade failed: %v", err)
		return
	}

	id, frames := s.engine.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "rc_override" || len(msg.Channels) == 0 {
			continue
		}
		v := s.registry.GetVehicleOrActive(msg.VehicleID)
		if v == nil {
			continue
		}
		if err := v.RCOverride(msg.Channels); err != nil {
			logger.Debug("[WS] rc_override not queued: %v", err)
		}
	}

	// Unsubscribe closes the frame channel, which stops the writer.
	s.engine.Unsubscribe(id)
	<-done
	conn.Close()
}
