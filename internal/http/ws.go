package httpapi

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/velosdrop/velosdrop-sub001/internal/bus"
	"github.com/velosdrop/velosdrop-sub001/internal/subscription"
)

var upgrader = websocket.Upgrader{}

// wsConn serializes concurrent writes from bus handlers onto one socket.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

type wsFrame struct {
	Topic string        `json:"topic"`
	Type  bus.EventType `json:"type"`
	Data  any           `json:"data"`
}

// wsControl is what clients send over the socket. watch_orders replaces the
// watched order set; the session reconciles against it by diff so topics
// kept across the change never drop an event.
type wsControl struct {
	Action   string   `json:"action"` // watch_orders
	OrderIDs []string `json:"order_ids"`
}

// handleWS attaches a live event stream to an actor. Drivers and customers
// are pinned to their personal topic; an overseer starts with no topics and
// drives its watch list through watch_orders messages.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role, actorID := vars["role"], vars["actor_id"]

	var personal []string
	switch role {
	case "driver":
		personal = []string{bus.DriverTopic(actorID)}
	case "customer":
		personal = []string{bus.CustomerTopic(actorID)}
	case "overseer":
	default:
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wc := &wsConn{conn: conn}

	session := subscription.NewSession(s.Bus, func(topic string, ev bus.Event) {
		_ = wc.send(wsFrame{Topic: topic, Type: ev.Type, Data: ev.Data})
	}, s.logger)
	defer session.Close()

	for _, t := range personal {
		if err := session.Subscribe(t); err != nil {
			s.logger.Warn("ws personal subscribe failed", "topic", t, "error", err)
		}
	}

	for {
		var ctrl wsControl
		if err := conn.ReadJSON(&ctrl); err != nil {
			return
		}
		if ctrl.Action != "watch_orders" {
			continue
		}
		desired := append([]string{}, personal...)
		for _, id := range ctrl.OrderIDs {
			desired = append(desired, bus.OrderTopic(id))
		}
		if err := session.Reconcile(desired); err != nil {
			_ = wc.send(map[string]string{"error": "real-time updates unavailable"})
		}
	}
}
