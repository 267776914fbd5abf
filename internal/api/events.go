package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/reedfamily/mcbridge/internal/feed"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gauge is the subset of prometheus.Gauge used to count live subscribers.
type Gauge interface {
	Inc()
	Dec()
}

type EventsHandler struct {
	hub   *feed.Hub
	gauge Gauge
	log   *zap.Logger
}

func NewEventsHandler(hub *feed.Hub, gauge Gauge, log *zap.Logger) *EventsHandler {
	return &EventsHandler{hub: hub, gauge: gauge, log: log}
}

// Live streams every published event as a JSON text message. With
// ?latest=1 the most recent event is sent first.
func (h *EventsHandler) Live(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("events websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id, ch := h.hub.Subscribe()
	defer h.hub.Unsubscribe(id)
	if h.gauge != nil {
		h.gauge.Inc()
		defer h.gauge.Dec()
	}
	log := h.log.With(zap.String("subscriber", id))
	log.Debug("events subscriber connected", zap.String("remote", r.RemoteAddr))

	if r.URL.Query().Get("latest") == "1" {
		if latest, ok := h.hub.Latest(); ok {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(latest); err != nil {
				return
			}
		}
	}

	// Read from client to detect disconnect
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("events subscriber write failed", zap.Error(err))
				return
			}
		case <-done:
			log.Debug("events subscriber disconnected")
			return
		}
	}
}
