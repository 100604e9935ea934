package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ewsreplay/internal/engine"
	"ewsreplay/internal/model"
)

// streamSubscriber is the bus subscriber class shared by every websocket.
const streamSubscriber = "ws"

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

type streamMessage struct {
	Type    string         `json:"type"`
	Status  *model.Status  `json:"status,omitempty"`
	Overlay *model.Overlay `json:"overlay,omitempty"`
	Event   *model.Event   `json:"event,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// handleStream pushes the chart's frame whenever it changes, plus every bus
// event for that chart (or for all charts when no chart is given).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	chartID := r.URL.Query().Get("chart")
	var chart *engine.Chart
	if chartID != "" {
		c, err := s.engine.Chart(chartID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		chart = c
	}
	if s.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "event bus unavailable"})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("websocket upgrade failed", "err", err)
		}
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(streamSubscriber, 0)
	defer s.bus.Unsubscribe(sub)
	if s.logger != nil {
		s.logger.Debug("websocket subscribed", "conn_id", uuid.NewString(), "subscription_id", sub.ID, "chart_id", chartID)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && s.logger != nil {
					s.logger.Debug("websocket closed", "err", err)
				}
				return
			}
		}
	}()

	interval := 100 * time.Millisecond
	if s.cfg != nil {
		interval = s.cfg.Get().API.StreamInterval
	}
	frames := time.NewTicker(interval)
	defer frames.Stop()
	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	var last model.Status
	sendFrame := func() error {
		st := chart.Status()
		if st.Frame == last.Frame && st.SessionID == last.SessionID && st.State == last.State {
			return nil
		}
		last = st
		msg := streamMessage{Type: "frame", Status: &st}
		if ov, err := chart.Overlay(); err != nil {
			msg.Error = err.Error()
		} else {
			msg.Overlay = &ov
		}
		return s.write(conn, msg)
	}
	if chart != nil {
		if err := sendFrame(); err != nil {
			return
		}
	} else if err := s.write(conn, streamMessage{Type: "hello"}); err != nil {
		return
	}

	for {
		select {
		case <-readDone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if chartID != "" && ev.ChartID != chartID {
				continue
			}
			if err := s.write(conn, streamMessage{Type: "event", Event: &ev}); err != nil {
				return
			}
		case <-frames.C:
			if chart == nil {
				continue
			}
			if err := sendFrame(); err != nil {
				return
			}
		case <-pings.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
