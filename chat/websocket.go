package chat

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"remote_addr": r.RemoteAddr,
			"error":       err.Error(),
		}).Warn("websocket upgrade failed")
		return
	}

	c := s.Sessions.Connect(r.RemoteAddr)
	go s.writeWS(ws, c)
	s.readWS(r, ws, c)
}

// readWS runs on the handler goroutine; when it returns the session is over.
func (s *Server) readWS(r *http.Request, ws *websocket.Conn, c *Connection) {
	ctx := r.Context()
	defer s.Sessions.Disconnect(ctx, c)

	ws.SetReadLimit(s.cfg.MaxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	var budget frameBudget
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithFields(logrus.Fields{
					"conn_id": c.ID(),
					"error":   err.Error(),
				}).Debug("websocket closed unexpectedly")
			}
			return
		}
		if !s.dispatch(ctx, c, data, &budget) {
			return
		}
	}
}

// writeWS is the only writer on ws. It owns closing the socket, which in
// turn unblocks readWS.
func (s *Server) writeWS(ws *websocket.Conn, c *Connection) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case frame := <-c.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.WithFields(logrus.Fields{
					"conn_id": c.ID(),
					"error":   err.Error(),
				}).Debug("websocket write failed")
				c.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(s.cfg.WriteTimeout))
			return
		}
	}
}
