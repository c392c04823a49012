package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/fahimimam/roomchat/config"
)

// maxMalformedFrames is how many undecodable frames in a row a connection
// may send before it is dropped.
const maxMalformedFrames = 5

// Server wires the registry, broadcaster and session manager together and
// exposes them over WebSocket and TCP.
type Server struct {
	cfg   config.Config
	log   logrus.FieldLogger
	relay Relay

	Rooms       *RoomRegistry
	Broadcaster *Broadcaster
	Sessions    *SessionManager

	upgrader websocket.Upgrader
}

// NewServer builds a server. relay may be nil for a single node.
func NewServer(cfg config.Config, log logrus.FieldLogger, relay Relay) *Server {
	rooms := NewRoomRegistry()

	var opts []BroadcasterOption
	if relay != nil {
		opts = append(opts, WithRelay(relay, cfg.NodeID))
	}
	broadcaster := NewBroadcaster(rooms, log, opts...)

	s := &Server{
		cfg:         cfg,
		log:         log,
		relay:       relay,
		Rooms:       rooms,
		Broadcaster: broadcaster,
		Sessions:    NewSessionManager(rooms, broadcaster, log, cfg.SendQueueSize),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Run processes frames from other nodes until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.Broadcaster.Run(ctx)
}

// Shutdown closes every connection, waits for the transports to disconnect
// them, then closes the relay so their leave notifications still reach
// other nodes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Sessions.CloseAll()
	err := s.Sessions.Drain(ctx)
	if s.relay != nil {
		err = errors.Join(err, s.relay.Close())
	}
	return err
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /api/rooms", s.listRooms)

	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(mux)
}

func (s *Server) listRooms(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(RoomList{Rooms: s.Rooms.Rooms()}); err != nil {
		s.log.WithField("error", err.Error()).Warn("failed to write room list")
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// frameBudget counts consecutive malformed frames on one connection.
type frameBudget struct{ malformed int }

// dispatch applies one inbound frame and reports whether the transport
// should keep reading.
func (s *Server) dispatch(ctx context.Context, c *Connection, raw []byte, budget *frameBudget) bool {
	err := s.Sessions.Dispatch(ctx, c, raw)
	if !errors.Is(err, ErrMalformedFrame) {
		budget.malformed = 0
		return true
	}
	budget.malformed++
	if budget.malformed >= maxMalformedFrames {
		s.log.WithFields(logrus.Fields{
			"conn_id":     c.ID(),
			"remote_addr": c.RemoteAddr(),
		}).Warn("too many malformed frames, dropping client")
		return false
	}
	return true
}
