package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// drainPollInterval is how often Drain checks for remaining connections.
const drainPollInterval = 10 * time.Millisecond

// SessionManager drives each connection through
// Connected -> Joined -> Closed and turns inbound events into registry and
// broadcaster calls. Every failure stays scoped to one connection.
type SessionManager struct {
	log         logrus.FieldLogger
	rooms       *RoomRegistry
	broadcaster *Broadcaster
	queueSize   int
	now         func() time.Time

	conns sync.Map // conn id -> *Connection
}

func NewSessionManager(rooms *RoomRegistry, broadcaster *Broadcaster, log logrus.FieldLogger, queueSize int) *SessionManager {
	m := &SessionManager{
		log:         log,
		rooms:       rooms,
		broadcaster: broadcaster,
		queueSize:   queueSize,
		now:         time.Now,
	}
	broadcaster.onFailure = m.handleDeliveryFailure
	return m
}

// Connect registers a new, unjoined connection.
func (m *SessionManager) Connect(remote string) *Connection {
	c := newConnection(remote, m.queueSize)
	m.conns.Store(c.ID(), c)
	connectionsGauge.Inc()

	m.log.WithFields(logrus.Fields{
		"conn_id":     c.ID(),
		"remote_addr": remote,
	}).Info("new client has connected")
	return c
}

// Join moves c into roomID. A connection already in another room leaves it
// first; joining the current room again changes nothing and announces nothing.
func (m *SessionManager) Join(ctx context.Context, c *Connection, roomID, username string) error {
	if err := (JoinRoom{Room: roomID, Username: username}).validate(); err != nil {
		return err
	}

	prevRoom, prevName, changed, err := c.enter(roomID, username)
	if err != nil {
		return err
	}
	if !changed {
		m.log.WithFields(logrus.Fields{
			"conn_id": c.ID(),
			"room":    roomID,
		}).Debug("already in room, ignoring join")
		return nil
	}

	if prevRoom != "" {
		m.leaveRoom(ctx, c, prevRoom, prevName)
	}

	if m.rooms.Join(roomID, c) {
		m.broadcaster.NotifyJoin(ctx, roomID, username, c.ID())
	}

	m.log.WithFields(logrus.Fields{
		"conn_id":  c.ID(),
		"room":     roomID,
		"username": username,
	}).Info("client joined room")
	return nil
}

// Send broadcasts msg to the other members of c's room. Messages with an
// empty body are dropped without error.
func (m *SessionManager) Send(ctx context.Context, c *Connection, msg Message) (DeliveryReport, error) {
	if msg.Message == "" {
		m.log.WithField("conn_id", c.ID()).Debug("dropping empty message")
		return DeliveryReport{}, nil
	}
	if err := msg.validate(); err != nil {
		return DeliveryReport{}, err
	}

	room := c.Room()
	if c.State() != StateJoined || room == "" {
		return DeliveryReport{}, ErrNotJoined
	}
	if msg.Room != room {
		return DeliveryReport{}, &ValidationError{Event: EventSendMessage, Field: "room", Reason: "does not match the joined room"}
	}
	if msg.Time == "" {
		msg.Time = clockTime(m.now())
	}
	return m.broadcaster.Deliver(ctx, room, msg, c.ID()), nil
}

// Leave returns a Joined connection to Connected.
func (m *SessionManager) Leave(ctx context.Context, c *Connection) {
	room, name, ok := c.exit()
	if !ok {
		return
	}
	m.leaveRoom(ctx, c, room, name)
}

// Disconnect is the terminal transition. It is safe to call more than once.
// The leave notification is sent even when ctx is already cancelled, which
// is the normal case while the server shuts down.
func (m *SessionManager) Disconnect(ctx context.Context, c *Connection) {
	room, name, wasJoined, first := c.terminate()
	if !first {
		return
	}

	if wasJoined {
		m.leaveRoom(context.WithoutCancel(ctx), c, room, name)
	}
	m.conns.Delete(c.ID())
	connectionsGauge.Dec()

	m.log.WithFields(logrus.Fields{
		"conn_id":     c.ID(),
		"remote_addr": c.RemoteAddr(),
	}).Info("client has disconnected")
}

// Dispatch decodes one inbound frame and applies it. Rejected frames are
// answered with an error frame; the returned error is for the transport.
func (m *SessionManager) Dispatch(ctx context.Context, c *Connection, raw []byte) error {
	cmd, err := ParseCommand(raw)
	if err != nil {
		m.reject(c, err)
		return err
	}
	eventsCounter.WithLabelValues(cmd.Event).Inc()

	switch cmd.Event {
	case EventJoinRoom:
		err = m.Join(ctx, c, cmd.Join.Room, cmd.Join.Username)
	case EventSendMessage:
		_, err = m.Send(ctx, c, cmd.Message)
	case EventLeaveRoom:
		m.Leave(ctx, c)
	case EventListRooms:
		err = m.reply(c, EventRoomList, RoomList{Rooms: m.rooms.Rooms()})
	}
	if err != nil {
		m.reject(c, err)
	}
	return err
}

// CloseAll closes every active connection; their transports then disconnect them.
func (m *SessionManager) CloseAll() {
	m.conns.Range(func(_, v any) bool {
		v.(*Connection).Close()
		return true
	})
}

// Drain waits until every connection has been disconnected by its transport.
func (m *SessionManager) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		if m.ActiveConnections() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain sessions: %d still connected: %w", m.ActiveConnections(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (m *SessionManager) ActiveConnections() int {
	n := 0
	m.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (m *SessionManager) leaveRoom(ctx context.Context, c *Connection, room, name string) {
	if m.rooms.Leave(room, c.ID()) {
		m.broadcaster.NotifyLeave(ctx, room, name, c.ID())
	}
	m.log.WithFields(logrus.Fields{
		"conn_id": c.ID(),
		"room":    room,
	}).Debug("client left room")
}

func (m *SessionManager) reject(c *Connection, err error) {
	if errors.Is(err, ErrConnectionClosed) {
		return
	}
	code := errorCode(err)
	rejectedCounter.WithLabelValues(code).Inc()

	m.log.WithFields(logrus.Fields{
		"conn_id": c.ID(),
		"code":    code,
		"error":   err.Error(),
	}).Warn("rejected inbound event")

	if rerr := m.reply(c, EventError, ErrorPayload{Code: code, Message: err.Error()}); rerr != nil {
		m.log.WithFields(logrus.Fields{
			"conn_id": c.ID(),
			"error":   rerr.Error(),
		}).Debug("failed to write error to client")
	}
}

func (m *SessionManager) reply(c *Connection, event string, data any) error {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return err
	}
	if err := c.Send(frame); err != nil {
		if errors.Is(err, ErrSlowConsumer) {
			c.Close()
		}
		return err
	}
	return nil
}

// handleDeliveryFailure disconnects members whose channel is stalled or
// gone. Closing only signals the transport, which runs Disconnect when its
// loops exit, so it is safe to call from inside a fan-out.
func (m *SessionManager) handleDeliveryFailure(c *Connection, err error) {
	if c.Close() {
		m.log.WithFields(logrus.Fields{
			"conn_id": c.ID(),
			"error":   err.Error(),
		}).Warn("closing connection after failed delivery")
	}
}

func clockTime(t time.Time) string {
	return fmt.Sprintf("%d:%d", t.Hour(), t.Minute())
}
