package chat

import (
	"sync"

	"github.com/google/uuid"
)

// State is where a Connection is in its session lifecycle.
type State int

const (
	StateConnected State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one participant's duplex channel, independent of the
// transport carrying it. Transports drain Outbound and stop when Done fires.
type Connection struct {
	id     string
	remote string
	send   chan []byte
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	state  State
	room   string
	name   string
	// member is the Room entry this connection was added to. A pruned and
	// re-created room gets a new entry, so stale fan-outs miss the match.
	member *Room
}

func newConnection(remote string, queueSize int) *Connection {
	return &Connection{
		id:     uuid.NewString(),
		remote: remote,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

func (c *Connection) ID() string         { return c.id }
func (c *Connection) RemoteAddr() string { return c.remote }

// Outbound yields encoded frames queued for this connection.
func (c *Connection) Outbound() <-chan []byte { return c.send }

// Done is closed once the connection must stop writing.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Connection) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Deliver queues a room frame. The membership check and the enqueue happen
// under the same lock, so a connection that has left roomID never receives it.
func (c *Connection) Deliver(roomID string, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room != roomID {
		return ErrNotMember
	}
	return c.enqueue(frame)
}

// deliverTo is Deliver for one registry entry: frames fanned out on an entry
// the connection no longer belongs to are refused.
func (c *Connection) deliverTo(room *Room, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room != room.Name || c.member != room {
		return ErrNotMember
	}
	return c.enqueue(frame)
}

// attach records the registry entry c was added to.
func (c *Connection) attach(room *Room) {
	c.mu.Lock()
	c.member = room
	c.mu.Unlock()
}

// Send queues a frame addressed to this connection only.
func (c *Connection) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueue(frame)
}

func (c *Connection) enqueue(frame []byte) error {
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close stops all further delivery. It reports whether this call closed it.
func (c *Connection) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	return true
}

// enter moves the connection into roomID. changed is false when it is
// already there; prevRoom/prevName describe the room it implicitly leaves.
func (c *Connection) enter(roomID, name string) (prevRoom, prevName string, changed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state == StateClosed {
		return "", "", false, ErrConnectionClosed
	}
	if c.state == StateJoined && c.room == roomID {
		return "", "", false, nil
	}
	prevRoom, prevName = c.room, c.name
	c.room, c.name, c.state = roomID, name, StateJoined
	c.member = nil
	return prevRoom, prevName, true, nil
}

// exit returns a Joined connection to Connected.
func (c *Connection) exit() (room, name string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateJoined {
		return "", "", false
	}
	room, name = c.room, c.name
	c.room, c.state, c.member = "", StateConnected, nil
	return room, name, true
}

// terminate is the transition to Closed. first is false when the
// connection was already terminated.
func (c *Connection) terminate() (room, name string, wasJoined, first bool) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return "", "", false, false
	}
	room, name, wasJoined = c.room, c.name, c.state == StateJoined
	c.room, c.state, c.member = "", StateClosed, nil
	c.mu.Unlock()

	c.Close()
	return room, name, wasJoined, true
}
