package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const recvTimeout = 2 * time.Second

func newTestSessions(t *testing.T, queueSize int) (*SessionManager, *RoomRegistry, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	rooms := NewRoomRegistry()
	return NewSessionManager(rooms, NewBroadcaster(rooms, log), log, queueSize), rooms, hook
}

// place puts c into room the way a join does, without notifications.
func place(t *testing.T, rooms *RoomRegistry, c *Connection, room, name string) {
	t.Helper()
	_, _, _, err := c.enter(room, name)
	require.NoError(t, err)
	rooms.Join(room, c)
}

func recvFrame(t *testing.T, c *Connection) Frame {
	t.Helper()
	select {
	case raw := <-c.Outbound():
		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(recvTimeout):
		t.Fatalf("no frame for connection %s", c.ID())
		return Frame{}
	}
}

// assertNoFrame relies on delivery being a synchronous enqueue: anything
// sent before the call is already in the queue.
func assertNoFrame(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case raw := <-c.Outbound():
		t.Fatalf("unexpected frame for connection %s: %s", c.ID(), raw)
	default:
	}
}

func frameData[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func hasWarning(hook *test.Hook, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == msg {
			return true
		}
	}
	return false
}
