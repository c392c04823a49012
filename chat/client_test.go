package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tcpPeer struct {
	conn   net.Conn
	reader *bufio.Reader
}

func startTCP(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.ServeTCP(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func dialTCP(t *testing.T, addr string) *tcpPeer {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &tcpPeer{conn: conn, reader: bufio.NewReader(conn)}
}

func (p *tcpPeer) write(t *testing.T, line string) {
	t.Helper()
	_, err := p.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (p *tcpPeer) read(t *testing.T) Frame {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	line, err := p.reader.ReadBytes('\n')
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(line, &f))
	return f
}

func TestTCP_RoomChat(t *testing.T) {
	s := newTestServer(t)
	addr := startTCP(t, s)

	a := dialTCP(t, addr)
	b := dialTCP(t, addr)

	a.write(t, `{"event":"join_room","data":{"room":"42","username":"A"}}`)
	require.Eventually(t, func() bool { return len(s.Rooms.MembersOf("42")) == 1 }, recvTimeout, 5*time.Millisecond)

	b.write(t, "\r")
	b.write(t, `{"event":"join_room","data":{"room":"42","username":"B"}}`)
	assert.Equal(t, EventUserJoined, a.read(t).Event)

	a.write(t, `{"event":"send_message","data":{"room":"42","author":"A","message":"hi"}}`)
	f := b.read(t)
	assert.Equal(t, EventReceiveMessage, f.Event)
	got := frameData[Message](t, f)
	assert.Equal(t, "hi", got.Message)
	assert.NotEmpty(t, got.Time)

	b.write(t, `{"event":"list_rooms"}`)
	assert.Equal(t, RoomList{Rooms: []RoomSummary{{Room: "42", Members: 2}}}, frameData[RoomList](t, b.read(t)))

	require.NoError(t, b.conn.Close())
	assert.Equal(t, EventUserLeft, a.read(t).Event)
}

func TestTCP_ServerClosesStalledSession(t *testing.T) {
	s := newTestServer(t)
	addr := startTCP(t, s)

	a := dialTCP(t, addr)
	a.write(t, `{"event":"join_room","data":{"room":"42","username":"A"}}`)
	require.Eventually(t, func() bool { return len(s.Rooms.MembersOf("42")) == 1 }, recvTimeout, 5*time.Millisecond)

	s.Sessions.CloseAll()

	require.NoError(t, a.conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	_, err := a.reader.ReadBytes('\n')
	assert.Error(t, err)
	require.Eventually(t, func() bool { return len(s.Rooms.MembersOf("42")) == 0 }, recvTimeout, 5*time.Millisecond)
}
