package chat

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

var newline = []byte{'\n'}

// Client is a participant on the line-oriented TCP port: one JSON frame per
// line in each direction.
type Client struct {
	Conn    net.Conn
	Session *Connection
}

// ServeTCP accepts clients on ln until ctx is done.
func (s *Server) ServeTCP(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.WithField("addr", ln.Addr().String()).Info("started tcp listener")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.WithField("error", err.Error()).Warn("unable to accept connection")
			continue
		}

		go s.NewClient(ctx, conn)
	}
}

// NewClient serves one TCP connection until either side closes it.
func (s *Server) NewClient(ctx context.Context, conn net.Conn) {
	c := &Client{
		Conn:    conn,
		Session: s.Sessions.Connect(conn.RemoteAddr().String()),
	}
	go c.WriteOutput(s.cfg.WriteTimeout, s.log)
	c.ReadInput(ctx, s)
}

func (c *Client) ReadInput(ctx context.Context, s *Server) {
	defer s.Sessions.Disconnect(ctx, c.Session)

	scanner := bufio.NewScanner(c.Conn)
	scanner.Buffer(make([]byte, 0, 1024), int(s.cfg.MaxFrameBytes))

	var budget frameBudget
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !s.dispatch(ctx, c.Session, line, &budget) {
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.WithFields(logrus.Fields{
			"remote_addr": c.Conn.RemoteAddr().String(),
			"error":       err.Error(),
		}).Error("failed to read from client")
	}
}

// WriteOutput drains the session's outbound queue onto the socket and
// closes the socket once the session is done.
func (c *Client) WriteOutput(timeout time.Duration, log logrus.FieldLogger) {
	defer c.Conn.Close()

	for {
		select {
		case frame := <-c.Session.Outbound():
			_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
			// frame is shared with other recipients; never append to it.
			lines := net.Buffers{frame, newline}
			if _, err := lines.WriteTo(c.Conn); err != nil {
				log.WithFields(logrus.Fields{
					"remote_addr": c.Conn.RemoteAddr().String(),
					"error":       err.Error(),
				}).Debug("failed to write to client")
				c.Session.Close()
				return
			}
		case <-c.Session.Done():
			return
		}
	}
}
