package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahimimam/roomchat/chat"
	"github.com/fahimimam/roomchat/config"
)

func testConfig() config.Config {
	return config.Config{
		SendQueueSize:   16,
		WriteTimeout:    time.Second,
		PongWait:        time.Minute,
		PingPeriod:      30 * time.Second,
		MaxFrameBytes:   8192,
		NodeID:          "test-node",
		ShutdownTimeout: time.Second,
	}
}

func localListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func refused(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
	if err != nil {
		return true
	}
	_ = conn.Close()
	return false
}

func TestStart_ListenerFailureStopsEverything(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := testConfig()
	s := chat.NewServer(cfg, log, nil)

	ls := listeners{
		tcp:     localListener(t),
		http:    localListener(t),
		metrics: localListener(t),
	}
	// The metrics server fails as soon as it starts serving.
	require.NoError(t, ls.metrics.Close())

	gctx, groupErr := start(context.Background(), cfg, log, s, ls)

	select {
	case <-gctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("a failed listener should end the group context")
	}
	select {
	case err := <-groupErr:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("the group should report the failure instead of waiting on the http server")
	}

	assert.True(t, refused(ls.tcp.Addr().String()), "tcp listener should be closed")
	assert.True(t, refused(ls.http.Addr().String()), "http server should be shut down")
}

func TestStart_CancelStopsCleanly(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := testConfig()
	s := chat.NewServer(cfg, log, nil)

	ls := listeners{
		tcp:     localListener(t),
		http:    localListener(t),
		metrics: localListener(t),
	}

	ctx, cancel := context.WithCancel(context.Background())
	_, groupErr := start(ctx, cfg, log, s, ls)

	require.Eventually(t, func() bool { return !refused(ls.http.Addr().String()) }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-groupErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("the group should stop after cancel")
	}
	assert.True(t, refused(ls.metrics.Addr().String()), "metrics server should be shut down")
}
