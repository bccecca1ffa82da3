package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer accepts websocket connections and echoes every message. The
// first dropFirst connections are closed right after the handshake.
type echoServer struct {
	srv       *httptest.Server
	accepts   atomic.Int32
	dropFirst int32
	queries   chan string
}

func newEchoServer(t *testing.T, dropFirst int32) *echoServer {
	t.Helper()
	s := &echoServer{dropFirst: dropFirst, queries: make(chan string, 16)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		n := s.accepts.Add(1)
		select {
		case s.queries <- r.URL.RawQuery:
		default:
		}
		if n <= s.dropFirst {
			c.Close(websocket.StatusInternalError, "go away")
			return
		}
		for {
			typ, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *echoServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func watch(c *ConnManager) (<-chan ConnState, <-chan []byte) {
	states := make(chan ConnState, 32)
	frames := make(chan []byte, 32)
	c.OnState(func(s ConnState) { states <- s })
	c.OnFrame(func(b []byte) { frames <- b })
	return states, frames
}

func waitState(t *testing.T, states <-chan ConnState, want ConnState, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestConnManager_ConnectSendAndReceive(t *testing.T) {
	srv := newEchoServer(t, 0)
	c := NewConnManager(srv.url())
	defer c.Close()
	states, frames := watch(c)

	require.ErrorIs(t, c.Send(context.Background(), []byte("early")), ErrNotConnected)

	c.Connect()
	assert.Equal(t, Connecting, <-states)
	waitState(t, states, Connected, 2*time.Second)

	require.NoError(t, c.Send(context.Background(), []byte("hello")))
	select {
	case f := <-frames:
		assert.Equal(t, "hello", string(f))
	case <-time.After(2 * time.Second):
		t.Fatalf("no echo")
	}
}

func TestConnManager_ConnectIsNoopWhileConnected(t *testing.T) {
	srv := newEchoServer(t, 0)
	c := NewConnManager(srv.url())
	defer c.Close()
	states, _ := watch(c)

	c.Connect()
	c.Connect()
	waitState(t, states, Connected, 2*time.Second)
	c.Connect()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), srv.accepts.Load())
}

func TestConnManager_ReconnectsAfterUnexpectedClose(t *testing.T) {
	srv := newEchoServer(t, 1)
	c := NewConnManager(srv.url(), WithReconnectDelay(50*time.Millisecond))
	defer c.Close()
	states, _ := watch(c)

	c.Connect()
	waitState(t, states, Connected, 2*time.Second)
	waitState(t, states, Disconnected, 2*time.Second)
	waitState(t, states, Connected, 2*time.Second)

	assert.Equal(t, int32(2), srv.accepts.Load())
	assert.Equal(t, Connected, c.State())
}

func TestConnManager_RetriesFailedDials(t *testing.T) {
	srv := newEchoServer(t, 0)
	var dials atomic.Int32
	dialer := func(ctx context.Context, url string) (*websocket.Conn, error) {
		if dials.Add(1) <= 2 {
			return nil, errors.New("connection refused")
		}
		return defaultDialer(ctx, url)
	}
	c := NewConnManager(srv.url(), WithDialer(dialer), WithReconnectDelay(20*time.Millisecond))
	defer c.Close()
	states, _ := watch(c)

	c.Connect()
	waitState(t, states, Connected, 2*time.Second)
	assert.Equal(t, int32(3), dials.Load())
}

func TestConnManager_CloseCancelsPendingReconnect(t *testing.T) {
	var dials atomic.Int32
	dialer := func(ctx context.Context, url string) (*websocket.Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}
	c := NewConnManager("ws://unused", WithDialer(dialer), WithReconnectDelay(50*time.Millisecond))
	states, _ := watch(c)

	c.Connect()
	waitState(t, states, Disconnected, time.Second)
	require.NoError(t, c.Close())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), dials.Load())
	assert.Equal(t, Disconnected, c.State())

	c.Connect()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), dials.Load(), "closed manager must not dial")
}

func TestConnManager_SetTargetAppliesOnReconnect(t *testing.T) {
	srv := newEchoServer(t, 1)
	c := NewConnManager(srv.url(), WithReconnectDelay(50*time.Millisecond))
	defer c.Close()
	states, _ := watch(c)

	c.SetTarget(srv.url() + "?gameId=abc123")
	c.Connect()
	assert.Equal(t, "gameId=abc123", <-srv.queries)

	c.SetTarget(srv.url() + "?gameId=abc123&token=t1")
	waitState(t, states, Disconnected, 2*time.Second)
	waitState(t, states, Connected, 2*time.Second)
	assert.Equal(t, "gameId=abc123&token=t1", <-srv.queries)
}

func TestConnManager_RedialSwitchesTarget(t *testing.T) {
	srv := newEchoServer(t, 0)
	c := NewConnManager(srv.url())
	defer c.Close()
	states, _ := watch(c)

	c.Connect()
	waitState(t, states, Connected, 2*time.Second)
	assert.Equal(t, "", <-srv.queries)

	c.Redial(srv.url() + "?play=true")
	waitState(t, states, Connected, 2*time.Second)
	assert.Equal(t, "play=true", <-srv.queries)
	assert.Equal(t, srv.url()+"?play=true", c.Target())
}
