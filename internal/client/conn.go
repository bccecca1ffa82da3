// Package client is the participant side: a reconnecting websocket
// connection and the session that keeps a local view of the game in step
// with the coordinator.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("not connected")

type ConnState string

const (
	Disconnected ConnState = "disconnected"
	Connecting   ConnState = "connecting"
	Connected    ConnState = "connected"
)

type Dialer func(ctx context.Context, url string) (*websocket.Conn, error)

func defaultDialer(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	return conn, err
}

type ConnOption func(*ConnManager)

func WithReconnectDelay(d time.Duration) ConnOption {
	return func(c *ConnManager) { c.policy = backoff.NewConstantBackOff(d) }
}

func WithDialer(d Dialer) ConnOption {
	return func(c *ConnManager) { c.dial = d }
}

func WithDialTimeout(d time.Duration) ConnOption {
	return func(c *ConnManager) { c.dialTimeout = d }
}

func WithConnLogger(log *zap.Logger) ConnOption {
	return func(c *ConnManager) { c.log = log }
}

// ConnManager keeps at most one live connection to the coordinator and
// reconnects after unexpected closures. Every dial gets a generation number;
// anything belonging to an older generation is ignored.
type ConnManager struct {
	dial        Dialer
	dialTimeout time.Duration
	policy      *backoff.ConstantBackOff
	log         *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc

	mu      sync.Mutex
	target  string
	state   ConnState
	conn    *websocket.Conn
	gen     uint64
	timer   *time.Timer
	closed  bool
	onFrame func([]byte)
	onState func(ConnState)
}

func NewConnManager(target string, opts ...ConnOption) *ConnManager {
	ctx, cancel := context.WithCancel(context.Background())
	c := &ConnManager{
		dial:        defaultDialer,
		dialTimeout: 10 * time.Second,
		policy:      backoff.NewConstantBackOff(3 * time.Second),
		log:         zap.NewNop(),
		ctx:         ctx,
		cancel:      cancel,
		target:      target,
		state:       Disconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnFrame registers the inbound frame callback. Register before Connect.
func (c *ConnManager) OnFrame(fn func([]byte)) {
	c.mu.Lock()
	c.onFrame = fn
	c.mu.Unlock()
}

// OnState registers the state change callback. Register before Connect.
func (c *ConnManager) OnState(fn func(ConnState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *ConnManager) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ConnManager) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// SetTarget changes the address used by the next dial.
func (c *ConnManager) SetTarget(url string) {
	c.mu.Lock()
	c.target = url
	c.mu.Unlock()
}

// Connect starts dialing in the background. It does nothing unless the
// manager is disconnected.
func (c *ConnManager) Connect() {
	c.mu.Lock()
	if c.closed || c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	gen, target := c.beginDialLocked()
	c.mu.Unlock()

	c.emitState(Connecting)
	go c.run(gen, target)
}

// Redial drops the current connection, if any, and dials url right away.
func (c *ConnManager) Redial(url string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.target = url
	old := c.conn
	c.conn = nil
	gen, target := c.beginDialLocked()
	c.mu.Unlock()

	if old != nil {
		old.Close(websocket.StatusNormalClosure, "redial")
	}
	c.emitState(Connecting)
	go c.run(gen, target)
}

func (c *ConnManager) Send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}
	return conn.Write(ctx, websocket.MessageText, frame)
}

// Close tears down the connection and cancels any pending reconnect.
func (c *ConnManager) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	c.stopTimerLocked()
	conn, prev := c.conn, c.state
	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "bye")
	}
	c.cancel()
	if prev != Disconnected {
		c.emitState(Disconnected)
	}
	return err
}

// beginDialLocked must be called with mu held.
func (c *ConnManager) beginDialLocked() (uint64, string) {
	c.stopTimerLocked()
	c.gen++
	c.state = Connecting
	return c.gen, c.target
}

func (c *ConnManager) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *ConnManager) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.gen == gen
}

func (c *ConnManager) run(gen uint64, target string) {
	dctx, cancel := context.WithTimeout(c.ctx, c.dialTimeout)
	conn, err := c.dial(dctx, target)
	cancel()
	if err != nil {
		c.log.Warn("dial failed", zap.String("target", target), zap.Error(err))
		c.lost(gen)
		return
	}

	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return
	}
	c.conn = conn
	c.state = Connected
	c.policy.Reset()
	c.mu.Unlock()

	c.log.Info("connected", zap.String("target", target))
	c.emitState(Connected)

	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			if c.current(gen) {
				c.log.Warn("connection lost", zap.Error(err))
			}
			break
		}
		if !c.current(gen) {
			break
		}
		c.emitFrame(data)
	}
	c.lost(gen)
}

// lost schedules the single reconnect for gen.
func (c *ConnManager) lost(gen uint64) {
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Disconnected
	delay := c.policy.NextBackOff()
	c.timer = time.AfterFunc(delay, func() { c.reconnect(gen) })
	c.mu.Unlock()

	c.log.Info("reconnect scheduled", zap.Duration("delay", delay))
	c.emitState(Disconnected)
}

func (c *ConnManager) reconnect(gen uint64) {
	c.mu.Lock()
	if c.closed || c.gen != gen || c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	next, target := c.beginDialLocked()
	c.mu.Unlock()

	c.emitState(Connecting)
	c.run(next, target)
}

func (c *ConnManager) emitState(s ConnState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (c *ConnManager) emitFrame(data []byte) {
	c.mu.Lock()
	fn := c.onFrame
	c.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}
