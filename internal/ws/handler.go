// Package ws attaches websocket connections to matches.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/live-chess-backend/internal/hub"
	"github.com/DoyleJ11/live-chess-backend/internal/identity"
	"github.com/DoyleJ11/live-chess-backend/internal/match"
	"github.com/DoyleJ11/live-chess-backend/internal/protocol"
)

type Options struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	OutboxSize     int
}

type Handler struct {
	hub  *hub.Hub
	log  *zap.Logger
	opts Options
}

func NewHandler(h *hub.Hub, log *zap.Logger, opts Options) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 16
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{hub: h, log: log, opts: opts}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	intent := identity.FromRequest(r)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.AllowedOrigins,
	})
	if err != nil {
		h.log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer ws.CloseNow()

	participant := intent.Token
	if participant == "" {
		participant = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{
		ws:     ws,
		hub:    h.hub,
		intent: intent,
		peer:   match.NewPeer(participant, h.opts.OutboxSize),
		opts:   h.opts,
		cancel: cancel,
		log: h.log.With(
			zap.String("participant", participant),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("game_id", intent.GameID),
		),
	}
	defer c.peer.Close()

	c.log.Debug("connection opened", zap.Bool("play", intent.Play), zap.Bool("spectator", intent.Spectator))
	go c.writeLoop(ctx)
	c.readLoop(ctx)
}

type conn struct {
	ws     *websocket.Conn
	hub    *hub.Hub
	intent identity.Intent
	peer   *match.Peer
	opts   Options
	log    *zap.Logger
	cancel context.CancelFunc

	// only touched by readLoop
	attached *match.Match
}

func (c *conn) readLoop(ctx context.Context) {
	defer func() {
		if c.attached != nil {
			c.attached.Leave(c.peer)
		}
	}()

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.log.Debug("connection closed by peer")
			default:
				if ctx.Err() == nil {
					c.log.Debug("read failed", zap.Error(err))
				}
			}
			return
		}

		f, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		switch f.Type {
		case protocol.TypeInit:
			c.handleInit(ctx)
		case protocol.TypeMove:
			c.handleMove(ctx, f)
		case protocol.TypeOver:
			c.handleOver(ctx)
		default:
			c.log.Debug("ignoring frame", zap.String("type", string(f.Type)))
		}
	}
}

func (c *conn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.peer.Done():
			// Replaced by a newer connection, too slow, or the server is stopping.
			c.ws.Close(websocket.StatusPolicyViolation, "connection closed by server")
			c.cancel()
			return

		case frame := <-c.peer.Outbox():
			wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.cancel()
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				c.cancel()
				return
			}
		}
	}
}

// live returns the attached match unless it has ended.
func (c *conn) live() *match.Match {
	if c.attached == nil {
		return nil
	}
	select {
	case <-c.attached.Done():
		c.attached = nil
	default:
	}
	return c.attached
}

func (c *conn) handleInit(ctx context.Context) {
	if m := c.live(); m != nil {
		if err := m.Resync(ctx, c.peer); err == nil {
			return
		}
		c.attached = nil
	}

	if err := c.intent.Validate(); err != nil {
		c.peer.Deliver(protocol.ErrorFrame("Spectator must provide a game ID"))
		return
	}

	var (
		m   *match.Match
		err error
	)
	if c.intent.Creates() {
		m, err = c.hub.Create(ctx)
	} else {
		m, err = c.hub.Get(ctx, c.intent.GameID)
	}
	if err != nil {
		c.log.Error("hub unavailable", zap.Error(err))
		c.peer.Deliver(protocol.ErrorFrame("Server unavailable"))
		return
	}
	if m == nil {
		c.peer.Deliver(protocol.GameNotStartedFrame())
		return
	}

	if err := m.Join(ctx, c.peer, c.intent.Join()); err != nil {
		if errors.Is(err, match.ErrClosed) {
			c.peer.Deliver(protocol.GameNotStartedFrame())
		}
		// Other refusals were already delivered by the match.
		return
	}
	c.attached = m
	c.log.Info("attached", zap.String("game_id", m.ID()))
}

func (c *conn) handleMove(ctx context.Context, f protocol.Frame) {
	m := c.live()
	if m == nil {
		c.peer.Deliver(protocol.GameNotStartedFrame())
		return
	}

	var mv protocol.Move
	if err := f.Bind(&mv); err != nil || mv.From == "" || mv.To == "" {
		c.peer.Deliver(protocol.ErrorFrame("Invalid move format"))
		return
	}

	if err := m.Submit(ctx, c.peer, mv.EngineMove()); err != nil {
		c.attached = nil
		c.peer.Deliver(protocol.GameNotStartedFrame())
	}
}

func (c *conn) handleOver(ctx context.Context) {
	hadGame := c.attached != nil
	m := c.live()
	if m == nil {
		if hadGame {
			c.peer.Deliver(protocol.GameNotStartedFrame())
			return
		}
		c.peer.Deliver(protocol.ErrorFrame("No active game to end"))
		return
	}
	if err := m.Terminate(ctx, c.peer); err != nil {
		c.attached = nil
		c.peer.Deliver(protocol.GameNotStartedFrame())
	}
}
