// Package hub is the registry of live matches, keyed by game ID.
package hub

import (
	"context"
	"crypto/rand"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/live-chess-backend/internal/match"
)

var ErrClosed = errors.New("hub closed")

const (
	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	idLength   = 6
)

type HubMsg interface{ isHubMsg() }

type CreateMatch struct {
	Reply chan *match.Match
}

type GetMatch struct {
	ID    string
	Reply chan *match.Match // nil when unknown
}

// RemoveMatch only removes the entry if it still points at Match.
type RemoveMatch struct {
	ID    string
	Match *match.Match
}

type CountMatches struct {
	Reply chan int
}

type ShutdownHub struct{}

func (CreateMatch) isHubMsg()  {}
func (GetMatch) isHubMsg()     {}
func (RemoveMatch) isHubMsg()  {}
func (CountMatches) isHubMsg() {}
func (ShutdownHub) isHubMsg()  {}

// MatchFactory builds a match for a fresh ID. The hub fills in OnClose.
type MatchFactory func(ctx context.Context, id string, onClose func(*match.Match)) *match.Match

type Hub struct {
	inbox   chan HubMsg
	matches map[string]*match.Match
	newID   func() string
	factory MatchFactory
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

type Option func(*Hub)

func WithIDGenerator(gen func() string) Option {
	return func(h *Hub) { h.newID = gen }
}

func WithLogger(log *zap.Logger) Option {
	return func(h *Hub) { h.log = log }
}

func NewHub(parent context.Context, factory MatchFactory, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		matches: make(map[string]*match.Match),
		newID:   RandomID,
		factory: factory,
		log:     zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateMatch:
				id := h.newID()
				for h.matches[id] != nil {
					id = h.newID()
				}
				mt := h.factory(h.ctx, id, h.remove)
				h.matches[id] = mt
				h.log.Info("match created", zap.String("game_id", id), zap.Int("live", len(h.matches)))
				msg.Reply <- mt

			case GetMatch:
				msg.Reply <- h.matches[msg.ID] // may be nil

			case RemoveMatch:
				if cur := h.matches[msg.ID]; cur != nil && cur == msg.Match {
					delete(h.matches, msg.ID)
					h.log.Info("match removed", zap.String("game_id", msg.ID), zap.Int("live", len(h.matches)))
				}

			case CountMatches:
				msg.Reply <- len(h.matches)

			case ShutdownHub:
				for _, mt := range h.matches {
					select {
					case mt.Inbox() <- match.Shutdown{}:
					case <-mt.Done():
					}
				}
				clear(h.matches)
				h.cancel()
				return
			}
		}
	}
}

// remove is handed to every match as its OnClose hook.
func (h *Hub) remove(mt *match.Match) {
	select {
	case h.inbox <- RemoveMatch{ID: mt.ID(), Match: mt}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) send(ctx context.Context, msg HubMsg) error {
	select {
	case <-h.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case h.inbox <- msg:
		return nil
	case <-h.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx, hubCtx context.Context, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-hubCtx.Done():
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (h *Hub) Create(ctx context.Context) (*match.Match, error) {
	reply := make(chan *match.Match, 1)
	if err := h.send(ctx, CreateMatch{Reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, h.ctx, reply)
}

// Get returns nil without error when no match has id.
func (h *Hub) Get(ctx context.Context, id string) (*match.Match, error) {
	reply := make(chan *match.Match, 1)
	if err := h.send(ctx, GetMatch{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, h.ctx, reply)
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.send(ctx, CountMatches{Reply: reply}); err != nil {
		return 0, err
	}
	return await(ctx, h.ctx, reply)
}

// Shutdown stops every match and then the hub itself.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
		<-h.ctx.Done()
	case <-h.ctx.Done():
	}
}

// RandomID returns a short lowercase alphanumeric game ID.
func RandomID() string {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}
