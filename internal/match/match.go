// Package match runs one chess session as an actor: a single goroutine owns
// the session state and every join, move and termination for that session is
// applied by it, one at a time, in arrival order.
package match

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/live-chess-backend/internal/archive"
	"github.com/DoyleJ11/live-chess-backend/internal/engine"
)

var ErrClosed = errors.New("match closed")

type Msg interface{ isMatchMsg() }

type Join struct {
	Peer   *Peer
	Intent engine.Intent
	Reply  chan error // optional, buffered
}

func (Join) isMatchMsg() {}

type Submit struct {
	Peer *Peer
	Move engine.Move
}

func (Submit) isMatchMsg() {}

type Terminate struct{ Peer *Peer }

func (Terminate) isMatchMsg() {}

// Resync re-sends the current init frame to an attached peer.
type Resync struct{ Peer *Peer }

func (Resync) isMatchMsg() {}

type Leave struct{ Peer *Peer }

func (Leave) isMatchMsg() {}

type Shutdown struct{}

func (Shutdown) isMatchMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isMatchMsg() {}

type View struct {
	State    engine.State
	NumPeers int
	FEN      string
}

type Config struct {
	Oracle  engine.Oracle
	Archive archive.Store
	Logger  *zap.Logger
	// IdleTTL is how long a match with no connected peers survives.
	IdleTTL time.Duration
	// OnClose runs on the match goroutine after the match ended on its own.
	OnClose func(*Match)
	Now     func() time.Time
}

type Match struct {
	id     string
	inbox  chan Msg
	state  engine.State
	peers  map[string]*Peer
	cfg    Config
	log    *zap.Logger
	idle   *time.Timer
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, id string, cfg Config) *Match {
	if cfg.Archive == nil {
		cfg.Archive = archive.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}

	ctx, cancel := context.WithCancel(parent)
	m := &Match{
		id:     id,
		inbox:  make(chan Msg, 64),
		state:  engine.NewState(id, cfg.Now()),
		peers:  make(map[string]*Peer),
		cfg:    cfg,
		log:    cfg.Logger.With(zap.String("game_id", id)),
		idle:   time.NewTimer(cfg.IdleTTL),
		ctx:    ctx,
		cancel: cancel,
	}

	go m.loop()
	return m
}

func (m *Match) ID() string { return m.id }

// Done is closed once the match stopped accepting messages.
func (m *Match) Done() <-chan struct{} { return m.ctx.Done() }

// Inbox exposes the raw mailbox for tests and callers that build messages
// themselves.
func (m *Match) Inbox() chan<- Msg { return m.inbox }

func (m *Match) loop() {
	defer m.idle.Stop()
	for {
		select {
		case <-m.ctx.Done():
			m.closePeers()
			return

		case <-m.idle.C:
			if len(m.peers) > 0 {
				break
			}
			m.log.Info("match expired", zap.Duration("idle_ttl", m.cfg.IdleTTL))
			if m.state.Status == engine.StatusActive || m.state.Status == engine.StatusAwaitingOpponent {
				m.record(archive.ReasonExpired)
			}
			m.finish()
			return

		case msg := <-m.inbox:
			switch msg := msg.(type) {
			case Join:
				m.handleJoin(msg)

			case Submit:
				m.handleSubmit(msg)

			case Terminate:
				if m.handleTerminate(msg) {
					return
				}

			case Resync:
				if m.peers[msg.Peer.ID] == msg.Peer {
					m.sendInit(msg.Peer)
				}

			case Leave:
				m.detach(msg.Peer)

			case GetState:
				msg.Reply <- m.view()

			case Shutdown:
				m.closePeers()
				m.cancel()
				return
			}
		}
	}
}

func (m *Match) handleJoin(msg Join) {
	cmd := engine.Command{Type: engine.CmdJoin, Participant: msg.Peer.ID, Intent: msg.Intent, At: m.cfg.Now()}
	events, next, err := engine.Apply(m.state, cmd, m.cfg.Oracle)
	if err != nil {
		m.log.Info("join refused", zap.String("participant", msg.Peer.ID), zap.Error(err))
		msg.Peer.Deliver(rejection(err))
		reply(msg.Reply, err)
		return
	}

	m.commit(next)
	m.attach(msg.Peer)

	for _, ev := range events {
		switch ev.Type {
		case engine.EvtColorAssigned, engine.EvtSpectatorJoined, engine.EvtRejoined:
			m.log.Info("participant joined",
				zap.String("participant", ev.Participant),
				zap.String("role", string(ev.Role)),
				zap.Bool("rejoin", ev.Type == engine.EvtRejoined))
			m.sendInit(msg.Peer)

		case engine.EvtGameStarted:
			m.log.Info("game started")
			// Everyone else learns the session is now active.
			for id, p := range m.peers {
				if id != msg.Peer.ID {
					m.sendInit(p)
				}
			}
		}
	}
	reply(msg.Reply, nil)
}

func (m *Match) handleSubmit(msg Submit) {
	cmd := engine.Command{Type: engine.CmdMove, Participant: msg.Peer.ID, Move: msg.Move, At: m.cfg.Now()}
	events, next, err := engine.Apply(m.state, cmd, m.cfg.Oracle)
	if err != nil {
		m.log.Info("move rejected",
			zap.String("participant", msg.Peer.ID),
			zap.String("move", msg.Move.UCI()),
			zap.Error(err))
		msg.Peer.Deliver(rejection(err))
		return
	}

	m.commit(next)

	for _, ev := range events {
		switch ev.Type {
		case engine.EvtMoveApplied:
			m.log.Debug("move applied",
				zap.String("color", string(ev.Role)),
				zap.String("move", ev.Move.UCI()),
				zap.String("turn", string(ev.Turn)))
			m.broadcast(moveFrame(ev))

		case engine.EvtGameCompleted:
			m.log.Info("game over", zap.String("outcome", string(ev.Outcome)))
			m.record(archive.ReasonCompleted)
		}
	}
}

// handleTerminate reports whether the match ended.
func (m *Match) handleTerminate(msg Terminate) bool {
	cmd := engine.Command{Type: engine.CmdTerminate, Participant: msg.Peer.ID, At: m.cfg.Now()}
	events, next, err := engine.Apply(m.state, cmd, m.cfg.Oracle)
	if err != nil {
		msg.Peer.Deliver(rejection(err))
		return false
	}

	ev := events[0]
	m.log.Info("game terminated", zap.String("by", string(ev.Role)), zap.String("status", string(m.state.Status)))

	frame := overFrame("Game ended by " + string(ev.Role))
	for id, p := range m.peers {
		if id != msg.Peer.ID {
			m.deliver(p, frame)
		}
	}

	if m.state.Status != engine.StatusOver {
		m.record(archive.ReasonTerminated)
	}
	m.commit(next)
	m.finish()
	return true
}

func (m *Match) commit(next engine.State) {
	if err := next.CheckInvariants(); err != nil {
		m.log.Error("session invariant violated", zap.Error(err))
	}
	m.state = next
}

func (m *Match) attach(p *Peer) {
	if old, ok := m.peers[p.ID]; ok && old != p {
		m.log.Info("replacing connection", zap.String("participant", p.ID))
		old.Close()
	}
	m.peers[p.ID] = p
	m.idle.Stop()
}

func (m *Match) detach(p *Peer) {
	if m.peers[p.ID] != p {
		return
	}
	delete(m.peers, p.ID)
	if len(m.peers) == 0 {
		m.idle.Reset(m.cfg.IdleTTL)
	}
}

func (m *Match) sendInit(p *Peer) {
	m.deliver(p, initFrame(m.state, p.ID))
}

func (m *Match) broadcast(frame []byte) {
	for _, p := range m.peers {
		m.deliver(p, frame)
	}
}

func (m *Match) deliver(p *Peer, frame []byte) {
	if frame == nil || p.Deliver(frame) {
		return
	}
	// Slow or gone: drop the connection, keep the seat.
	m.log.Warn("dropping slow peer", zap.String("participant", p.ID))
	p.Close()
	m.detach(p)
}

func (m *Match) closePeers() {
	for id, p := range m.peers {
		p.Close()
		delete(m.peers, id)
	}
}

func (m *Match) record(reason archive.Reason) {
	rec := archive.FromState(m.state, reason, m.cfg.Now())
	store, log := m.cfg.Archive, m.log
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Save(ctx, rec); err != nil {
			log.Error("archive failed", zap.Error(err))
		}
	}()
}

func (m *Match) finish() {
	m.cancel()
	if m.cfg.OnClose != nil {
		m.cfg.OnClose(m)
	}
}

type positioner interface {
	FEN(history []string) (string, error)
}

func (m *Match) view() View {
	v := View{State: m.state.Clone(), NumPeers: len(m.peers)}
	if p, ok := m.cfg.Oracle.(positioner); ok {
		if fen, err := p.FEN(m.state.Moves); err == nil {
			v.FEN = fen
		}
	}
	return v
}

func reply(ch chan error, err error) {
	if ch != nil {
		ch <- err
	}
}

func (m *Match) post(ctx context.Context, msg Msg) error {
	select {
	case <-m.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case m.inbox <- msg:
		return nil
	case <-m.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join asks the match to seat p and waits for the verdict. Refusals are also
// delivered to p as frames.
func (m *Match) Join(ctx context.Context, p *Peer, intent engine.Intent) error {
	replyCh := make(chan error, 1)
	if err := m.post(ctx, Join{Peer: p, Intent: intent, Reply: replyCh}); err != nil {
		return err
	}
	select {
	case err := <-replyCh:
		return err
	case <-m.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Match) Submit(ctx context.Context, p *Peer, mv engine.Move) error {
	return m.post(ctx, Submit{Peer: p, Move: mv})
}

func (m *Match) Terminate(ctx context.Context, p *Peer) error {
	return m.post(ctx, Terminate{Peer: p})
}

func (m *Match) Resync(ctx context.Context, p *Peer) error {
	return m.post(ctx, Resync{Peer: p})
}

// Leave detaches p. It never blocks on a finished match.
func (m *Match) Leave(p *Peer) {
	select {
	case m.inbox <- Leave{Peer: p}:
	case <-m.ctx.Done():
	}
}

func (m *Match) Snapshot(ctx context.Context) (View, error) {
	replyCh := make(chan View, 1)
	if err := m.post(ctx, GetState{Reply: replyCh}); err != nil {
		return View{}, err
	}
	select {
	case v := <-replyCh:
		return v, nil
	case <-m.ctx.Done():
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}
