package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/internal/identity"
	"github.com/DoyleJ11/live-chess-backend/internal/protocol"
)

var (
	ErrSessionClosed = errors.New("session closed")
	errSendQueueFull = errors.New("send queue full")
)

// Transport is what a Session needs from its connection. ConnManager
// satisfies it.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	State() ConnState
	SetTarget(url string)
	Redial(url string)
}

type event interface{ isEvent() }

type frameEvt struct{ raw []byte }

type connEvt struct{ state ConnState }

type submitEvt struct {
	ctx   context.Context
	move  engine.Move
	reply chan error
}

type terminateEvt struct {
	ctx   context.Context
	reply chan error
}

type newGameEvt struct{ reply chan error }

type clearNoticeEvt struct{ gen uint64 }

type viewEvt struct{ reply chan View }

type sendFailedEvt struct{ notice string }

type gameEndedEvt struct{ gameID string }

func (frameEvt) isEvent()       {}
func (connEvt) isEvent()        {}
func (submitEvt) isEvent()      {}
func (terminateEvt) isEvent()   {}
func (newGameEvt) isEvent()     {}
func (clearNoticeEvt) isEvent() {}
func (viewEvt) isEvent()        {}
func (sendFailedEvt) isEvent()  {}
func (gameEndedEvt) isEvent()   {}

// outbound is a frame queued for the sender goroutine. done is posted back to
// the loop after a successful write, failed after an unsuccessful one.
type outbound struct {
	ctx    context.Context
	frame  []byte
	what   string
	done   event
	failed event
	reply  chan error
}

type SessionOption func(*Session)

// WithAddress sets the address the session starts from. Its GameID and Token
// are replaced as the coordinator assigns them.
func WithAddress(a identity.Address) SessionOption {
	return func(s *Session) { s.addr = a }
}

func WithNoticeTTL(d time.Duration) SessionOption {
	return func(s *Session) { s.noticeTTL = d }
}

func WithLogger(log *zap.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// WithUpdates publishes a copy of the view after every change. Updates are
// dropped when ch is full.
func WithUpdates(ch chan<- View) SessionOption {
	return func(s *Session) { s.updates = ch }
}

// WithPrecheck refuses moves the local oracle considers illegal without
// sending them.
func WithPrecheck(on bool) SessionOption {
	return func(s *Session) { s.precheck = on }
}

// Session keeps the local view in step with the coordinator. All state lives
// on one goroutine; the exported methods post events to it.
type Session struct {
	inbox     chan event
	out       chan outbound
	view      View
	oracle    engine.Oracle
	conn      Transport
	addr      identity.Address
	noticeTTL time.Duration
	noticeGen uint64
	precheck  bool
	wantGame  bool
	updates   chan<- View
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewSession(parent context.Context, conn Transport, oracle engine.Oracle, opts ...SessionOption) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		inbox:     make(chan event, 64),
		out:       make(chan outbound, 16),
		view:      newView(),
		oracle:    oracle,
		conn:      conn,
		noticeTTL: 3 * time.Second,
		precheck:  true,
		wantGame:  true,
		log:       zap.NewNop(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.view.Conn = conn.State()
	go s.loop()
	go s.sender()
	return s
}

func (s *Session) Close() { s.cancel() }

func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// HandleFrame is the transport's inbound frame callback.
func (s *Session) HandleFrame(raw []byte) {
	s.post(frameEvt{raw: raw})
}

// HandleConnState is the transport's state callback.
func (s *Session) HandleConnState(state ConnState) {
	s.post(connEvt{state: state})
}

func (s *Session) post(ev event) bool {
	select {
	case s.inbox <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) request(ctx context.Context, ev event, reply chan error) error {
	select {
	case s.inbox <- ev:
	case <-s.ctx.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.ctx.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitMove sends a move intent if the local view allows it. Refusals set a
// notice and return an error without any I/O. The view itself only changes
// when the coordinator broadcasts the move.
func (s *Session) SubmitMove(ctx context.Context, mv engine.Move) error {
	reply := make(chan error, 1)
	return s.request(ctx, submitEvt{ctx: ctx, move: mv, reply: reply}, reply)
}

// Terminate ends the game for everyone and resets the local view.
func (s *Session) Terminate(ctx context.Context) error {
	reply := make(chan error, 1)
	return s.request(ctx, terminateEvt{ctx: ctx, reply: reply}, reply)
}

// NewGame forgets the current game and reconnects asking for a fresh one.
func (s *Session) NewGame(ctx context.Context) error {
	reply := make(chan error, 1)
	return s.request(ctx, newGameEvt{reply: reply}, reply)
}

func (s *Session) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case s.inbox <- viewEvt{reply: reply}:
	case <-s.ctx.Done():
		return View{}, ErrSessionClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.ctx.Done():
		return View{}, ErrSessionClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return

		case ev := <-s.inbox:
			switch ev := ev.(type) {
			case frameEvt:
				s.handleFrame(ev.raw)
			case connEvt:
				s.handleConn(ev.state)
			case submitEvt:
				if err := s.handleSubmit(ev); err != nil {
					ev.reply <- err
				}
			case terminateEvt:
				if err := s.handleTerminate(ev); err != nil {
					ev.reply <- err
				}
			case newGameEvt:
				ev.reply <- s.handleNewGame()
			case clearNoticeEvt:
				if ev.gen == s.noticeGen && s.view.Notice != "" {
					s.view.Notice = ""
					s.publish()
				}
			case viewEvt:
				ev.reply <- s.view.clone()
			case sendFailedEvt:
				s.setNotice(ev.notice)
				s.publish()
			case gameEndedEvt:
				s.handleGameEnded(ev.gameID)
			}
		}
	}
}

// sender writes queued frames in order so the loop never waits on the network.
func (s *Session) sender() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case o := <-s.out:
			ctx := o.ctx
			if ctx == nil {
				ctx = s.ctx
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := s.conn.Send(ctx, o.frame)
			cancel()

			next := o.done
			if err != nil {
				s.log.Warn("send failed", zap.String("frame", o.what), zap.Error(err))
				err = fmt.Errorf("send %s: %w", o.what, err)
				next = o.failed
			}
			if next != nil {
				s.post(next)
			}
			if o.reply != nil {
				o.reply <- err
			}
		}
	}
}

func (s *Session) enqueue(o outbound) error {
	select {
	case s.out <- o:
		return nil
	default:
		return errSendQueueFull
	}
}

func (s *Session) handleConn(state ConnState) {
	s.view.Conn = state
	// Every (re)connect subscribes again with the same identity. Once a game
	// has ended only NewGame asks for another one.
	if state == Connected && (s.wantGame || s.view.GameID != "") {
		frame, _ := protocol.Encode(protocol.TypeInit, struct{}{})
		if err := s.enqueue(outbound{frame: frame, what: "init"}); err != nil {
			s.log.Warn("send init failed", zap.Error(err))
		}
	}
	s.publish()
}

func (s *Session) handleSubmit(ev submitEvt) error {
	mv := ev.move
	v := s.view
	switch {
	case v.Conn != Connected:
		return s.refuse(ErrNotConnected, "Not connected to server")
	case v.Role == engine.RoleSpectator:
		return s.refuse(engine.ErrSpectatorMove, "Spectators cannot make moves")
	case v.Status == engine.StatusOver:
		return s.refuse(engine.ErrGameOver, "Game is over")
	case v.Status != engine.StatusActive:
		return s.refuse(engine.ErrNotStarted, "Game has not started")
	}

	color, ok := v.Color()
	if !ok || color != v.Turn {
		return s.refuse(engine.ErrWrongTurn, "Not your turn")
	}

	if s.precheck && s.oracle != nil {
		if _, err := s.oracle.Apply(v.Moves, mv); err != nil {
			return s.refuse(fmt.Errorf("%w: %w", engine.ErrIllegalMove, err), "Invalid move")
		}
	}

	frame, err := protocol.Encode(protocol.TypeMove, protocol.Move{
		From:      mv.From,
		To:        mv.To,
		Promotion: mv.Promotion,
		Color:     color,
		Outcome:   engine.Undecided,
	})
	if err != nil {
		return err
	}
	err = s.enqueue(outbound{
		ctx:    ev.ctx,
		frame:  frame,
		what:   "move " + mv.UCI(),
		failed: sendFailedEvt{notice: "Failed to send move"},
		reply:  ev.reply,
	})
	if err != nil {
		s.setNotice("Failed to send move")
		s.publish()
		return fmt.Errorf("send move: %w", err)
	}
	return nil
}

func (s *Session) handleTerminate(ev terminateEvt) error {
	v := s.view
	switch {
	case v.Conn != Connected:
		return s.refuse(ErrNotConnected, "Not connected to server")
	case v.Role == engine.RoleSpectator:
		return s.refuse(engine.ErrSpectatorTerminate, "Spectators cannot end the game")
	case v.GameID == "":
		return s.refuse(engine.ErrNotStarted, "No active game to end")
	}

	frame, _ := protocol.Encode(protocol.TypeOver, struct{}{})
	return s.enqueue(outbound{
		ctx:   ev.ctx,
		frame: frame,
		what:  "over",
		done:  gameEndedEvt{gameID: v.GameID},
		reply: ev.reply,
	})
}

func (s *Session) handleGameEnded(gameID string) {
	if s.view.GameID != gameID {
		return
	}
	s.log.Info("game ended", zap.String("game_id", gameID))
	if url, err := s.forgetGame(); err == nil {
		s.conn.SetTarget(url)
	}
	s.publish()
}

func (s *Session) handleNewGame() error {
	url, err := s.forgetGame()
	if err != nil {
		return err
	}
	s.wantGame = true
	// Redial closes the old connection and reports state back through
	// HandleConnState, so it runs off the loop.
	go s.conn.Redial(url)
	s.publish()
	return nil
}

// forgetGame resets the view and returns the address that asks for a new game.
func (s *Session) forgetGame() (string, error) {
	s.view = s.view.reset()
	s.wantGame = false
	s.addr.GameID = ""
	s.addr.Token = ""
	s.addr.Spectator = false
	url, err := s.addr.URL()
	if err != nil {
		s.log.Error("build address", zap.Error(err))
		return "", err
	}
	return url, nil
}

func (s *Session) refuse(err error, notice string) error {
	s.setNotice(notice)
	s.publish()
	return err
}

// setNotice shows msg until the TTL elapses or a newer notice replaces it.
func (s *Session) setNotice(msg string) {
	s.noticeGen++
	gen := s.noticeGen
	s.view.Notice = msg
	time.AfterFunc(s.noticeTTL, func() {
		s.post(clearNoticeEvt{gen: gen})
	})
}

func (s *Session) handleFrame(raw []byte) {
	f, err := protocol.Decode(raw)
	if err != nil {
		s.log.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch f.Type {
	case protocol.TypeInit:
		var in protocol.Init
		if err := f.Bind(&in); err != nil {
			s.log.Warn("dropping malformed frame", zap.Error(err))
			return
		}
		s.applyInit(in)

	case protocol.TypeMove:
		var mv protocol.Move
		if err := f.Bind(&mv); err != nil {
			s.log.Warn("dropping malformed frame", zap.Error(err))
			return
		}
		s.applyMove(mv)

	case protocol.TypeOver:
		s.log.Info("game ended by opponent", zap.String("game_id", s.view.GameID))
		if url, err := s.forgetGame(); err == nil {
			s.conn.SetTarget(url)
		}
		s.setNotice("Game ended by opponent")

	case protocol.TypeGameNotStarted:
		s.setNotice("Game has not started yet")

	case protocol.TypeError:
		var e protocol.Error
		if err := f.Bind(&e); err != nil || e.Message == "" {
			e.Message = "Server error"
		}
		s.setNotice(e.Message)

	default:
		s.log.Debug("ignoring frame", zap.String("type", string(f.Type)))
		return
	}
	s.publish()
}

func (s *Session) applyInit(in protocol.Init) {
	role := in.Color.Role()
	if in.IsSpectator {
		role = engine.RoleSpectator
	}

	v := s.view
	v.Role = role
	v.GameID = in.GameID
	v.Token = in.Token
	v.Status = in.Status
	v.Turn = in.Turn
	if v.Turn == "" {
		v.Turn = engine.White
	}
	v.Moves = append([]string{}, in.Moves...)
	v.LastMove = in.LastMove
	v.Outcome = in.Outcome
	if v.Outcome == "" {
		v.Outcome = engine.Undecided
	}
	v.ViewerURL = in.ViewerURL
	v.IsMyTurn = v.myTurn()
	s.view = v

	s.log.Info("joined game",
		zap.String("game_id", in.GameID),
		zap.String("role", string(role)),
		zap.String("status", string(in.Status)))

	// Reconnects go back to the same game with the same identity.
	s.addr.GameID = in.GameID
	s.addr.Token = in.Token
	s.addr.Spectator = role == engine.RoleSpectator
	s.addr.Play = role.IsPlayer()
	url, err := s.addr.URL()
	if err != nil {
		s.log.Error("build reconnect address", zap.Error(err))
		return
	}
	s.conn.SetTarget(url)
}

func (s *Session) applyMove(m protocol.Move) {
	v := s.view
	if v.Status != engine.StatusActive {
		s.log.Warn("move for inactive game ignored", zap.String("status", string(v.Status)))
		return
	}

	mv := m.EngineMove()
	res := engine.Result{Notation: mv.UCI(), Outcome: engine.Undecided}
	if s.oracle != nil {
		var err error
		res, err = s.oracle.Apply(v.Moves, mv)
		if err != nil {
			s.log.Error("coordinator move rejected by local rules", zap.String("move", mv.UCI()), zap.Error(err))
			s.setNotice("Received an invalid move")
			return
		}
	}

	v = v.clone()
	v.Moves = append(v.Moves, res.Notation)
	v.LastMove = &mv
	v.Turn = m.Turn
	if v.Turn == "" {
		v.Turn = s.view.Turn.Opposite()
	}

	// The verdict is the coordinator's, never the local oracle's.
	if m.Outcome != "" && m.Outcome != engine.Undecided {
		v.Status = engine.StatusOver
		v.Outcome = m.Outcome
	}
	v.IsMyTurn = v.myTurn()
	s.view = v
}

func (s *Session) publish() {
	if s.updates == nil {
		return
	}
	select {
	case s.updates <- s.view.clone():
	default:
	}
}
