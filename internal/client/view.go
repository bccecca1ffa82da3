package client

import (
	"slices"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
)

// View is the participant's local picture of the game. It is only ever
// changed by frames from the coordinator and by connection events.
type View struct {
	Status    engine.Status
	Role      engine.Role
	GameID    string
	Token     string
	Turn      engine.Color
	IsMyTurn  bool
	LastMove  *engine.Move
	Moves     []string
	Outcome   engine.Outcome
	Conn      ConnState
	Notice    string
	ViewerURL string
}

func newView() View {
	return View{
		Status:  engine.StatusIdle,
		Turn:    engine.White,
		Moves:   []string{},
		Outcome: engine.Undecided,
		Conn:    Disconnected,
	}
}

// reset forgets the game but keeps connection state.
func (v View) reset() View {
	n := newView()
	n.Conn = v.Conn
	return n
}

func (v View) clone() View {
	c := v
	c.Moves = slices.Clone(v.Moves)
	if c.Moves == nil {
		c.Moves = []string{}
	}
	if v.LastMove != nil {
		m := *v.LastMove
		c.LastMove = &m
	}
	return c
}

// Color is the participant's color, if it holds one.
func (v View) Color() (engine.Color, bool) {
	return v.Role.Color()
}

func (v View) myTurn() bool {
	c, ok := v.Color()
	return ok && v.Status == engine.StatusActive && c == v.Turn
}
