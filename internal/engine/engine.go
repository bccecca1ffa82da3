package engine

import (
	"errors"
	"fmt"
	"time"
)

var ErrWrongTurn = errors.New("not your turn")
var ErrIllegalMove = errors.New("invalid move")
var ErrSpectatorMove = errors.New("spectators cannot make moves")
var ErrSpectatorTerminate = errors.New("spectators cannot end the game")
var ErrNotParticipant = errors.New("not a participant in this game")
var ErrNotStarted = errors.New("game not started")
var ErrGameOver = errors.New("game is over")
var ErrSessionFull = errors.New("game is full")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Status string

const (
	StatusIdle             Status = "idle"
	StatusAwaitingOpponent Status = "awaiting_opponent"
	StatusActive           Status = "active"
	StatusOver             Status = "over"
)

type Outcome string

const (
	Undecided Outcome = "*"
	WhiteWon  Outcome = "white"
	BlackWon  Outcome = "black"
	Draw      Outcome = "draw"
)

// Intent is what a joining participant asked for. The state machine decides
// the role it actually gets.
type Intent string

const (
	IntentAny      Intent = ""
	IntentPlay     Intent = "play"
	IntentSpectate Intent = "spectate"
)

type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// UCI renders the move in long algebraic form, e.g. "e7e8q".
func (m Move) UCI() string {
	return m.From + m.To + m.Promotion
}

// State is the authoritative record of one match. Moves is an opaque log in
// the oracle's notation and is only ever appended to.
type State struct {
	ID         string
	Status     Status
	White      string
	Black      string
	Spectators map[string]bool
	Moves      []string
	Turn       Color
	LastMove   *Move
	Outcome    Outcome
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type CommandType string

const (
	CmdJoin      CommandType = "Join"
	CmdMove      CommandType = "Move"
	CmdTerminate CommandType = "Terminate"
)

/*
	CmdJoin      -> EvtColorAssigned (-> EvtGameStarted when black is seated)
	             -> EvtSpectatorJoined
	             -> EvtRejoined when the participant already holds a role
	CmdMove      -> EvtMoveApplied (-> EvtGameCompleted on a terminal verdict)
	CmdTerminate -> EvtTerminated, state resets to idle
*/

type Command struct {
	Type        CommandType
	Participant string
	Intent      Intent
	Move        Move
	At          time.Time
}

type EventType string

const (
	EvtColorAssigned   EventType = "ColorAssigned"
	EvtSpectatorJoined EventType = "SpectatorJoined"
	EvtRejoined        EventType = "Rejoined"
	EvtGameStarted     EventType = "GameStarted"
	EvtMoveApplied     EventType = "MoveApplied"
	EvtGameCompleted   EventType = "GameCompleted"
	EvtTerminated      EventType = "Terminated"
)

type Event struct {
	Type        EventType
	Participant string
	Role        Role
	Move        Move
	Turn        Color
	Outcome     Outcome
}

func Apply(s State, cmd Command, oracle Oracle) ([]Event, State, error) {
	switch cmd.Type {
	case CmdJoin:
		return applyJoin(s, cmd)
	case CmdMove:
		return applyMove(s, cmd, oracle)
	case CmdTerminate:
		return applyTerminate(s, cmd)
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func applyJoin(s State, cmd Command) ([]Event, State, error) {
	// Joining twice never changes who holds what.
	if role := s.RoleOf(cmd.Participant); role != RoleNone {
		return []Event{{Type: EvtRejoined, Participant: cmd.Participant, Role: role}}, s, nil
	}

	newState := s.clone()
	newState.UpdatedAt = cmd.At

	if cmd.Intent != IntentSpectate {
		switch {
		case newState.White == "":
			newState.White = cmd.Participant
			newState.Status = StatusAwaitingOpponent
			return []Event{
				{Type: EvtColorAssigned, Participant: cmd.Participant, Role: RoleWhite},
			}, newState, nil

		case newState.Black == "" && newState.Status == StatusAwaitingOpponent:
			newState.Black = cmd.Participant
			newState.Status = StatusActive
			newState.Turn = White
			return []Event{
				{Type: EvtColorAssigned, Participant: cmd.Participant, Role: RoleBlack},
				{Type: EvtGameStarted, Turn: White},
			}, newState, nil

		case cmd.Intent == IntentPlay:
			return nil, s, ErrSessionFull
		}
	}

	newState.Spectators[cmd.Participant] = true
	return []Event{
		{Type: EvtSpectatorJoined, Participant: cmd.Participant, Role: RoleSpectator},
	}, newState, nil
}

func applyMove(s State, cmd Command, oracle Oracle) ([]Event, State, error) {
	role := s.RoleOf(cmd.Participant)
	switch {
	case role == RoleNone:
		return nil, s, ErrNotParticipant
	case role == RoleSpectator:
		return nil, s, ErrSpectatorMove
	case s.Status == StatusIdle || s.Status == StatusAwaitingOpponent:
		return nil, s, ErrNotStarted
	case s.Status == StatusOver:
		return nil, s, ErrGameOver
	}

	if color, _ := role.Color(); color != s.Turn {
		return nil, s, ErrWrongTurn
	}

	res, err := oracle.Apply(s.Moves, cmd.Move)
	if err != nil {
		return nil, s, fmt.Errorf("%w: %w", ErrIllegalMove, err)
	}

	newState := s.clone()
	newState.Moves = append(newState.Moves, res.Notation)
	newState.Turn = s.Turn.Opposite()
	last := cmd.Move
	newState.LastMove = &last
	newState.UpdatedAt = cmd.At

	events := []Event{
		{Type: EvtMoveApplied, Participant: cmd.Participant, Role: role, Move: cmd.Move, Turn: newState.Turn, Outcome: Undecided},
	}

	if res.Outcome != Undecided && res.Outcome != "" {
		newState.Status = StatusOver
		newState.Outcome = res.Outcome
		events[0].Outcome = res.Outcome
		events = append(events, Event{Type: EvtGameCompleted, Outcome: res.Outcome})
	}
	return events, newState, nil
}

func applyTerminate(s State, cmd Command) ([]Event, State, error) {
	role := s.RoleOf(cmd.Participant)
	switch role {
	case RoleNone:
		return nil, s, ErrNotParticipant
	case RoleSpectator:
		return nil, s, ErrSpectatorTerminate
	}

	events := []Event{
		{Type: EvtTerminated, Participant: cmd.Participant, Role: role, Outcome: s.Outcome},
	}
	return events, NewState(s.ID, cmd.At), nil
}
