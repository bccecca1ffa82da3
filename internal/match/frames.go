package match

import (
	"errors"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/internal/identity"
	"github.com/DoyleJ11/live-chess-backend/internal/protocol"
)

// initFrame renders s from the point of view of participant.
func initFrame(s engine.State, participant string) []byte {
	role := s.RoleOf(participant)
	data := protocol.Init{
		GameID:      s.ID,
		IsSpectator: role == engine.RoleSpectator,
		Status:      s.Status,
		Turn:        s.Turn,
		Moves:       s.Moves,
		LastMove:    s.LastMove,
		Outcome:     s.Outcome,
		Token:       participant,
		ViewerURL:   identity.ViewerPath(s.ID),
		Time:        s.CreatedAt,
	}
	if color, ok := role.Color(); ok {
		data.Color = color
	}
	frame, _ := protocol.Encode(protocol.TypeInit, data)
	return frame
}

func moveFrame(ev engine.Event) []byte {
	frame, _ := protocol.Encode(protocol.TypeMove, protocol.Move{
		From:      ev.Move.From,
		To:        ev.Move.To,
		Promotion: ev.Move.Promotion,
		Outcome:   ev.Outcome,
		Turn:      ev.Turn,
	})
	return frame
}

func overFrame(message string) []byte {
	frame, _ := protocol.Encode(protocol.TypeOver, protocol.Over{Message: message})
	return frame
}

// rejection maps an engine refusal to the frame sent back to the requester.
func rejection(err error) []byte {
	switch {
	case errors.Is(err, engine.ErrNotStarted):
		return protocol.GameNotStartedFrame()
	case errors.Is(err, engine.ErrWrongTurn):
		return protocol.ErrorFrame("Not your turn")
	case errors.Is(err, engine.ErrIllegalMove):
		return protocol.ErrorFrame("Invalid move")
	case errors.Is(err, engine.ErrSpectatorMove):
		return protocol.ErrorFrame("Spectators cannot make moves")
	case errors.Is(err, engine.ErrSpectatorTerminate):
		return protocol.ErrorFrame("Spectators cannot end the game")
	case errors.Is(err, engine.ErrSessionFull):
		return protocol.ErrorFrame("Game is full")
	case errors.Is(err, engine.ErrGameOver):
		return protocol.ErrorFrame("Game is over")
	case errors.Is(err, engine.ErrNotParticipant):
		return protocol.ErrorFrame("You are not part of this game")
	default:
		return protocol.ErrorFrame("Request could not be processed")
	}
}
