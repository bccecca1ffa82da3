// Package rules adapts a chess library to the engine's Oracle contract.
package rules

import (
	"fmt"
	"strings"

	"github.com/corentings/chess/v2"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
)

// Chess judges standard chess moves in UCI notation. It keeps no state
// between calls; every call replays the given history.
type Chess struct{}

func NewChess() *Chess { return &Chess{} }

func (Chess) Apply(history []string, m engine.Move) (engine.Result, error) {
	game, err := replay(history)
	if err != nil {
		return engine.Result{}, err
	}

	uci := normalize(m)
	if err := game.PushNotationMove(uci, chess.UCINotation{}, nil); err != nil {
		return engine.Result{}, fmt.Errorf("move %s: %w", uci, err)
	}
	return engine.Result{Notation: uci, Outcome: outcomeOf(game.Outcome())}, nil
}

// FEN renders the position reached after history.
func (Chess) FEN(history []string) (string, error) {
	game, err := replay(history)
	if err != nil {
		return "", err
	}
	return game.FEN(), nil
}

// Board draws the position reached after history as text, white at the bottom.
func (Chess) Board(history []string) (string, error) {
	game, err := replay(history)
	if err != nil {
		return "", err
	}
	return game.Position().Board().Draw(), nil
}

func replay(history []string) (*chess.Game, error) {
	game := chess.NewGame()
	for i, mv := range history {
		if err := game.PushNotationMove(mv, chess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay move %d (%s): %w", i+1, mv, err)
		}
	}
	return game, nil
}

func normalize(m engine.Move) string {
	return strings.ToLower(strings.TrimSpace(m.From) + strings.TrimSpace(m.To) + strings.TrimSpace(m.Promotion))
}

func outcomeOf(o chess.Outcome) engine.Outcome {
	switch o {
	case chess.WhiteWon:
		return engine.WhiteWon
	case chess.BlackWon:
		return engine.BlackWon
	case chess.Draw:
		return engine.Draw
	default:
		return engine.Undecided
	}
}
