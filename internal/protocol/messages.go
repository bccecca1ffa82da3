// Package protocol defines the frames exchanged between participants and the
// coordinator. Every frame is one JSON object {"type": ..., "data": {...}}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
)

type Type string

const (
	TypeInit           Type = "init"
	TypeMove           Type = "move"
	TypeOver           Type = "over"
	TypeGameNotStarted Type = "game_not_started"
	TypeError          Type = "error"
)

var ErrMissingType = errors.New("frame has no type")

type Frame struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Init is the coordinator's role assignment. Color is omitted for spectators.
type Init struct {
	Color       engine.Color   `json:"color,omitempty"`
	GameID      string         `json:"gameId"`
	IsSpectator bool           `json:"isSpectator"`
	Status      engine.Status  `json:"status"`
	Turn        engine.Color   `json:"turn,omitempty"`
	Moves       []string       `json:"moves"`
	LastMove    *engine.Move   `json:"lastMove,omitempty"`
	Outcome     engine.Outcome `json:"outcome"`
	Token       string         `json:"token,omitempty"`
	ViewerURL   string         `json:"viewerUrl,omitempty"`
	Time        time.Time      `json:"time"`
}

// Move is both the client's intent (Color set, Outcome "*") and the
// coordinator's broadcast (Turn and the real Outcome set).
type Move struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Promotion string         `json:"promotion,omitempty"`
	Color     engine.Color   `json:"color,omitempty"`
	Outcome   engine.Outcome `json:"outcome"`
	Turn      engine.Color   `json:"turn,omitempty"`
}

func (m Move) EngineMove() engine.Move {
	return engine.Move{From: m.From, To: m.To, Promotion: m.Promotion}
}

type Over struct {
	Message string `json:"message,omitempty"`
}

type Error struct {
	Message string `json:"message"`
}

func Encode(t Type, data any) ([]byte, error) {
	f := Frame{Type: t}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s data: %w", t, err)
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, ErrMissingType
	}
	return f, nil
}

// Bind unmarshals the payload into v. An absent payload leaves v untouched.
func (f Frame) Bind(v any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", f.Type, err)
	}
	return nil
}

func ErrorFrame(message string) []byte {
	b, _ := Encode(TypeError, Error{Message: message})
	return b
}

func GameNotStartedFrame() []byte {
	b, _ := Encode(TypeGameNotStarted, struct{}{})
	return b
}
