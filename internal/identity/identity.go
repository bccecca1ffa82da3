// Package identity resolves who a connecting participant wants to be from
// the connection address, and builds that address on the client side.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
)

const (
	ParamGameID    = "gameId"
	ParamPlay      = "play"
	ParamSpectator = "spectator"
	ParamToken     = "token"
)

var ErrSpectatorNeedsGame = errors.New("spectator must provide a game ID")

// Intent is the participant's connection-time request. It is advisory; the
// match that receives it decides the actual role.
type Intent struct {
	GameID    string
	Play      bool
	Spectator bool
	Token     string
}

func FromRequest(r *http.Request) Intent {
	return FromQuery(r.URL.Query())
}

func FromQuery(q url.Values) Intent {
	in := Intent{
		GameID:    strings.TrimSpace(q.Get(ParamGameID)),
		Play:      q.Get(ParamPlay) == "true",
		Spectator: q.Get(ParamSpectator) == "true",
		Token:     strings.TrimSpace(q.Get(ParamToken)),
	}
	// Player intent always wins.
	if in.Play {
		in.Spectator = false
	}
	return in
}

// Creates reports whether the participant is asking for a brand-new session.
func (i Intent) Creates() bool {
	return i.GameID == ""
}

func (i Intent) Validate() error {
	if i.Spectator && i.GameID == "" {
		return ErrSpectatorNeedsGame
	}
	return nil
}

func (i Intent) Join() engine.Intent {
	switch {
	case i.Play:
		return engine.IntentPlay
	case i.Spectator:
		return engine.IntentSpectate
	default:
		return engine.IntentAny
	}
}

// Address is the dial target of a participant: the coordinator's websocket
// endpoint plus the resolved intent as query parameters.
type Address struct {
	Base string
	Intent
}

func (a Address) URL() (string, error) {
	u, err := url.Parse(a.Base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	for _, k := range []string{ParamGameID, ParamPlay, ParamSpectator, ParamToken} {
		q.Del(k)
	}
	if a.GameID != "" {
		q.Set(ParamGameID, a.GameID)
	}
	switch {
	case a.Play:
		q.Set(ParamPlay, "true")
	case a.Spectator:
		q.Set(ParamSpectator, "true")
	}
	if a.Token != "" {
		q.Set(ParamToken, a.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ViewerPath is the shareable spectator link for a game.
func ViewerPath(gameID string) string {
	return "/play/" + url.PathEscape(gameID) + "?" + ParamSpectator + "=true"
}

// PlayPath is the shareable link inviting an opponent.
func PlayPath(gameID string) string {
	return "/play/" + url.PathEscape(gameID) + "?" + ParamPlay + "=true"
}
