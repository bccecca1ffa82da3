package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/internal/hub"
	"github.com/DoyleJ11/live-chess-backend/internal/identity"
	"github.com/DoyleJ11/live-chess-backend/internal/match"
)

type createdGame struct {
	GameID    string `json:"gameId"`
	PlayURL   string `json:"playUrl"`
	ViewerURL string `json:"viewerUrl"`
}

// gameSummary is the public view of a match. Participant identities stay
// private since they double as reconnect tokens.
type gameSummary struct {
	GameID     string         `json:"gameId"`
	Status     engine.Status  `json:"status"`
	Turn       engine.Color   `json:"turn"`
	Moves      []string       `json:"moves"`
	LastMove   *engine.Move   `json:"lastMove,omitempty"`
	Outcome    engine.Outcome `json:"outcome"`
	FEN        string         `json:"fen,omitempty"`
	Spectators int            `json:"spectators"`
	Connected  int            `json:"connected"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func CreateGame(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := h.Create(r.Context())
		if err != nil {
			http.Error(w, "failed to create game", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusCreated, createdGame{
			GameID:    m.ID(),
			PlayURL:   identity.PlayPath(m.ID()),
			ViewerURL: identity.ViewerPath(m.ID()),
		})
	}
}

func GetGame(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		m, err := h.Get(r.Context(), id)
		if err != nil {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		if m == nil {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}

		v, err := m.Snapshot(r.Context())
		if errors.Is(err, match.ErrClosed) {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, http.StatusOK, gameSummary{
			GameID:     v.State.ID,
			Status:     v.State.Status,
			Turn:       v.State.Turn,
			Moves:      v.State.Moves,
			LastMove:   v.State.LastMove,
			Outcome:    v.State.Outcome,
			FEN:        v.FEN,
			Spectators: len(v.State.Spectators),
			Connected:  v.NumPeers,
			CreatedAt:  v.State.CreatedAt,
		})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
