package main

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/DoyleJ11/live-chess-backend/internal/client"
	"github.com/DoyleJ11/live-chess-backend/internal/engine"
)

var errBadMove = errors.New(`moves look like "e2e4", "e2 e4" or "e7e8q"`)

var squareRe = regexp.MustCompile(`^[a-h][1-8]$`)

type command struct {
	name string
	move engine.Move
}

func parseCommand(line string) (command, error) {
	line = strings.ToLower(strings.TrimSpace(line))
	switch line {
	case "quit", "exit", "over", "new", "show", "help":
		return command{name: line}, nil
	case "":
		return command{name: "show"}, nil
	}
	mv, err := parseMove(line)
	if err != nil {
		return command{}, err
	}
	return command{name: "move", move: mv}, nil
}

func parseMove(s string) (engine.Move, error) {
	s = strings.Join(strings.Fields(s), "")
	if len(s) != 4 && len(s) != 5 {
		return engine.Move{}, errBadMove
	}
	mv := engine.Move{From: s[0:2], To: s[2:4]}
	if !squareRe.MatchString(mv.From) || !squareRe.MatchString(mv.To) {
		return engine.Move{}, errBadMove
	}
	if len(s) == 5 {
		if !strings.ContainsRune("qrbn", rune(s[4])) {
			return engine.Move{}, errBadMove
		}
		mv.Promotion = s[4:]
	}
	return mv, nil
}

type boardDrawer interface {
	Board(history []string) (string, error)
}

func render(w io.Writer, v client.View, boards boardDrawer) {
	fmt.Fprintln(w)
	if v.GameID != "" && boards != nil {
		if board, err := boards.Board(v.Moves); err == nil {
			fmt.Fprint(w, board)
		}
	}

	role := string(v.Role)
	if role == "" {
		role = "-"
	}
	fmt.Fprintf(w, "[%s] game=%s role=%s status=%s", v.Conn, orDash(v.GameID), role, v.Status)
	switch v.Status {
	case engine.StatusActive:
		fmt.Fprintf(w, " turn=%s", v.Turn)
		if v.IsMyTurn {
			fmt.Fprint(w, " (your move)")
		}
	case engine.StatusOver:
		fmt.Fprintf(w, " result=%s", v.Outcome)
	}
	fmt.Fprintln(w)

	if v.LastMove != nil {
		fmt.Fprintf(w, "last move: %s (%d played)\n", v.LastMove.UCI(), len(v.Moves))
	}
	if v.ViewerURL != "" && v.Role.IsPlayer() {
		fmt.Fprintf(w, "spectators: %s\n", v.ViewerURL)
	}
	if v.Notice != "" {
		fmt.Fprintf(w, "! %s\n", v.Notice)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

const usage = `commands:
  e2e4 | e2 e4 | e7e8q   submit a move
  over                   end the game for everyone
  new                    leave and start a new game
  show                   redraw the board
  quit                   exit`
