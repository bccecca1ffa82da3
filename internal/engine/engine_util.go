package engine

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

func NewState(id string, at time.Time) State {
	return State{
		ID:         id,
		Status:     StatusIdle,
		Spectators: map[string]bool{},
		Moves:      []string{},
		Turn:       White,
		Outcome:    Undecided,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

// RoleOf reports which role a participant holds in s, or RoleNone.
func (s State) RoleOf(participant string) Role {
	switch {
	case participant == "":
		return RoleNone
	case participant == s.White:
		return RoleWhite
	case participant == s.Black:
		return RoleBlack
	case s.Spectators[participant]:
		return RoleSpectator
	default:
		return RoleNone
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s State) Clone() State {
	return s.clone()
}

func (s State) clone() State {
	c := s
	c.Spectators = maps.Clone(s.Spectators)
	if c.Spectators == nil {
		c.Spectators = map[string]bool{}
	}
	c.Moves = slices.Clone(s.Moves)
	if c.Moves == nil {
		c.Moves = []string{}
	}
	if s.LastMove != nil {
		m := *s.LastMove
		c.LastMove = &m
	}
	return c
}

// CheckInvariants reports the first structural rule s breaks.
func (s State) CheckInvariants() error {
	if (s.Status == StatusOver) != (s.Outcome != Undecided) {
		return fmt.Errorf("status %q with outcome %q", s.Status, s.Outcome)
	}
	if s.White != "" && s.White == s.Black {
		return errors.New("same participant holds both colors")
	}
	if s.Spectators[s.White] || s.Spectators[s.Black] {
		return errors.New("player also registered as spectator")
	}
	if s.Status == StatusActive && (s.White == "" || s.Black == "") {
		return errors.New("active game without both colors")
	}
	return nil
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
