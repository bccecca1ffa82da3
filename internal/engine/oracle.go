package engine

// Oracle judges moves. It is given the full accepted history so it can stay
// stateless; implementations own the notation stored in State.Moves.
type Oracle interface {
	Apply(history []string, m Move) (Result, error)
}

type Result struct {
	Notation string
	Outcome  Outcome
}
