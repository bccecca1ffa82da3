package engine

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) Role() Role {
	return Role(c)
}

type Role string

const (
	RoleNone      Role = ""
	RoleWhite     Role = "white"
	RoleBlack     Role = "black"
	RoleSpectator Role = "spectator"
)

// Color reports the seat color for a player role. Spectators and unknown
// participants have none.
func (r Role) Color() (Color, bool) {
	switch r {
	case RoleWhite:
		return White, true
	case RoleBlack:
		return Black, true
	default:
		return "", false
	}
}

func (r Role) IsPlayer() bool {
	_, ok := r.Color()
	return ok
}
