package conversation

import (
	"context"
	"errors"
)

// Role tags the speaker of a turn. The values match the completion service's
// role names.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ErrInvalidRole is returned when a persisted turn carries an unknown role.
var ErrInvalidRole = errors.New("invalid turn role")

// Turn is one message in a session. Turns are never mutated after append.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

func UserTurn(text string) Turn  { return Turn{Role: RoleUser, Text: text} }
func ModelTurn(text string) Turn { return Turn{Role: RoleModel, Text: text} }

// Store keeps the ordered turn sequence of every session.
//
// Get returns an empty sequence for unknown sessions. Replace sets the whole
// sequence atomically. Count reports the length without creating anything.
type Store interface {
	Get(ctx context.Context, sessionID string) ([]Turn, error)
	Replace(ctx context.Context, sessionID string, turns []Turn) error
	Clear(ctx context.Context, sessionID string) error
	Count(ctx context.Context, sessionID string) (int, error)
	Close() error
}

func validRole(r Role) bool {
	return r == RoleUser || r == RoleModel
}

func cloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
