package tickets

import (
	"fmt"
	"strings"
)

// Type identifies the kind of moderation action a ticket records. The numeric
// values are persisted and must not change.
type Type int

const (
	Note Type = iota
	Mute
	Ban
	Hackban
	Kick
)

// AllTypes lists every ticket type in persisted order.
var AllTypes = []Type{Note, Mute, Ban, Hackban, Kick}

func (t Type) String() string {
	switch t {
	case Note:
		return "note"
	case Mute:
		return "mute"
	case Ban:
		return "ban"
	case Hackban:
		return "hackban"
	case Kick:
		return "kick"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	return t >= Note && t <= Kick
}

// ParseType converts a type name back into a Type.
func ParseType(name string) (Type, error) {
	for _, t := range AllTypes {
		if strings.EqualFold(t.String(), name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, name)
}
