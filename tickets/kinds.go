package tickets

import (
	"fmt"

	"moderation-bot/utils"
)

// Kind is the behaviour attached to one ticket type.
type Kind interface {
	Type() Type
	// Render builds the summary of a ticket. It must not modify the ticket.
	Render(t *Ticket) Summary
}

// Kinds is the dispatch table from ticket type to kind. It is built once at
// startup and never modified afterwards.
type Kinds struct {
	byType map[Type]Kind
}

// NewKinds builds a dispatch table. Every type must be covered by exactly one kind.
func NewKinds(kinds ...Kind) (*Kinds, error) {
	k := &Kinds{byType: make(map[Type]Kind, len(kinds))}
	for _, kind := range kinds {
		t := kind.Type()
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(t))
		}
		if _, dup := k.byType[t]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKind, t)
		}
		k.byType[t] = kind
	}
	for _, t := range AllTypes {
		if _, ok := k.byType[t]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingKind, t)
		}
	}
	return k, nil
}

// DefaultKinds returns the dispatch table with the standard kinds.
func DefaultKinds() (*Kinds, error) {
	return NewKinds(StandardKinds()...)
}

// StandardKinds returns the built-in kind for every ticket type.
func StandardKinds() []Kind {
	return []Kind{
		actionKind{typ: Note, single: "Note", multi: "Notes", colour: "#95A5A6"},
		actionKind{typ: Mute, single: "Member Muted", multi: "Members Muted", timed: "Temporary Mute", colour: "#E67E22"},
		actionKind{typ: Ban, single: "Member Banned", multi: "Members Banned", timed: "Temporary Ban", colour: "#E74C3C"},
		actionKind{typ: Hackban, single: "User Hackbanned", multi: "Users Hackbanned", colour: "#992D22"},
		actionKind{typ: Kick, single: "Member Kicked", multi: "Members Kicked", colour: "#F1C40F"},
	}
}

// Lookup returns the kind registered for t.
func (k *Kinds) Lookup(t Type) (Kind, error) {
	kind, ok := k.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return kind, nil
}

// Render renders a ticket through the kind of its type.
func (k *Kinds) Render(t *Ticket) (Summary, error) {
	kind, err := k.Lookup(t.Type)
	if err != nil {
		return Summary{}, err
	}
	return kind.Render(t), nil
}

type actionKind struct {
	typ    Type
	single string
	multi  string
	timed  string
	colour string
}

func (k actionKind) Type() Type { return k.typ }

func (k actionKind) Render(t *Ticket) Summary {
	title := k.single
	if len(t.MemberIDs) > 1 {
		title = k.multi
	}
	if t.Timed != nil && k.timed != "" {
		title = k.timed
	}

	s := Summary{
		Title:     fmt.Sprintf("Ticket #%d: %s", t.ID, title),
		Colour:    utils.ParseHexColor(k.colour),
		Footer:    fmt.Sprintf("Moderator ID: %d", t.ModeratorID),
		Timestamp: t.CreatedAt,
	}
	label := "Member"
	if len(t.MemberIDs) != 1 {
		label = "Members"
	}
	s.Fields = append(s.Fields, Field{Name: label, Value: mentionList(t.MemberIDs)})
	if t.Timed != nil {
		s.Fields = append(s.Fields,
			Field{Name: "Duration", Value: FormatDuration(t.Timed.Duration)},
			Field{Name: "Expires", Value: fmt.Sprintf("<t:%d:R>", t.Timed.ExpiresAt.Unix())},
		)
	}
	reason := t.Reason
	if reason == "" {
		reason = "No reason provided."
	}
	s.Fields = append(s.Fields, Field{Name: "Reason", Value: reason})
	return s
}
