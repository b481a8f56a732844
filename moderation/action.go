package moderation

import (
	"context"

	"moderation-bot/tickets"
)

// Target is where a timed action applies.
type Target struct {
	GuildID int64
	RoleID  int64
}

// Action is a reversible platform action that can be scheduled for automatic
// reversal.
type Action interface {
	Type() tickets.Type
	// UsesRole reports whether the action depends on Target.RoleID. Recovery
	// treats groups whose role has vanished as stale.
	UsesRole() bool
	Apply(ctx context.Context, p Platform, t Target, memberID int64, reason string) error
	Reverse(ctx context.Context, p Platform, t Target, memberID int64, reason string) error
}

// MuteAction mutes by granting a role.
type MuteAction struct{}

func (MuteAction) Type() tickets.Type { return tickets.Mute }
func (MuteAction) UsesRole() bool     { return true }

func (MuteAction) Apply(ctx context.Context, p Platform, t Target, memberID int64, reason string) error {
	return p.AddRole(ctx, t.GuildID, memberID, t.RoleID, reason)
}

func (MuteAction) Reverse(ctx context.Context, p Platform, t Target, memberID int64, reason string) error {
	return p.RemoveRole(ctx, t.GuildID, memberID, t.RoleID, reason)
}

// TempBanAction bans and later unbans.
type TempBanAction struct{}

func (TempBanAction) Type() tickets.Type { return tickets.Ban }
func (TempBanAction) UsesRole() bool     { return false }

func (TempBanAction) Apply(ctx context.Context, p Platform, t Target, memberID int64, reason string) error {
	return p.Ban(ctx, t.GuildID, memberID, 0, reason)
}

func (TempBanAction) Reverse(ctx context.Context, p Platform, t Target, memberID int64, reason string) error {
	return p.Unban(ctx, t.GuildID, memberID, reason)
}

// DefaultActions returns the built-in timed actions.
func DefaultActions() []Action {
	return []Action{MuteAction{}, TempBanAction{}}
}
