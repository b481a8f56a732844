package moderation

import (
	"context"
	"errors"
)

// Platform errors. Implementations wrap them so callers can classify with
// errors.Is.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
)

// Platform is the part of the chat platform the moderation core acts through.
// Lookups report a vanished guild or role as false with a nil error; an error
// means the answer is unknown.
type Platform interface {
	GuildExists(ctx context.Context, guildID int64) (bool, error)
	RoleExists(ctx context.Context, guildID, roleID int64) (bool, error)

	AddRole(ctx context.Context, guildID, memberID, roleID int64, reason string) error
	RemoveRole(ctx context.Context, guildID, memberID, roleID int64, reason string) error
	// Ban bans a member, deleting deleteDays days of their message history.
	Ban(ctx context.Context, guildID, memberID int64, deleteDays int, reason string) error
	Unban(ctx context.Context, guildID, memberID int64, reason string) error
	Kick(ctx context.Context, guildID, memberID int64, reason string) error
}
