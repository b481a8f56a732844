package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"moderation-bot/moderation"
	"moderation-bot/tickets"

	"github.com/bwmarrin/discordgo"
)

// Session is the part of a discordgo session the adapter uses.
type Session interface {
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
	GuildBanDelete(guildID, userID string, options ...discordgo.RequestOption) error
	GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord implements moderation.Platform and tickets.Poster on top of the
// Discord REST API.
type Discord struct {
	session Session
	state   *discordgo.State
	modlogs map[int64]int64
	logger  *slog.Logger
}

// New creates an adapter. modlogs maps guild ids to their moderation log
// channel. state may be nil, in which case every lookup goes to the API.
func New(session Session, state *discordgo.State, modlogs map[int64]int64, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		session: session,
		state:   state,
		modlogs: modlogs,
		logger:  logger.With("component", "platform"),
	}
}

// FromSession creates an adapter for a live session, using its state cache.
func FromSession(s *discordgo.Session, modlogs map[int64]int64, logger *slog.Logger) *Discord {
	return New(s, s.State, modlogs, logger)
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

func opts(ctx context.Context, reason string) []discordgo.RequestOption {
	o := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		o = append(o, discordgo.WithAuditLogReason(reason))
	}
	return o
}

// Classify wraps Discord API errors with the moderation error kinds.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return err
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return fmt.Errorf("%w: %w", moderation.ErrPermissionDenied, err)
		case discordgo.ErrCodeUnknownGuild, discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownRole,
			discordgo.ErrCodeUnknownUser, discordgo.ErrCodeUnknownBan, discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %w", moderation.ErrNotFound, err)
		}
	}
	if rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %w", moderation.ErrPermissionDenied, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", moderation.ErrNotFound, err)
		}
	}
	return err
}

// GuildExists reports whether the bot can still reach the guild. A guild the
// bot was removed from counts as gone.
func (d *Discord) GuildExists(ctx context.Context, guildID int64) (bool, error) {
	if d.state != nil {
		if _, err := d.state.Guild(id(guildID)); err == nil {
			return true, nil
		}
	}
	_, err := d.session.Guild(id(guildID), discordgo.WithContext(ctx))
	if err == nil {
		return true, nil
	}
	err = Classify(err)
	if errors.Is(err, moderation.ErrNotFound) || errors.Is(err, moderation.ErrPermissionDenied) {
		return false, nil
	}
	return false, fmt.Errorf("failed to look up guild %d: %w", guildID, err)
}

// RoleExists reports whether the role still exists in the guild.
func (d *Discord) RoleExists(ctx context.Context, guildID, roleID int64) (bool, error) {
	if d.state != nil {
		if _, err := d.state.Role(id(guildID), id(roleID)); err == nil {
			return true, nil
		}
	}
	roles, err := d.session.GuildRoles(id(guildID), discordgo.WithContext(ctx))
	if err != nil {
		err = Classify(err)
		if errors.Is(err, moderation.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to list roles of guild %d: %w", guildID, err)
	}
	for _, r := range roles {
		if r.ID == id(roleID) {
			return true, nil
		}
	}
	return false, nil
}

func (d *Discord) AddRole(ctx context.Context, guildID, memberID, roleID int64, reason string) error {
	return Classify(d.session.GuildMemberRoleAdd(id(guildID), id(memberID), id(roleID), opts(ctx, reason)...))
}

func (d *Discord) RemoveRole(ctx context.Context, guildID, memberID, roleID int64, reason string) error {
	return Classify(d.session.GuildMemberRoleRemove(id(guildID), id(memberID), id(roleID), opts(ctx, reason)...))
}

func (d *Discord) Ban(ctx context.Context, guildID, memberID int64, deleteDays int, reason string) error {
	return Classify(d.session.GuildBanCreateWithReason(id(guildID), id(memberID), reason, deleteDays, discordgo.WithContext(ctx)))
}

func (d *Discord) Unban(ctx context.Context, guildID, memberID int64, reason string) error {
	return Classify(d.session.GuildBanDelete(id(guildID), id(memberID), opts(ctx, reason)...))
}

func (d *Discord) Kick(ctx context.Context, guildID, memberID int64, reason string) error {
	return Classify(d.session.GuildMemberDeleteWithReason(id(guildID), id(memberID), reason, discordgo.WithContext(ctx)))
}

// PostModLog sends an embed to the guild's moderation log channel.
func (d *Discord) PostModLog(ctx context.Context, guildID int64, embed *discordgo.MessageEmbed) (int64, error) {
	channelID, ok := d.modlogs[guildID]
	if !ok || channelID == 0 {
		return 0, tickets.ErrNoModLog
	}
	msg, err := d.session.ChannelMessageSendEmbed(id(channelID), embed, discordgo.WithContext(ctx))
	if err != nil {
		return 0, Classify(err)
	}
	msgID, err := strconv.ParseInt(msg.ID, 10, 64)
	if err != nil {
		d.logger.Warn("unexpected message id", "guild_id", guildID, "message_id", msg.ID)
		return 0, nil
	}
	return msgID, nil
}
