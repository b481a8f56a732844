package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"moderation-bot/moderation"
	"moderation-bot/tickets"
	"moderation-bot/utils"

	"github.com/bwmarrin/discordgo"
)

const commandTimeout = 30 * time.Second

// CommandFunc answers one slash command.
type CommandFunc func(s utils.Responder, i *discordgo.InteractionCreate)

// Moderation answers the moderation slash commands.
type Moderation struct {
	sched     *moderation.Scheduler
	moderator *moderation.Moderator
	tickets   *tickets.Store
	muteRoles map[int64]int64
	logger    *slog.Logger
}

// NewModeration creates the moderation command handlers. muteRoles maps a
// guild to the role /mute assigns.
func NewModeration(sched *moderation.Scheduler, moderator *moderation.Moderator, store *tickets.Store, muteRoles map[int64]int64, logger *slog.Logger) *Moderation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Moderation{
		sched:     sched,
		moderator: moderator,
		tickets:   store,
		muteRoles: muteRoles,
		logger:    logger.With("component", "commands"),
	}
}

// Commands maps each command name to its handler.
func (m *Moderation) Commands() map[string]CommandFunc {
	return map[string]CommandFunc{
		"mute":          m.timed(tickets.Mute),
		"tempban":       m.timed(tickets.Ban),
		"unmute":        m.release,
		"unban":         m.unban,
		"ban":           m.act(tickets.Ban, false, 0),
		"softban":       m.act(tickets.Ban, true, 1),
		"hackban":       m.act(tickets.Hackban, false, 1),
		"kick":          m.act(tickets.Kick, false, 0),
		"note":          m.act(tickets.Note, false, 0),
		"tickets":       m.history,
		"delete-ticket": m.deleteTicket,
	}
}

type invocation struct {
	guildID     int64
	moderatorID int64
	members     []int64
	user        int64
	ticketID    int64
	deleteDays  *int
	duration    string
	reason      string
}

func parseInvocation(i *discordgo.InteractionCreate) (invocation, error) {
	var inv invocation
	guildID, err := strconv.ParseInt(i.GuildID, 10, 64)
	if err != nil {
		return inv, errors.New("this command can only be used in a server")
	}
	inv.guildID = guildID

	var author *discordgo.User
	if i.Member != nil {
		author = i.Member.User
	} else {
		author = i.User
	}
	if author == nil {
		return inv, errors.New("could not determine who ran the command")
	}
	if inv.moderatorID, err = strconv.ParseInt(author.ID, 10, 64); err != nil {
		return inv, fmt.Errorf("invalid moderator id %q", author.ID)
	}

	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "members":
			inv.members = utils.ParseMemberIDs(opt.StringValue())
		case "duration":
			inv.duration = opt.StringValue()
		case "reason":
			inv.reason = opt.StringValue()
		case "delete_days":
			days := int(opt.IntValue())
			inv.deleteDays = &days
		case "ticket":
			inv.ticketID = opt.IntValue()
		case "user":
			u := opt.UserValue(nil)
			if inv.user, err = strconv.ParseInt(u.ID, 10, 64); err != nil {
				return inv, fmt.Errorf("invalid user id %q", u.ID)
			}
		}
	}
	return inv, nil
}

// begin parses the invocation, checks for members when needed and defers the
// reply. It reports false when the command has already been answered.
func (m *Moderation) begin(s utils.Responder, i *discordgo.InteractionCreate, command string, needMembers bool) (invocation, bool) {
	inv, err := parseInvocation(i)
	if err != nil {
		utils.SendErrorResponse(s, i.Interaction, err.Error())
		return inv, false
	}
	if needMembers && len(inv.members) == 0 {
		utils.SendErrorResponse(s, i.Interaction, "No members given. Use mentions or ids.")
		return inv, false
	}
	if err := utils.DeferResponse(s, i.Interaction, true); err != nil {
		m.logger.Warn("failed to defer response", "command", command, "error", err)
		return inv, false
	}
	return inv, true
}

// reply sends the per-member outcome lines, followed by the error if the
// action did not complete.
func (m *Moderation) reply(s utils.Responder, i *discordgo.InteractionCreate, command string, guildID int64, res *moderation.Result, err error) {
	var lines []string
	if res != nil {
		lines = res.Lines()
	}
	if err != nil {
		m.logger.Error("moderation command failed", "command", command, "guild_id", guildID, "error", err)
		lines = append(lines, "❌ "+err.Error())
	}
	utils.SendFollowUp(s, i.Interaction, lines...)
}

func outcomeLines(outcomes []moderation.Outcome) []string {
	lines := make([]string, len(outcomes))
	for n, o := range outcomes {
		lines[n] = o.Line()
	}
	return lines
}

func (m *Moderation) timed(typ tickets.Type) CommandFunc {
	command := "temp" + typ.String()
	if typ == tickets.Mute {
		command = "mute"
	}
	return func(s utils.Responder, i *discordgo.InteractionCreate) {
		inv, err := parseInvocation(i)
		if err != nil {
			utils.SendErrorResponse(s, i.Interaction, err.Error())
			return
		}
		if len(inv.members) == 0 {
			utils.SendErrorResponse(s, i.Interaction, "No members given. Use mentions or ids.")
			return
		}
		d, err := utils.ParseDuration(inv.duration)
		if err != nil {
			utils.SendErrorResponse(s, i.Interaction, fmt.Sprintf("Invalid duration %q: %v", inv.duration, err))
			return
		}
		req := moderation.TimedRequest{
			GuildID:     inv.guildID,
			ModeratorID: inv.moderatorID,
			MemberIDs:   inv.members,
			Duration:    d,
			Reason:      inv.reason,
			Type:        typ,
		}
		if typ == tickets.Mute {
			role, ok := m.muteRoles[inv.guildID]
			if !ok {
				utils.SendErrorResponse(s, i.Interaction, "No mute role is configured for this server.")
				return
			}
			req.RoleID = role
		}

		if err := utils.DeferResponse(s, i.Interaction, true); err != nil {
			m.logger.Warn("failed to defer response", "command", command, "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		res, err := m.sched.NewTimedAction(ctx, req)
		m.reply(s, i, command, inv.guildID, res, err)
	}
}

func (m *Moderation) release(s utils.Responder, i *discordgo.InteractionCreate) {
	inv, ok := m.begin(s, i, "unmute", true)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	outcomes := m.sched.Release(ctx, inv.guildID, inv.members, inv.reason)
	utils.SendFollowUp(s, i.Interaction, outcomeLines(outcomes)...)
}

func (m *Moderation) unban(s utils.Responder, i *discordgo.InteractionCreate) {
	inv, ok := m.begin(s, i, "unban", true)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	outcomes, err := m.moderator.Unban(ctx, inv.guildID, inv.moderatorID, inv.members, inv.reason)
	if err != nil {
		utils.SendFollowUpError(s, i.Interaction, err.Error())
		return
	}
	utils.SendFollowUp(s, i.Interaction, outcomeLines(outcomes)...)
}

// act answers the one-shot actions. defaultDays is the message history a
// ban deletes when the moderator does not say.
func (m *Moderation) act(typ tickets.Type, soft bool, defaultDays int) CommandFunc {
	command := typ.String()
	if soft {
		command = "softban"
	}
	return func(s utils.Responder, i *discordgo.InteractionCreate) {
		inv, ok := m.begin(s, i, command, true)
		if !ok {
			return
		}
		days := defaultDays
		if inv.deleteDays != nil {
			days = *inv.deleteDays
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		res, err := m.moderator.Act(ctx, moderation.Request{
			GuildID:     inv.guildID,
			ModeratorID: inv.moderatorID,
			MemberIDs:   inv.members,
			Reason:      inv.reason,
			Type:        typ,
			DeleteDays:  days,
			Soft:        soft,
		})
		m.reply(s, i, command, inv.guildID, res, err)
	}
}

const guildHistoryLimit = 15

func (m *Moderation) history(s utils.Responder, i *discordgo.InteractionCreate) {
	inv, ok := m.begin(s, i, "tickets", false)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var (
		ts  []*tickets.Ticket
		err error
	)
	if inv.user != 0 {
		ts, err = m.tickets.ForMember(ctx, inv.guildID, inv.user)
	} else {
		ts, err = m.tickets.ForGuild(ctx, inv.guildID)
		if len(ts) > guildHistoryLimit {
			ts = ts[len(ts)-guildHistoryLimit:]
		}
	}
	if err != nil {
		m.logger.Error("failed to load history", "guild_id", inv.guildID, "member_id", inv.user, "error", err)
		utils.SendFollowUpError(s, i.Interaction, "Could not load the moderation history.")
		return
	}
	pending, err := m.sched.Pending(ctx, inv.guildID)
	if err != nil {
		m.logger.Warn("failed to load pending timed actions", "guild_id", inv.guildID, "error", err)
	}
	utils.SendFollowUp(s, i.Interaction, historyLines(inv.user, ts, pending)...)
}

func historyLines(memberID int64, ts []*tickets.Ticket, pending map[int64]*tickets.TimedDetails) []string {
	subject := "this server"
	if memberID != 0 {
		subject = fmt.Sprintf("<@%d>", memberID)
	}
	if len(ts) == 0 {
		if memberID == 0 {
			return []string{"This server has no tickets."}
		}
		return []string{subject + " has no tickets."}
	}
	lines := make([]string, 0, len(ts)+1)
	lines = append(lines, fmt.Sprintf("Tickets for %s:", subject))
	for _, t := range ts {
		reason := t.Reason
		if reason == "" {
			reason = "No reason provided."
		}
		line := fmt.Sprintf("#%d %s <t:%d:d> by <@%d>: %s", t.ID, t.Type, t.CreatedAt.Unix(), t.ModeratorID, reason)
		if timed := pending[t.ID]; timed != nil {
			line += fmt.Sprintf(" (lifted <t:%d:R>)", timed.ExpiresAt.Unix())
		}
		lines = append(lines, line)
	}
	return lines
}

func (m *Moderation) deleteTicket(s utils.Responder, i *discordgo.InteractionCreate) {
	inv, ok := m.begin(s, i, "delete-ticket", false)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	t, err := m.tickets.Get(ctx, inv.ticketID)
	if err != nil || t.GuildID != inv.guildID {
		utils.SendFollowUpError(s, i.Interaction, fmt.Sprintf("Ticket #%d does not exist in this server.", inv.ticketID))
		return
	}
	pending, err := m.sched.Pending(ctx, inv.guildID)
	if err != nil {
		m.logger.Error("failed to load pending timed actions", "guild_id", inv.guildID, "error", err)
		utils.SendFollowUpError(s, i.Interaction, fmt.Sprintf("Could not delete ticket #%d.", t.ID))
		return
	}
	if pending[t.ID] != nil {
		utils.SendFollowUpError(s, i.Interaction, fmt.Sprintf("Ticket #%d still has a pending timed action. Lift it first.", t.ID))
		return
	}
	if err := m.tickets.Delete(ctx, t.ID); err != nil {
		m.logger.Error("failed to delete ticket", "ticket_id", t.ID, "guild_id", inv.guildID, "error", err)
		utils.SendFollowUpError(s, i.Interaction, fmt.Sprintf("Could not delete ticket #%d.", t.ID))
		return
	}
	m.logger.Info("ticket deleted", "ticket_id", t.ID, "guild_id", inv.guildID, "moderator_id", inv.moderatorID)
	utils.SendFollowUp(s, i.Interaction, fmt.Sprintf("✅ Ticket #%d deleted.", t.ID))
}
