package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"moderation-bot/tickets"
)

// MaxDeleteDays is the most message history a ban can delete.
const MaxDeleteDays = 7

var ErrDeleteDays = fmt.Errorf("delete days must be between 0 and %d", MaxDeleteDays)

// Request describes a one-shot moderation action.
type Request struct {
	GuildID     int64
	ModeratorID int64
	MemberIDs   []int64
	Reason      string
	Type        tickets.Type

	// DeleteDays of message history are removed by a ban.
	DeleteDays int
	// Soft turns a ban into a softban: the member is unbanned right away,
	// so only their recent messages are removed.
	Soft bool
}

// Moderator performs actions that are not reversed automatically and records
// them as posted tickets.
type Moderator struct {
	platform Platform
	tickets  *tickets.Store
	sched    *Scheduler
	logger   *slog.Logger
}

// NewModerator creates a moderator. sched may be nil; when set, permanently
// banned members are detached from their temporary ban groups.
func NewModerator(platform Platform, store *tickets.Store, sched *Scheduler, logger *slog.Logger) *Moderator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Moderator{
		platform: platform,
		tickets:  store,
		sched:    sched,
		logger:   logger.With("component", "moderator"),
	}
}

// Act applies a kick, ban, hackban or note to every member and posts a ticket
// naming those it succeeded for.
func (m *Moderator) Act(ctx context.Context, req Request) (*Result, error) {
	apply, err := m.applier(req)
	if err != nil {
		return nil, err
	}
	members := dedupe(req.MemberIDs)
	if len(members) == 0 {
		return nil, ErrNoMembers
	}

	res := &Result{Outcomes: dispatch(ctx, members, apply)}
	applied := Succeeded(res.Outcomes)
	if len(applied) == 0 {
		return res, nil
	}
	if m.sched != nil && (req.Type == tickets.Ban || req.Type == tickets.Hackban) {
		m.sched.forget(ctx, req.GuildID, applied, tickets.Ban)
	}

	reason := req.Reason
	if req.Soft {
		reason = strings.TrimSuffix("Softban: "+reason, ": ")
	}
	ticket, status, err := m.tickets.Create(ctx, tickets.NewTicket{
		GuildID:     req.GuildID,
		ModeratorID: req.ModeratorID,
		MemberIDs:   applied,
		Reason:      reason,
		Type:        req.Type,
	}, true)
	if ticket == nil {
		return res, err
	}
	res.Ticket, res.Post = ticket, status
	if status == tickets.PostFailed {
		res.PostErr = err
	}
	m.logger.Info("moderation action recorded", "ticket_id", ticket.ID, "guild_id", req.GuildID,
		"type", req.Type.String(), "members", len(applied), "post", status.String())
	return res, nil
}

// Unban lifts bans without recording a ticket. Members are also detached
// from any temporary ban group so nothing unbans them a second time.
func (m *Moderator) Unban(ctx context.Context, guildID, moderatorID int64, memberIDs []int64, reason string) ([]Outcome, error) {
	members := dedupe(memberIDs)
	if len(members) == 0 {
		return nil, ErrNoMembers
	}
	audit := auditReason(moderatorID, reason)
	outcomes := dispatch(ctx, members, func(ctx context.Context, id int64) error {
		return m.platform.Unban(ctx, guildID, id, audit)
	})
	var lifted []int64
	for _, o := range outcomes {
		if o.State == Success || o.State == NotFound {
			lifted = append(lifted, o.MemberID)
		}
	}
	if m.sched != nil && len(lifted) > 0 {
		m.sched.forget(ctx, guildID, lifted, tickets.Ban)
	}
	m.logger.Info("members unbanned", "guild_id", guildID, "members", len(Succeeded(outcomes)))
	return outcomes, nil
}

func (m *Moderator) applier(req Request) (func(ctx context.Context, memberID int64) error, error) {
	if req.DeleteDays < 0 || req.DeleteDays > MaxDeleteDays {
		return nil, fmt.Errorf("%w: %d", ErrDeleteDays, req.DeleteDays)
	}
	if req.Soft && req.Type != tickets.Ban {
		return nil, fmt.Errorf("%w: soft %s", ErrUnsupportedAction, req.Type)
	}
	audit := auditReason(req.ModeratorID, req.Reason)
	if req.Soft {
		return func(ctx context.Context, id int64) error {
			if err := m.platform.Ban(ctx, req.GuildID, id, req.DeleteDays, audit); err != nil {
				return err
			}
			if err := m.platform.Unban(ctx, req.GuildID, id, audit); err != nil {
				return fmt.Errorf("banned but not unbanned: %v", err)
			}
			return nil
		}, nil
	}
	switch req.Type {
	case tickets.Note:
		return func(context.Context, int64) error { return nil }, nil
	case tickets.Kick:
		return func(ctx context.Context, id int64) error { return m.platform.Kick(ctx, req.GuildID, id, audit) }, nil
	case tickets.Ban, tickets.Hackban:
		return func(ctx context.Context, id int64) error {
			return m.platform.Ban(ctx, req.GuildID, id, req.DeleteDays, audit)
		}, nil
	default:
		return nil, fmt.Errorf("%w: one-shot %s", ErrUnsupportedAction, req.Type)
	}
}
