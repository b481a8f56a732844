package moderation

import (
	"time"

	"moderation-bot/registry"
	"moderation-bot/tickets"
)

const (
	GroupTable       = "timed_action_groups"
	GroupMemberTable = "timed_action_members"
	GroupTicketView  = "timed_action_tickets"
)

var groupSchema = registry.NewSchema(GroupTable,
	registry.Column{Name: registry.AppColumn, Type: registry.ShortString, Primary: true, Required: true},
	registry.Column{Name: "group_id", Type: registry.Snowflake, Primary: true, Required: true},
	registry.Column{Name: "ticket_id", Type: registry.Int, Required: true},
	registry.Column{Name: "role_id", Type: registry.Snowflake, Required: true, Default: 0},
	registry.Column{Name: "unmute_timestamp", Type: registry.Int, Required: true},
	registry.Column{Name: "moderator_id", Type: registry.Snowflake, Required: true},
	registry.Column{Name: "duration", Type: registry.Int, Required: true},
	registry.ForeignKey{
		Columns:    []string{"ticket_id"},
		RefTable:   tickets.TicketTable,
		RefColumns: []string{"ticket_id"},
	},
)

var groupMemberSchema = registry.NewSchema(GroupMemberTable,
	registry.Column{Name: registry.AppColumn, Type: registry.ShortString, Primary: true, Required: true},
	registry.Column{Name: "group_id", Type: registry.Snowflake, Primary: true, Required: true},
	registry.Column{Name: "member_id", Type: registry.Snowflake, Primary: true, Required: true},
	registry.ForeignKey{
		Columns:    registry.Cols("app, group_id"),
		RefTable:   GroupTable,
		RefColumns: registry.Cols("app, group_id"),
		OnDelete:   registry.Cascade,
	},
)

var groupTicketView = registry.View{
	Name: GroupTicketView,
	Columns: []string{
		registry.AppColumn, "group_id", "role_id", "unmute_timestamp", "duration",
		"ticket_id", "guild_id", "moderator_id", "reason", "created_at", "type", "message_id",
	},
	Query: `SELECT g.app AS app, g.group_id AS group_id, g.role_id AS role_id,
	g.unmute_timestamp AS unmute_timestamp, g.duration AS duration,
	t.ticket_id AS ticket_id, t.guild_id AS guild_id, t.moderator_id AS moderator_id,
	t.reason AS reason, t.created_at AS created_at, t.type AS type, t.message_id AS message_id
FROM timed_action_groups AS g
JOIN moderation_tickets AS t ON t.ticket_id = g.ticket_id AND t.app = g.app`,
}

// Schemas returns the tables owned by the scheduler, parents first.
func Schemas() []registry.Schema {
	return []registry.Schema{groupSchema, groupMemberSchema}
}

// Views returns the views owned by the scheduler.
func Views() []registry.View {
	return []registry.View{groupTicketView}
}

type memberRecord struct {
	App      string `db:"app"`
	GroupID  int64  `db:"group_id"`
	MemberID int64  `db:"member_id"`
}

// GroupTicket is one row of the ticket-with-group view.
type GroupTicket struct {
	tickets.Record
	GroupID         int64 `db:"group_id"`
	RoleID          int64 `db:"role_id"`
	UnmuteTimestamp int64 `db:"unmute_timestamp"`
	Duration        int64 `db:"duration"`
}

// Ticket converts the row into a ticket carrying its timed details.
func (r GroupTicket) Ticket(memberIDs []int64) *tickets.Ticket {
	t := r.Record.Ticket(memberIDs)
	t.Timed = &tickets.TimedDetails{
		GroupID:   r.GroupID,
		RoleID:    r.RoleID,
		Duration:  time.Duration(r.Duration) * time.Second,
		ExpiresAt: time.Unix(r.UnmuteTimestamp, 0).UTC(),
	}
	return t
}
