package tickets

import "moderation-bot/registry"

const (
	TicketTable       = "moderation_tickets"
	TicketMemberTable = "moderation_ticket_members"
)

var ticketSchema = registry.NewSchema(TicketTable,
	registry.Column{Name: "ticket_id", Type: registry.Int, Primary: true, AutoIncrement: true},
	registry.Column{Name: registry.AppColumn, Type: registry.ShortString, Required: true},
	registry.Column{Name: "guild_id", Type: registry.Snowflake, Required: true},
	registry.Column{Name: "moderator_id", Type: registry.Snowflake, Required: true},
	registry.Column{Name: "reason", Type: registry.Text},
	registry.Column{Name: "created_at", Type: registry.Timestamp, Required: true},
	registry.Column{Name: "type", Type: registry.Int, Required: true},
	registry.Column{Name: "message_id", Type: registry.Snowflake},
)

var ticketMemberSchema = registry.NewSchema(TicketMemberTable,
	registry.Column{Name: "ticket_id", Type: registry.Int, Primary: true, Required: true},
	registry.Column{Name: "member_id", Type: registry.Snowflake, Primary: true, Required: true},
	registry.ForeignKey{
		Columns:    []string{"ticket_id"},
		RefTable:   TicketTable,
		RefColumns: []string{"ticket_id"},
		OnDelete:   registry.Cascade,
	},
)

// Schemas returns the tables owned by the ticket store, parents first.
func Schemas() []registry.Schema {
	return []registry.Schema{ticketSchema, ticketMemberSchema}
}

type memberRow struct {
	TicketID int64 `db:"ticket_id"`
	MemberID int64 `db:"member_id"`
}
